package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/confidant/internal/cli"
	"github.com/cloo-solutions/confidant/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "confidant",
		Short: "Confidant CLI - Privacy-enforcing chatbot knowledge",
		Long: `Confidant CLI provides commands to manage chatbot knowledge sources
and ask questions against them.

Environment variables:
  CONFIDANT_API_KEY   API key for authentication (required)
  CONFIDANT_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.InitCmd())
	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.AddCmd())
	rootCmd.AddCommand(client.GetCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.ReclassifyCmd())
	rootCmd.AddCommand(client.DeleteCmd())
	rootCmd.AddCommand(client.TranscriptCmd())
	rootCmd.AddCommand(client.AuthCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

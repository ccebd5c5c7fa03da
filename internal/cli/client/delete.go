package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func DeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <source_id>",
		Short: "Delete a source",
		Long: `Delete a knowledge source and its indexed chunks.

Deleted sources stop informing answers immediately; the retrieval cache
for the owning chatbot is invalidated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runDelete(args[0], force, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func runDelete(sourceID string, force, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	if !force {
		fmt.Printf("Delete source %s? [y/N] ", sourceID)
		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if answer := strings.ToLower(strings.TrimSpace(input)); answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if _, err := api.Delete(fmt.Sprintf("/sources/%s", sourceID)); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"id":     sourceID,
			"status": "deleted",
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Deleted source: %s\n", sourceID)
	}

	return nil
}

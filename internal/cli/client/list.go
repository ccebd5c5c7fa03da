package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ListCmd creates the list command.
func ListCmd() *cobra.Command {
	var (
		chatbotID      string
		classification string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sources",
		Long:  "Lists the knowledge sources registered for the workspace chatbot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runList(chatbotID, classification, outputJSON)
		},
	}

	cmd.Flags().StringVar(&chatbotID, "chatbot", "", "Override chatbot ID from config")
	cmd.Flags().StringVarP(&classification, "classification", "c", "", "Filter by classification (citable|private)")

	return cmd
}

func runList(chatbotID, classification string, outputJSON bool) error {
	if chatbotID == "" {
		config, err := LoadConfig()
		if err != nil {
			return err
		}
		chatbotID = config.ChatbotID
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/sources?chatbot_id=%s", chatbotID))
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	var sources []Source
	if err := json.Unmarshal(resp.Data, &sources); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if classification != "" {
		filtered := sources[:0]
		for _, s := range sources {
			if s.Classification == classification {
				filtered = append(filtered, s)
			}
		}
		sources = filtered
	}

	if outputJSON {
		output, _ := json.MarshalIndent(sources, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(sources) == 0 {
		fmt.Println("No sources found.")
		return nil
	}

	fmt.Printf("Found %d sources:\n\n", len(sources))
	for i, s := range sources {
		fmt.Printf("%d. %s [%s]\n", i+1, s.Name, s.Classification)
		if s.Priority != 0 {
			fmt.Printf("   Priority: %.2f\n", s.Priority)
		}
		fmt.Printf("   Updated: %s\n", s.UpdatedAt)
		fmt.Printf("   ID: %s\n", s.ID)
		if i < len(sources)-1 {
			fmt.Println(strings.Repeat("-", 40))
		}
	}

	return nil
}

package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// Source represents a knowledge source from the API.
type Source struct {
	ID             string  `json:"id"`
	OrgID          string  `json:"org_id"`
	ChatbotID      string  `json:"chatbot_id"`
	Name           string  `json:"name"`
	Classification string  `json:"classification"`
	Priority       float64 `json:"priority"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// GetCmd creates the get command.
func GetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "get <source_id>",
		Short:   "Get a source by ID",
		Long:    "Retrieves a knowledge source by its ID and displays its metadata.",
		Aliases: []string{"view"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runGet(args[0], outputJSON)
		},
	}

	return cmd
}

func runGet(sourceID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/sources/%s", sourceID))
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}

	var source Source
	if err := json.Unmarshal(resp.Data, &source); err != nil {
		return fmt.Errorf("failed to parse source: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(source, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Name: %s\n", source.Name)
		fmt.Printf("Classification: %s\n", source.Classification)
		if source.Priority != 0 {
			fmt.Printf("Priority: %.2f\n", source.Priority)
		}
		fmt.Printf("Chatbot: %s\n", source.ChatbotID)
		fmt.Printf("Created: %s\n", source.CreatedAt)
		fmt.Printf("Updated: %s\n", source.UpdatedAt)
		fmt.Printf("ID: %s\n", source.ID)
	}

	return nil
}

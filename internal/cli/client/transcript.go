package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Turn represents one message in a conversation transcript.
type Turn struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt string     `json:"created_at"`
}

// Transcript represents a full conversation from the API.
type Transcript struct {
	ID        string `json:"id"`
	ChatbotID string `json:"chatbot_id"`
	CreatedAt string `json:"created_at"`
	Turns     []Turn `json:"turns"`
}

// TranscriptCmd creates the transcript command.
func TranscriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript <conversation_id>",
		Short: "Show a conversation transcript",
		Long:  "Retrieves a conversation and prints its turns in order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runTranscript(args[0], outputJSON)
		},
	}

	return cmd
}

func runTranscript(conversationID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/conversations/%s", conversationID))
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}

	var transcript Transcript
	if err := json.Unmarshal(resp.Data, &transcript); err != nil {
		return fmt.Errorf("failed to parse conversation: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(transcript, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Conversation: %s\n", transcript.ID)
	fmt.Printf("Chatbot: %s\n", transcript.ChatbotID)
	fmt.Printf("Started: %s\n", transcript.CreatedAt)
	fmt.Println()

	for _, turn := range transcript.Turns {
		fmt.Printf("[%s] %s\n", turn.Role, turn.Text)
		for _, c := range turn.Citations {
			fmt.Printf("    [%d] %s\n", c.Index, c.SourceID)
		}
		fmt.Println(strings.Repeat("-", 40))
	}

	return nil
}

package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// QueryAPIRequest represents the query API request.
type QueryAPIRequest struct {
	ChatbotID      string `json:"chatbot_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Query          string `json:"query"`
}

// Citation ties a marker in the answer text to the source it quotes.
type Citation struct {
	Index    int    `json:"index"`
	SourceID string `json:"source_id"`
}

// QueryAPIResponse represents the query API response.
type QueryAPIResponse struct {
	AnswerText     string     `json:"answer_text"`
	Citations      []Citation `json:"citations"`
	ConversationID string     `json:"conversation_id"`
	LatencyMS      int64      `json:"latency_ms"`
	CostUSD        float64    `json:"cost_usd"`
	Degraded       bool       `json:"degraded,omitempty"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		conversationID string
		chatbotID      string
		stream         bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the chatbot a question",
		Long: `Ask a question against the chatbot's knowledge sources.

Pass --conversation to continue an existing conversation; the returned
conversation ID can be reused for follow-up questions. With --stream the
answer is printed incrementally as vetted windows arrive.

Examples:
  confidant ask "What is our refund policy?"
  confidant ask --stream "Summarize the onboarding checklist"
  confidant ask --conversation 8f14e45f "And what about contractors?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if stream {
				return runAskStream(args[0], chatbotID, conversationID)
			}
			return runAsk(args[0], chatbotID, conversationID, outputJSON)
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID to continue")
	cmd.Flags().StringVar(&chatbotID, "chatbot", "", "Override chatbot ID from config")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the answer as it is generated")

	return cmd
}

func buildQueryRequest(question, chatbotID, conversationID string) (*QueryAPIRequest, error) {
	if chatbotID == "" {
		config, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		chatbotID = config.ChatbotID
	}

	return &QueryAPIRequest{
		ChatbotID:      chatbotID,
		ConversationID: conversationID,
		Query:          question,
	}, nil
}

func runAsk(question, chatbotID, conversationID string, outputJSON bool) error {
	req, err := buildQueryRequest(question, chatbotID, conversationID)
	if err != nil {
		return err
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/query", req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var result QueryAPIResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	printAnswer(&result)
	return nil
}

func runAskStream(question, chatbotID, conversationID string) error {
	req, err := buildQueryRequest(question, chatbotID, conversationID)
	if err != nil {
		return err
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	var streamed strings.Builder
	var final *QueryAPIResponse

	err = api.PostStream("/query/stream", req, func(ev StreamEvent) error {
		switch ev.Event {
		case "delta":
			var delta struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(ev.Data, &delta); err != nil {
				return fmt.Errorf("failed to parse delta: %w", err)
			}
			streamed.WriteString(delta.Text)
			fmt.Print(delta.Text)
		case "done":
			var result QueryAPIResponse
			if err := json.Unmarshal(ev.Data, &result); err != nil {
				return fmt.Errorf("failed to parse result: %w", err)
			}
			final = &result
		case "error":
			var msg struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				return fmt.Errorf("stream failed")
			}
			return fmt.Errorf("stream failed: %s", msg.Error)
		}
		return nil
	})
	if err != nil {
		fmt.Println()
		return err
	}

	if final == nil {
		fmt.Println()
		return fmt.Errorf("stream ended without a result")
	}

	// The final vetted answer wins when the sentinel rewrote the
	// streamed text.
	if final.AnswerText != streamed.String() {
		fmt.Printf("\n\n--- Final answer ---\n%s\n", final.AnswerText)
	} else {
		fmt.Println()
	}

	printAnswerMeta(final)
	return nil
}

func printAnswer(result *QueryAPIResponse) {
	fmt.Println(result.AnswerText)
	printAnswerMeta(result)
}

func printAnswerMeta(result *QueryAPIResponse) {
	if len(result.Citations) > 0 {
		fmt.Println()
		fmt.Println("Citations:")
		for _, c := range result.Citations {
			fmt.Printf("  [%d] %s\n", c.Index, c.SourceID)
		}
	}
	fmt.Println()
	if result.Degraded {
		fmt.Println("Note: answered without retrieval (degraded)")
	}
	fmt.Printf("Conversation: %s\n", result.ConversationID)
	fmt.Printf("Latency: %dms, Cost: $%.4f\n", result.LatencyMS, result.CostUSD)
}

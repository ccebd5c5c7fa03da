package domain

import (
	"fmt"
	"time"
)

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Conversation groups the turns of one user/chatbot exchange.
type Conversation struct {
	ID        string
	OrgID     string
	ChatbotID string
	CreatedAt time.Time
}

// Turn is one entry in an append-only conversation transcript.
type Turn struct {
	ID             string
	ConversationID string
	Role           TurnRole
	Text           string
	Citations      []Citation
	CreatedAt      time.Time
}

// ValidateTurn validates a Turn instance
func ValidateTurn(t *Turn) error {
	if t == nil {
		return fmt.Errorf("turn cannot be nil")
	}
	if t.ConversationID == "" {
		return fmt.Errorf("turn ConversationID is required")
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("turn Role must be user or assistant")
	}
	if t.Text == "" {
		return fmt.Errorf("turn Text is required")
	}
	return nil
}

// HistoryMessage is a prior turn supplied by the caller with a query.
type HistoryMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

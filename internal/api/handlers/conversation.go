package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/confidant/internal/api"
	"github.com/cloo-solutions/confidant/internal/api/middleware"
	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/go-chi/chi/v5"
)

type ConversationReader interface {
	GetByID(ctx context.Context, orgID, id string) (*domain.Conversation, error)
	Transcript(ctx context.Context, orgID, conversationID string) ([]domain.Turn, error)
}

type ConversationHandler struct {
	repo ConversationReader
}

func NewConversationHandler(repo ConversationReader) *ConversationHandler {
	return &ConversationHandler{repo: repo}
}

type TurnResponse struct {
	ID        string             `json:"id"`
	Role      string             `json:"role"`
	Text      string             `json:"text"`
	Citations []CitationResponse `json:"citations,omitempty"`
	CreatedAt string             `json:"created_at"`
}

type ConversationResponse struct {
	ID        string         `json:"id"`
	ChatbotID string         `json:"chatbot_id"`
	CreatedAt string         `json:"created_at"`
	Turns     []TurnResponse `json:"turns"`
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	if orgID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	conv, err := h.repo.GetByID(r.Context(), orgID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	turns, err := h.repo.Transcript(r.Context(), orgID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]TurnResponse, len(turns))
	for i, turn := range turns {
		citations := make([]CitationResponse, len(turn.Citations))
		for j, c := range turn.Citations {
			citations[j] = CitationResponse{Index: c.Index, SourceID: c.SourceID}
		}
		responses[i] = TurnResponse{
			ID:        turn.ID,
			Role:      string(turn.Role),
			Text:      turn.Text,
			Citations: citations,
			CreatedAt: turn.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	api.Success(w, http.StatusOK, ConversationResponse{
		ID:        conv.ID,
		ChatbotID: conv.ChatbotID,
		CreatedAt: conv.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Turns:     responses,
	})
}

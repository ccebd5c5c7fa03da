package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockConversationReader is a mock implementation of ConversationReader
type MockConversationReader struct {
	mock.Mock
}

func (m *MockConversationReader) GetByID(ctx context.Context, orgID, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, orgID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationReader) Transcript(ctx context.Context, orgID, conversationID string) ([]domain.Turn, error) {
	args := m.Called(ctx, orgID, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Turn), args.Error(1)
}

func TestConversationHandler_Get_Success(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mockRepo := new(MockConversationReader)
	mockRepo.On("GetByID", mock.Anything, "org-1", "conv-1").Return(&domain.Conversation{
		ID:        "conv-1",
		OrgID:     "org-1",
		ChatbotID: "bot-1",
		CreatedAt: now,
	}, nil)
	mockRepo.On("Transcript", mock.Anything, "org-1", "conv-1").Return([]domain.Turn{
		{ID: "turn-1", ConversationID: "conv-1", Role: domain.RoleUser, Text: "refunds?", CreatedAt: now},
		{ID: "turn-2", ConversationID: "conv-1", Role: domain.RoleAssistant, Text: "Within 30 days [1].",
			Citations: []domain.Citation{{Index: 1, SourceID: "src-1"}}, CreatedAt: now},
	}, nil)

	handler := NewConversationHandler(mockRepo)

	req := withURLParam(authedRequest(http.MethodGet, "/v1/conversations/conv-1", nil), "id", "conv-1")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data ConversationResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "conv-1", resp.Data.ID)
	require.Len(t, resp.Data.Turns, 2)
	assert.Equal(t, "user", resp.Data.Turns[0].Role)
	require.Len(t, resp.Data.Turns[1].Citations, 1)
	assert.Equal(t, "src-1", resp.Data.Turns[1].Citations[0].SourceID)
	mockRepo.AssertExpectations(t)
}

func TestConversationHandler_Get_NotFound(t *testing.T) {
	mockRepo := new(MockConversationReader)
	mockRepo.On("GetByID", mock.Anything, "org-1", "conv-missing").Return(nil, domain.ErrConversationNotFound)

	handler := NewConversationHandler(mockRepo)

	req := withURLParam(authedRequest(http.MethodGet, "/v1/conversations/conv-missing", nil), "id", "conv-missing")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversationHandler_Get_Unauthorized(t *testing.T) {
	handler := NewConversationHandler(new(MockConversationReader))

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/conv-1", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

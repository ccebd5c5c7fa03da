package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/confidant/internal/api/middleware"
	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockQueryPipeline is a mock implementation of QueryPipeline
type MockQueryPipeline struct {
	mock.Mock
}

func (m *MockQueryPipeline) Query(ctx context.Context, req pipeline.QueryRequest) (*domain.QueryResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueryResult), args.Error(1)
}

func (m *MockQueryPipeline) QueryStream(ctx context.Context, req pipeline.QueryRequest, streamer pipeline.StreamGenerator, guard pipeline.SentinelService, windowChars int) (<-chan pipeline.QueryEvent, <-chan error) {
	args := m.Called(ctx, req, streamer, guard, windowChars)
	return args.Get(0).(<-chan pipeline.QueryEvent), args.Get(1).(<-chan error)
}

func authedRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.OrgIDKey, "org-1")
	return req.WithContext(ctx)
}

func TestQueryHandler_Query_Success(t *testing.T) {
	mockPipeline := new(MockQueryPipeline)
	mockPipeline.On("Query", mock.Anything, pipeline.QueryRequest{
		OrgID:     "org-1",
		ChatbotID: "bot-1",
		Query:     "What is the refund window?",
	}).Return(&domain.QueryResult{
		AnswerText:     "Returns are accepted within 30 days [1].",
		Citations:      []domain.Citation{{Index: 1, SourceID: "src-1"}},
		ConversationID: "conv-1",
		LatencyMS:      42,
		CostUSD:        0.0004,
	}, nil)

	handler := NewQueryHandler(mockPipeline, nil, nil, 240)

	body, _ := json.Marshal(QueryRequest{ChatbotID: "bot-1", Query: "What is the refund window?"})
	req := authedRequest(http.MethodPost, "/v1/query", body)
	w := httptest.NewRecorder()

	handler.Query(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data QueryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Returns are accepted within 30 days [1].", resp.Data.AnswerText)
	assert.Equal(t, "conv-1", resp.Data.ConversationID)
	require.Len(t, resp.Data.Citations, 1)
	assert.Equal(t, "src-1", resp.Data.Citations[0].SourceID)
	mockPipeline.AssertExpectations(t)
}

func TestQueryHandler_Query_MissingFields(t *testing.T) {
	handler := NewQueryHandler(new(MockQueryPipeline), nil, nil, 240)

	body, _ := json.Marshal(QueryRequest{ChatbotID: "bot-1"})
	req := authedRequest(http.MethodPost, "/v1/query", body)
	w := httptest.NewRecorder()

	handler.Query(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "query is required")
}

func TestQueryHandler_Query_Unauthorized(t *testing.T) {
	handler := NewQueryHandler(new(MockQueryPipeline), nil, nil, 240)

	body, _ := json.Marshal(QueryRequest{ChatbotID: "bot-1", Query: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.Query(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQueryHandler_Query_BudgetExceeded(t *testing.T) {
	mockPipeline := new(MockQueryPipeline)
	mockPipeline.On("Query", mock.Anything, mock.Anything).Return(nil, domain.ErrBudgetExceeded)

	handler := NewQueryHandler(mockPipeline, nil, nil, 240)

	body, _ := json.Marshal(QueryRequest{ChatbotID: "bot-1", Query: "hi"})
	req := authedRequest(http.MethodPost, "/v1/query", body)
	w := httptest.NewRecorder()

	handler.Query(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestQueryHandler_QueryStream_DeliversEvents(t *testing.T) {
	events := make(chan pipeline.QueryEvent, 3)
	errs := make(chan error, 1)
	events <- pipeline.QueryEvent{Delta: "Returns are accepted "}
	events <- pipeline.QueryEvent{Delta: "within 30 days."}
	events <- pipeline.QueryEvent{Done: true, Result: &domain.QueryResult{
		AnswerText:     "Returns are accepted within 30 days.",
		ConversationID: "conv-1",
	}}
	close(events)

	mockPipeline := new(MockQueryPipeline)
	mockPipeline.On("QueryStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 240).
		Return((<-chan pipeline.QueryEvent)(events), (<-chan error)(errs))

	handler := NewQueryHandler(mockPipeline, nil, nil, 240)

	body, _ := json.Marshal(QueryRequest{ChatbotID: "bot-1", Query: "refunds?"})
	req := authedRequest(http.MethodPost, "/v1/query/stream", body)
	w := httptest.NewRecorder()

	handler.QueryStream(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Contains(t, out, "event: delta")
	assert.Contains(t, out, "Returns are accepted ")
	assert.Contains(t, out, "event: done")
	assert.Contains(t, out, "conv-1")
	mockPipeline.AssertExpectations(t)
}

func TestQueryHandler_QueryStream_ErrorEvent(t *testing.T) {
	events := make(chan pipeline.QueryEvent)
	errs := make(chan error, 1)
	errs <- domain.ErrQueryTimedOut
	close(events)

	mockPipeline := new(MockQueryPipeline)
	mockPipeline.On("QueryStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 240).
		Return((<-chan pipeline.QueryEvent)(events), (<-chan error)(errs))

	handler := NewQueryHandler(mockPipeline, nil, nil, 240)

	body, _ := json.Marshal(QueryRequest{ChatbotID: "bot-1", Query: "refunds?"})
	req := authedRequest(http.MethodPost, "/v1/query/stream", body)
	w := httptest.NewRecorder()

	handler.QueryStream(w, req)

	assert.Contains(t, w.Body.String(), "event: error")
	assert.Contains(t, w.Body.String(), "deadline")
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cloo-solutions/confidant/internal/api"
	"github.com/cloo-solutions/confidant/internal/api/middleware"
	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/pipeline"
)

// QueryPipeline runs one user query end to end.
type QueryPipeline interface {
	Query(ctx context.Context, req pipeline.QueryRequest) (*domain.QueryResult, error)
	QueryStream(ctx context.Context, req pipeline.QueryRequest, streamer pipeline.StreamGenerator, guard pipeline.SentinelService, windowChars int) (<-chan pipeline.QueryEvent, <-chan error)
}

type QueryHandler struct {
	orch        QueryPipeline
	streamer    pipeline.StreamGenerator
	guard       pipeline.SentinelService
	windowChars int
}

func NewQueryHandler(orch QueryPipeline, streamer pipeline.StreamGenerator, guard pipeline.SentinelService, windowChars int) *QueryHandler {
	return &QueryHandler{
		orch:        orch,
		streamer:    streamer,
		guard:       guard,
		windowChars: windowChars,
	}
}

type QueryRequest struct {
	ChatbotID      string                  `json:"chatbot_id"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	Query          string                  `json:"query"`
	History        []HistoryMessageRequest `json:"history,omitempty"`
}

type HistoryMessageRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type CitationResponse struct {
	Index    int    `json:"index"`
	SourceID string `json:"source_id"`
}

type QueryResponse struct {
	AnswerText     string             `json:"answer_text"`
	Citations      []CitationResponse `json:"citations"`
	ConversationID string             `json:"conversation_id"`
	LatencyMS      int64              `json:"latency_ms"`
	CostUSD        float64            `json:"cost_usd"`
	Degraded       bool               `json:"degraded,omitempty"`
}

func queryToResponse(res *domain.QueryResult) *QueryResponse {
	citations := make([]CitationResponse, len(res.Citations))
	for i, c := range res.Citations {
		citations[i] = CitationResponse{Index: c.Index, SourceID: c.SourceID}
	}
	return &QueryResponse{
		AnswerText:     res.AnswerText,
		Citations:      citations,
		ConversationID: res.ConversationID,
		LatencyMS:      res.LatencyMS,
		CostUSD:        res.CostUSD,
		Degraded:       res.Degraded,
	}
}

func (h *QueryHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (pipeline.QueryRequest, bool) {
	orgID := middleware.GetOrgID(r.Context())
	if orgID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return pipeline.QueryRequest{}, false
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return pipeline.QueryRequest{}, false
	}

	if req.ChatbotID == "" {
		api.Error(w, http.StatusBadRequest, "chatbot_id is required")
		return pipeline.QueryRequest{}, false
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return pipeline.QueryRequest{}, false
	}

	var history []domain.HistoryMessage
	for _, m := range req.History {
		history = append(history, domain.HistoryMessage{Role: m.Role, Text: m.Text})
	}

	return pipeline.QueryRequest{
		OrgID:          orgID,
		ChatbotID:      req.ChatbotID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
		History:        history,
	}, true
}

// Query answers one question with a fully vetted response.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.orch.Query(r.Context(), req)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, queryToResponse(result))
}

// QueryStream answers one question over server-sent events. Each released
// window is emitted as a "delta" event; the terminal "done" event carries
// the final vetted result, which replaces the streamed text when the
// sentinel redacted it.
func (h *QueryHandler) QueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, errs := h.orch.QueryStream(r.Context(), req, h.streamer, h.guard, h.windowChars)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for event := range events {
		if event.Done {
			writeSSE(w, "done", queryToResponse(event.Result))
		} else {
			writeSSE(w, "delta", map[string]string{"text": event.Delta})
		}
		flusher.Flush()
	}

	// Nothing is sent on errs when the stream finished cleanly
	select {
	case err := <-errs:
		if err != nil {
			// Headers are already sent, so the error goes down the stream
			writeSSE(w, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
		}
	default:
	}
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

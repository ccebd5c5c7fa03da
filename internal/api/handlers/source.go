package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/confidant/internal/api"
	"github.com/cloo-solutions/confidant/internal/api/middleware"
	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/service"
	"github.com/go-chi/chi/v5"
)

type SourceService interface {
	Ingest(ctx context.Context, input service.IngestInput) (*domain.Source, error)
	Reclassify(ctx context.Context, orgID, sourceID string, classification domain.Classification) (*domain.Source, error)
	GetSource(ctx context.Context, orgID, sourceID string) (*domain.Source, error)
	ListSources(ctx context.Context, orgID, chatbotID string) ([]*domain.Source, error)
	Delete(ctx context.Context, orgID, sourceID string) error
}

type SourceHandler struct {
	svc SourceService
}

func NewSourceHandler(svc SourceService) *SourceHandler {
	return &SourceHandler{svc: svc}
}

type IngestSourceRequest struct {
	ChatbotID      string  `json:"chatbot_id"`
	Name           string  `json:"name"`
	Classification string  `json:"classification"`
	Priority       float64 `json:"priority"`
	Content        string  `json:"content"`
}

type ReclassifySourceRequest struct {
	Classification string `json:"classification"`
}

type SourceResponse struct {
	ID             string  `json:"id"`
	OrgID          string  `json:"org_id"`
	ChatbotID      string  `json:"chatbot_id"`
	Name           string  `json:"name"`
	Classification string  `json:"classification"`
	Priority       float64 `json:"priority"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func sourceToResponse(s *domain.Source) *SourceResponse {
	return &SourceResponse{
		ID:             s.ID,
		OrgID:          s.OrgID,
		ChatbotID:      s.ChatbotID,
		Name:           s.Name,
		Classification: string(s.Classification),
		Priority:       s.Priority,
		CreatedAt:      s.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:      s.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *SourceHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	if orgID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req IngestSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ChatbotID == "" {
		api.Error(w, http.StatusBadRequest, "chatbot_id is required")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	classification := domain.Classification(req.Classification)
	if !classification.IsValid() {
		api.Error(w, http.StatusBadRequest, "classification must be citable or private")
		return
	}

	source, err := h.svc.Ingest(r.Context(), service.IngestInput{
		OrgID:          orgID,
		ChatbotID:      req.ChatbotID,
		Name:           req.Name,
		Classification: classification,
		Priority:       req.Priority,
		Content:        req.Content,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, sourceToResponse(source))
}

func (h *SourceHandler) Reclassify(w http.ResponseWriter, r *http.Request) {
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

	var req ReclassifySourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	classification := domain.Classification(req.Classification)
	if !classification.IsValid() {
		api.Error(w, http.StatusBadRequest, "classification must be citable or private")
		return
	}

	source, err := h.svc.Reclassify(r.Context(), orgID, id, classification)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, sourceToResponse(source))
}

func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	source, err := h.svc.GetSource(r.Context(), orgID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, sourceToResponse(source))
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	if orgID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chatbotID := r.URL.Query().Get("chatbot_id")
	if chatbotID == "" {
		api.Error(w, http.StatusBadRequest, "chatbot_id is required")
		return
	}

	sources, err := h.svc.ListSources(r.Context(), orgID, chatbotID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*SourceResponse, len(sources))
	for i, s := range sources {
		responses[i] = sourceToResponse(s)
	}

	api.Success(w, http.StatusOK, responses)
}

func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

	if err := h.svc.Delete(r.Context(), orgID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

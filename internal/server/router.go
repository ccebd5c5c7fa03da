package server

import (
	"net/http"

	"github.com/cloo-solutions/confidant/internal/api"
	"github.com/cloo-solutions/confidant/internal/api/handlers"
	"github.com/cloo-solutions/confidant/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	AuthValidator       middleware.AuthValidator
	QueryHandler        *handlers.QueryHandler
	SourceHandler       *handlers.SourceHandler
	ConversationHandler *handlers.ConversationHandler
	AuthHandler         *handlers.AuthHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Post("/query", cfg.QueryHandler.Query)
		r.Post("/query/stream", cfg.QueryHandler.QueryStream)

		r.Route("/sources", func(r chi.Router) {
			r.Post("/", cfg.SourceHandler.Ingest)
			r.Get("/", cfg.SourceHandler.List)
			r.Get("/{id}", cfg.SourceHandler.Get)
			r.Patch("/{id}/classification", cfg.SourceHandler.Reclassify)
			r.Delete("/{id}", cfg.SourceHandler.Delete)
		})

		r.Get("/conversations/{id}", cfg.ConversationHandler.Get)
	})

	r.Post("/orgs", cfg.AuthHandler.CreateOrg)
	r.Get("/orgs", cfg.AuthHandler.ListOrgs)
	r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)
	r.Get("/apikeys", cfg.AuthHandler.ListAPIKeys)
	r.Delete("/apikeys/{id}", cfg.AuthHandler.RevokeAPIKey)

	return r
}

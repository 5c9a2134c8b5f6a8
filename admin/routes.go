package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(chiAuthMiddleware)

	r.Get("/health", handlers.handleHealth)

	r.Route("/pipelines", func(r chi.Router) {
		r.Get("/", handlers.handleListPipelines)
		r.Get("/{name}", handlers.pipelineByName)
	})

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/{health,pipelines}")
}

// chiAuthMiddleware adapts AuthMiddleware for chi
func chiAuthMiddleware(next http.Handler) http.Handler {
	return AuthMiddleware(next)
}

func (h *AdminHandlers) pipelineByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "pipeline name is required")
		return
	}
	h.handleGetPipeline(w, r, name)
}

package admin

import (
	"encoding/json"
	"net/http"

	"github.com/maxpert/drc/replicator"
	"github.com/rs/zerolog/log"
)

// Replicator is the view of the replicator the admin API reads
type Replicator interface {
	Running() bool
	Pipelines() []replicator.PipelineStatus
}

// AdminHandlers handles admin API endpoints for replication pipelines
type AdminHandlers struct {
	replicator Replicator
	nodeID     string
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(r Replicator, nodeID string) *AdminHandlers {
	return &AdminHandlers{
		replicator: r,
		nodeID:     nodeID,
	}
}

// handleListPipelines returns the status of every pipeline
func (h *AdminHandlers) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.replicator.Pipelines())
}

// handleGetPipeline returns one pipeline by name
func (h *AdminHandlers) handleGetPipeline(w http.ResponseWriter, r *http.Request, name string) {
	for _, p := range h.replicator.Pipelines() {
		if p.Name == name {
			writeJSONResponse(w, http.StatusOK, p)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, "pipeline '"+name+"' not found")
}

// handleHealth reports healthy while the replicator loop is running
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	running := h.replicator.Running()
	pipelines := h.replicator.Pipelines()

	lagging := 0
	for _, p := range pipelines {
		if p.PersistedLogID < p.ConsumedLogID {
			lagging++
		}
	}

	status := http.StatusOK
	if !running {
		status = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, status, map[string]interface{}{
		"healthy": running,
		"node_id": h.nodeID,
		"stats": map[string]interface{}{
			"pipelines":         len(pipelines),
			"pipelines_lagging": lagging,
		},
	})
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	response := map[string]interface{}{
		"error": message,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

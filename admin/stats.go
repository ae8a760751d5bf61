package admin

import (
	"net/http"
	"time"
)

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"healthy": true,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}, false, "")
}

// handleStats returns the store counters
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.store.Stats(), false, "")
}

// handleSinks returns CDC sink cursors and lag
func (h *Handlers) handleSinks(w http.ResponseWriter, r *http.Request) {
	if h.sinks == nil {
		writeErrorResponse(w, http.StatusNotFound, "publisher is disabled")
		return
	}
	writeJSONResponse(w, h.sinks.Sinks(), false, "")
}

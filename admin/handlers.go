// Package admin serves the read-only inspection API of a running store:
// registered live queries, store counters, publisher sink progress and the
// Prometheus metrics endpoint.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maxpert/livestore/livequery"
	"github.com/maxpert/livestore/publisher"
	"github.com/maxpert/livestore/telemetry"
	"github.com/rs/zerolog/log"
)

// StoreInspector is the part of a store the admin API reads
type StoreInspector interface {
	LiveQueries() []livequery.Info
	LiveQuery(id string) (livequery.Info, bool)
	Stats() telemetry.StoreStats
}

// SinkInspector reports CDC sink progress; nil when the publisher is off
type SinkInspector interface {
	Sinks() []publisher.SinkStatus
}

// Handlers handles admin API endpoints
type Handlers struct {
	store   StoreInspector
	sinks   SinkInspector
	started time.Time
}

// NewHandlers creates admin handlers. sinks may be nil.
func NewHandlers(store StoreInspector, sinks SinkInspector) *Handlers {
	return &Handlers{
		store:   store,
		sinks:   sinks,
		started: time.Now(),
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses the limit parameter, defaulting to 256
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}

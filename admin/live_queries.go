package admin

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/livestore/livequery"
)

// handleLiveQueries lists registered live queries ordered by id. The
// "type" parameter filters by entity type; "from" resumes after an id.
func (h *Handlers) handleLiveQueries(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	typ := r.URL.Query().Get("type")
	from := r.URL.Query().Get("from")

	all := h.store.LiveQueries()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := make([]livequery.Info, 0, limit)
	hasMore := false
	for _, info := range all {
		if typ != "" && info.Type != typ {
			continue
		}
		if from != "" && info.ID <= from {
			continue
		}
		if len(out) == limit {
			hasMore = true
			break
		}
		out = append(out, info)
	}

	lastKey := ""
	if hasMore {
		lastKey = out[len(out)-1].ID
	}
	writeJSONResponse(w, out, hasMore, lastKey)
}

func (h *Handlers) handleLiveQuery(w http.ResponseWriter, r *http.Request) {
	info, ok := h.store.LiveQuery(chi.URLParam(r, "id"))
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "live query not found")
		return
	}
	writeJSONResponse(w, info, false, "")
}

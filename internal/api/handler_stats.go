package api

import (
	"net/http"
	"strconv"
)

const defaultListLimit = 20

func limitParam(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Statistics())
}

func (h *Handler) slowQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": h.svc.SlowQueries(limitParam(r)),
	})
}

func (h *Handler) recentQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": h.svc.RecentQueries(limitParam(r)),
	})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	removed := h.svc.ClearCache(pattern)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pattern": pattern,
		"removed": removed,
	})
}

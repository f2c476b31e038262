package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/middleware"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/service/query"
)

// queryRequest is the POST /v1/query and /v1/query/stream payload.
type queryRequest struct {
	SQL       string        `json:"sql"`
	Params    []interface{} `json:"params,omitempty"`
	NoCache   bool          `json:"no_cache,omitempty"`
	TimeoutMs int64         `json:"timeout_ms,omitempty"`
	QueryID   string        `json:"query_id,omitempty"`
}

func (req *queryRequest) options(r *http.Request) query.ExecOptions {
	opts := query.ExecOptions{
		BypassCache: req.NoCache,
		QueryID:     req.QueryID,
	}
	if req.TimeoutMs > 0 {
		opts.ExecTimeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if opts.QueryID == "" {
		// Reuse the request id so logs and metrics correlate.
		opts.QueryID = middleware.RequestIDFromContext(r.Context())
	}
	return opts
}

func decodeQueryRequest(r *http.Request) (*queryRequest, error) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, domain.ErrValidation("invalid request body: %v", err)
	}
	if req.SQL == "" {
		return nil, domain.ErrValidation("sql is required")
	}
	return &req, nil
}

func (h *Handler) executeQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	exec, err := h.svc.Execute(r.Context(), req.SQL, req.Params, req.options(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query_id":    exec.QueryID,
		"cache_hit":   exec.CacheHit,
		"duration_ms": exec.Duration.Milliseconds(),
		"columns":     exec.Result.Columns,
		"rows":        exec.Result.Rows,
		"row_count":   exec.Result.RowCount,
	})
}

// streamQuery writes the result as NDJSON: a header line with the query
// id and columns, then one line per row. Errors after the header has
// been sent are reported as a trailing error line.
func (h *Handler) streamQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := req.options(r)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	headerSent := false

	exec, err := h.svc.ExecuteStreaming(r.Context(), req.SQL, req.Params, opts,
		func(columns []string, rows [][]interface{}) error {
			if !headerSent {
				w.Header().Set("Content-Type", "application/x-ndjson")
				if err := enc.Encode(map[string]interface{}{
					"query_id": opts.QueryID,
					"columns":  columns,
				}); err != nil {
					return err
				}
				headerSent = true
			}
			for _, row := range rows {
				if err := enc.Encode(map[string]interface{}{"row": row}); err != nil {
					return err
				}
			}
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		})
	if err != nil {
		if !headerSent {
			writeError(w, err)
			return
		}
		_ = enc.Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	if !headerSent {
		// Empty result set: still emit the header line.
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	_ = enc.Encode(map[string]interface{}{
		"done":     true,
		"query_id": exec.QueryID,
		"partial":  exec.Partial,
	})
}

// registerRequest is the POST /v1/register payload.
type registerRequest struct {
	Path   string `json:"path"`
	Table  string `json:"table"`
	Format string `json:"format,omitempty"`
}

func (h *Handler) registerFile(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if err := h.svc.RegisterFile(r.Context(), req.Path, req.Table, req.Format); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"table":      req.Table,
		"registered": true,
	})
}

func (h *Handler) cancelQuery(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	if !h.svc.Cancel(queryID) {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Code:    http.StatusNotFound,
			Message: "no running query with id " + queryID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query_id":  queryID,
		"cancelled": true,
	})
}

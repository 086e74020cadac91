package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/atlekbai/query_aggregate/internal/schema"
)

const pingTimeout = 2 * time.Second

const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse is the body of every /healthz answer. Error is set when
// Status is not ok.
type HealthResponse struct {
	Status string `json:"status"`
	Tables int    `json:"tables"`
	Error  string `json:"error,omitempty"`
}

// Health reports whether the database answers and how many tables are cached.
func Health(db Pinger, cache *schema.Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		resp := HealthResponse{Status: StatusOK, Tables: cache.TableCount()}
		status := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			resp.Status = StatusUnavailable
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		if r.Method == http.MethodHead {
			return
		}
		json.NewEncoder(w).Encode(resp)
	})
}

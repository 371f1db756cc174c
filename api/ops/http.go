// Package ops is the operator surface: health, stats and Prometheus over
// HTTP, and the standard gRPC health service.
package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"matchcore/logger"
	"matchcore/metrics"
	"matchcore/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Source is the read-only monitoring view of the engine.
type Source interface {
	State() pipeline.State
	Stats() pipeline.Stats
}

func NewRouter(src Source, log *logger.Log) http.Handler {
	lg := log.WithComponent("ops")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// ready only while the pipeline admits commands
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		state := src.State()
		code := http.StatusOK
		if state != pipeline.Running {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"state": state.String()})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		lg.WithField("request_id", middleware.GetReqID(req.Context())).Debug("stats")
		writeJSON(w, http.StatusOK, src.Stats())
	})

	r.Handle("/metrics", metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

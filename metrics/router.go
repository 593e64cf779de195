package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ytsheets/pipeline"
)

// health is the /healthz response body.
type health struct {
	Status        string    `json:"status"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastRunStatus string    `json:"last_run_status,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitzero"`
}

// Router serves /metrics and /healthz. Health reports "degraded" with a 503
// once the most recent run failed.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	r.Get("/healthz", m.handleHealth)
	return r
}

func (m *Metrics) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := health{Status: "ok"}
	code := http.StatusOK
	if run := m.LastRun(); run != nil {
		body.LastRunID = run.RunID
		body.LastRunStatus = string(run.Status)
		body.LastRunAt = run.FinishedAt
		if run.Status == pipeline.StatusFailed {
			body.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

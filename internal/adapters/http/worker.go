package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

type BreakerReporter interface {
	States() []resilience.BreakerState
}

// NewWorkerHandler serves the worker's ops port: health, metrics, the live rate
// budget and completion breaker states.
func NewWorkerHandler(admission ports.AdmissionController, breakers BreakerReporter, metricsHandler http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /v1/ratelimit/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, admission.Status())
	})
	mux.HandleFunc("GET /v1/breakers", func(w http.ResponseWriter, _ *http.Request) {
		states := []resilience.BreakerState{}
		if breakers != nil {
			states = breakers.States()
		}
		writeJSON(w, http.StatusOK, map[string]any{"breakers": states})
	})
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return requestIDMiddleware(accessLogMiddleware(logger, mux))
}

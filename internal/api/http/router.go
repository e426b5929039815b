package http

import (
	"net/http"

	"go.uber.org/zap"
)

// NewRouter mounts the handlers behind the default middleware chain.
// ingest may be nil when the passenger stream is disabled.
func NewRouter(ingest *IngestHandler, status *StatusHandler, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	if ingest != nil {
		mux.Handle("/v1/passenger-events", ingest)
	}
	mux.HandleFunc("/v1/status", status.Status)
	mux.HandleFunc("/health", status.Health)
	return DefaultMiddleware(logger)(mux)
}

package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/airfi/edgeship/internal/observability"
)

// PendingCounter reports how many records of a stream await delivery.
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// StatsSource provides the per-stream delivery statistics.
type StatsSource interface {
	Snapshot() []observability.StreamStats
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	DeviceID string                      `json:"device_id"`
	Uptime   string                      `json:"uptime"`
	Streams  []observability.StreamStats `json:"streams"`
}

// StatusHandler serves GET /health and GET /v1/status.
type StatusHandler struct {
	deviceID string
	stats    StatsSource
	pending  map[string]PendingCounter
	started  time.Time
	logger   *zap.Logger
}

// NewStatusHandler creates a status handler. pending maps stream names to their stores.
func NewStatusHandler(deviceID string, stats StatsSource, pending map[string]PendingCounter, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		deviceID: deviceID,
		stats:    stats,
		pending:  pending,
		started:  time.Now(),
		logger:   logger,
	}
}

// Health reports liveness.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports per-stream statistics with a live pending count read from each store.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	byName := make(map[string]observability.StreamStats)
	if h.stats != nil {
		for _, st := range h.stats.Snapshot() {
			byName[st.Stream] = st
		}
	}

	for name, counter := range h.pending {
		st, ok := byName[name]
		if !ok {
			st = observability.StreamStats{Stream: name}
		}
		n, err := counter.CountPending(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending records", zap.String("stream", name), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "failed to read outbox", requestID)
			return
		}
		st.Pending = int(n)
		byName[name] = st
	}

	out := make([]observability.StreamStats, 0, len(byName))
	for _, st := range byName {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })

	writeJSON(w, http.StatusOK, StatusResponse{
		DeviceID: h.deviceID,
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
		Streams:  out,
	})
}

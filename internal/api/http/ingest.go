package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/airfi/edgeship/internal/gps"
	"github.com/airfi/edgeship/internal/observability"
	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/internal/streams"
	"github.com/airfi/edgeship/internal/wire"
	"github.com/airfi/edgeship/pkg/types"
)

// maxIngestBody bounds a single ingest request.
const maxIngestBody = 1 << 20

// PassengerEventRequest is one crossing as posted by the vision pipeline.
type PassengerEventRequest struct {
	types.PassengerEvent

	// ImagePath references the captured frame in attachment storage
	ImagePath string `json:"image_path"`

	// Timestamp is the capture time, RFC 3339 or "2006-01-02 15:04:05" UTC. Defaults to now.
	Timestamp string `json:"timestamp,omitempty"`

	// Extra carries keys forwarded verbatim in the metadata
	Extra map[string]any `json:"extra,omitempty"`
}

// IngestResponse lists the outbox ids assigned to the accepted events.
type IngestResponse struct {
	IDs       []int64 `json:"ids"`
	RequestID string  `json:"request_id"`
}

// PassengerAppender persists passenger events.
type PassengerAppender interface {
	Append(ctx context.Context, rec *outbox.Record[types.PassengerEvent]) (int64, error)
}

// IngestHandler handles POST /v1/passenger-events.
type IngestHandler struct {
	store    PassengerAppender
	gps      *gps.State
	routeID  int64
	recorder observability.Recorder
	logger   *zap.Logger
}

// NewIngestHandler creates a new ingest handler. gpsState and recorder may be nil.
func NewIngestHandler(store PassengerAppender, gpsState *gps.State, routeID int64,
	recorder observability.Recorder, logger *zap.Logger) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{
		store:    store,
		gps:      gpsState,
		routeID:  routeID,
		recorder: recorder,
		logger:   logger,
	}
}

// ServeHTTP handles the ingest HTTP request. The body is a single event object or
// an array of them; the batch is validated as a whole before anything is appended.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("failed to read body: %v", err), requestID)
		return
	}

	reqs, err := decodeEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "no events in request", requestID)
		return
	}

	recs := make([]*outbox.Record[types.PassengerEvent], 0, len(reqs))
	for i := range reqs {
		rec, err := h.toRecord(&reqs[i])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err), requestID)
			return
		}
		recs = append(recs, rec)
	}

	ids := make([]int64, 0, len(recs))
	for _, rec := range recs {
		id, err := h.store.Append(r.Context(), rec)
		if err != nil {
			h.logger.Error("failed to append passenger event",
				zap.Int64("frame", rec.Payload.FrameNumber),
				zap.Int("accepted", len(ids)),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to persist event", requestID)
			return
		}
		ids = append(ids, id)
		if h.recorder != nil {
			h.recorder.RecordAppended(streams.PassengerTable)
		}
	}

	h.logger.Debug("passenger events accepted", zap.Int("count", len(ids)), zap.String("request_id", requestID))
	writeJSON(w, http.StatusAccepted, IngestResponse{IDs: ids, RequestID: requestID})
}

// toRecord validates req and fills the position and route the producer left unset.
func (h *IngestHandler) toRecord(req *PassengerEventRequest) (*outbox.Record[types.PassengerEvent], error) {
	ev := req.PassengerEvent
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		return nil, fmt.Errorf("image_path is required")
	}

	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		return nil, err
	}

	if !ev.HasPosition() && h.gps != nil {
		fix := h.gps.Snapshot()
		ev.Latitude = fix.Latitude
		ev.Longitude = fix.Longitude
		if ev.Speed == 0 {
			ev.Speed = fix.SpeedKMH
		}
	}
	if ev.RouteID == 0 {
		ev.RouteID = h.routeID
	}

	return &outbox.Record[types.PassengerEvent]{
		Payload:    ev,
		Attachment: req.ImagePath,
		Extra:      req.Extra,
		CreatedAt:  ts,
	}, nil
}

func decodeEvents(body []byte) ([]PassengerEventRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if trimmed[0] == '[' {
		var reqs []PassengerEventRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, err
		}
		return reqs, nil
	}

	var req PassengerEventRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, err
	}
	return []PassengerEventRequest{req}, nil
}

// parseTimestamp returns the zero time for an empty value so the store stamps it.
func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(wire.DeviceTimestampLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return t, nil
}

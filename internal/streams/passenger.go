// Package streams defines the two outbox streams: their tables and their wire encodings.
package streams

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/internal/storage"
	"github.com/airfi/edgeship/internal/wire"
	"github.com/airfi/edgeship/pkg/types"
)

// PassengerTable is the outbox table for passenger-crossing events.
const PassengerTable = "passenger_events"

// PassengerSchema maps PassengerEvent onto its table. The frame number orders the stream.
func PassengerSchema() outbox.Schema[types.PassengerEvent] {
	return outbox.Schema[types.PassengerEvent]{
		Table: PassengerTable,
		Columns: []types.ColumnDef{
			{Name: "frame_number", Type: "INTEGER"},
			{Name: "person_id", Type: "INTEGER"},
			{Name: "person_class", Type: "TEXT"},
			{Name: "state", Type: "TEXT"},
			{Name: "in_count", Type: "INTEGER"},
			{Name: "out_count", Type: "INTEGER"},
			{Name: "onboard_count", Type: "INTEGER"},
			{Name: "latitude", Type: "REAL"},
			{Name: "longitude", Type: "REAL"},
			{Name: "speed", Type: "REAL"},
			{Name: "route_id", Type: "INTEGER"},
		},
		Values: func(e *types.PassengerEvent) []any {
			return []any{
				e.FrameNumber, e.PersonID, e.PersonClass, e.State,
				e.InCount, e.OutCount, e.OnboardCount,
				e.Latitude, e.Longitude, e.Speed, e.RouteID,
			}
		},
		Targets: func(e *types.PassengerEvent) []any {
			return []any{
				&e.FrameNumber, &e.PersonID, &e.PersonClass, &e.State,
				&e.InCount, &e.OutCount, &e.OnboardCount,
				&e.Latitude, &e.Longitude, &e.Speed, &e.RouteID,
			}
		},
		StreamKey: func(e *types.PassengerEvent) int64 { return e.FrameNumber },
	}
}

// PassengerMetadata builds the metadata object sent alongside the frame.
// Producer extras are appended after the fixed keys and never override them.
func PassengerMetadata(rec *outbox.Record[types.PassengerEvent]) *wire.Metadata {
	e := &rec.Payload
	m := wire.NewMetadata().
		Set("FrameNumber", e.FrameNumber).
		Set("PersonID", e.PersonID).
		Set("PersonClass", e.PersonClass).
		Set("State", e.State).
		Set("ImagePath", rec.Attachment).
		Set("Latitude", e.Latitude).
		Set("Longitude", e.Longitude).
		Set("Speed", e.Speed).
		Set("BusID", rec.DeviceID).
		Set("RouteID", strconv.FormatInt(e.RouteID, 10)).
		Set("DeviceTimestamp", rec.CreatedAt.UTC().Format(wire.DeviceTimestampLayout)).
		Set("OnboardCount", e.OnboardCount).
		Set("OutCount", e.OutCount).
		Set("InCount", e.InCount).
		Set("UploadStatus", int(rec.Status))

	for _, k := range sortedKeys(rec.Extra) {
		m.SetDefault(k, rec.Extra[k])
	}
	return m
}

// PassengerEncoder builds multipart bodies with the captured frame as the image part.
type PassengerEncoder struct {
	attachments storage.AttachmentStore
}

// NewPassengerEncoder creates an encoder reading frames from attachments.
func NewPassengerEncoder(attachments storage.AttachmentStore) *PassengerEncoder {
	return &PassengerEncoder{attachments: attachments}
}

// Encode opens the record's frame and returns the multipart body.
// A missing frame is a malformed record: it is skipped this tick and stays pending.
func (p *PassengerEncoder) Encode(ctx context.Context, rec *outbox.Record[types.PassengerEvent]) (*wire.Body, error) {
	rc, err := storage.OpenAttachment(ctx, p.attachments, rec.Attachment)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return wire.Multipart(rc, filepath.Base(rec.Attachment), PassengerMetadata(rec))
}

// SkipClasses returns a filter excluding records whose person class is in classes.
// Matching ignores case and surrounding whitespace. Returns nil for an empty list.
func SkipClasses(classes []string) func(*outbox.Record[types.PassengerEvent]) bool {
	if len(classes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[normalizeClass(c)] = true
	}
	return func(rec *outbox.Record[types.PassengerEvent]) bool {
		return set[normalizeClass(rec.Payload.PersonClass)]
	}
}

func normalizeClass(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

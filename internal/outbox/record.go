package outbox

import (
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/airfi/edgeship/pkg/types"
)

// Record is a single outbox entry of stream payload type P.
type Record[P any] struct {
	// ID is the unique row id assigned on append. Acknowledgements match on it.
	ID int64

	// StreamKey is the natural ordering key. Equal to ID for streams without one.
	StreamKey int64

	// DeviceID identifies the device that captured the record
	DeviceID string

	// Payload holds the stream-specific fields
	Payload P

	// Attachment references a binary object (image) sent with the record, empty if none
	Attachment string

	// Extra carries producer-supplied keys that have no typed column
	Extra map[string]any

	// Fingerprint is a content hash of the record, stable across resubmissions
	Fingerprint string

	Status    types.Status
	CreatedAt time.Time
}

// encodeExtra stores extra keys as snappy-compressed JSON. A nil or empty map is stored as NULL.
func encodeExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to encode extra: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeExtra(blob []byte) (map[string]any, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to decompress extra: %w", err)
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("outbox: failed to decode extra: %w", err)
	}
	return extra, nil
}

// fingerprint hashes the immutable content of a record with murmur3-128.
// The row id is not part of it, so the value is known before insertion.
func fingerprint(deviceID string, values []any, attachment string, extra []byte, createdAt time.Time) string {
	h := murmur3.New128()
	writeField(h, deviceID)
	for _, v := range values {
		writeField(h, v)
	}
	writeField(h, attachment)
	h.Write(extra)
	h.Write([]byte{0})
	writeField(h, createdAt.UTC().Format(time.RFC3339Nano))
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}

func writeField(h hash.Hash, v any) {
	switch x := v.(type) {
	case string:
		h.Write([]byte(x))
	case int64:
		h.Write(strconv.AppendInt(nil, x, 10))
	case int:
		h.Write(strconv.AppendInt(nil, int64(x), 10))
	case float64:
		h.Write(strconv.AppendFloat(nil, x, 'g', -1, 64))
	default:
		fmt.Fprintf(h, "%v", x)
	}
	h.Write([]byte{0})
}

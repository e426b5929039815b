// Package wire builds the request bodies sent to the ingestion API.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/textproto"

	shiperr "github.com/airfi/edgeship/internal/errors"
)

// Content types used on the wire.
const (
	ContentTypeJSON = "application/json"
	ContentTypeJPEG = "image/jpeg"
)

// Multipart part names expected by the passenger ingestion endpoint.
const (
	PartImage    = "image"
	PartMetadata = "metadata"
)

// DeviceTimestampLayout is the timestamp format the ingestion API expects.
const DeviceTimestampLayout = "2006-01-02 15:04:05"

// Body is an encoded request body together with its content type.
type Body struct {
	ContentType string
	Data        []byte
}

// Metadata is an ordered set of JSON fields. Keys keep insertion order on the wire.
type Metadata struct {
	keys   []string
	values map[string]any
}

// NewMetadata creates an empty metadata object.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]any)}
}

// Set adds or replaces a field. Replacing keeps the original position.
func (m *Metadata) Set(key string, value any) *Metadata {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// SetDefault adds a field only when it is not already present.
func (m *Metadata) SetDefault(key string, value any) *Metadata {
	if _, ok := m.values[key]; !ok {
		m.Set(key, value)
	}
	return m
}

// Get returns the value stored under key.
func (m *Metadata) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the field names in wire order.
func (m *Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

// MarshalJSON encodes the fields in insertion order.
// Non-finite floats are rejected; the ingestion API cannot represent them.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		v := m.values[k]
		if err := checkFinite(k, v); err != nil {
			return nil, err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func checkFinite(key string, v any) error {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("field %s is not a finite number", key)
	}
	return nil
}

// JSON encodes metadata as an application/json body.
func JSON(m *Metadata) (*Body, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, shiperr.NewMalformedError(shiperr.CodeEncodeFailed, "failed to encode metadata", err)
	}
	return &Body{ContentType: ContentTypeJSON, Data: data}, nil
}

// Multipart encodes an image and its metadata as a multipart/form-data body
// with an "image" part (image/jpeg) and a "metadata" part (application/json).
func Multipart(image io.Reader, filename string, m *Metadata) (*Body, error) {
	meta, err := json.Marshal(m)
	if err != nil {
		return nil, shiperr.NewMalformedError(shiperr.CodeEncodeFailed, "failed to encode metadata", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	imgPart, err := w.CreatePart(partHeader(PartImage, filename, ContentTypeJPEG))
	if err != nil {
		return nil, shiperr.NewInternalError("failed to create image part", err)
	}
	if _, err := io.Copy(imgPart, image); err != nil {
		return nil, shiperr.NewMalformedError(shiperr.CodeAttachmentMissing, "failed to read attachment", err)
	}

	metaPart, err := w.CreatePart(partHeader(PartMetadata, "", ContentTypeJSON))
	if err != nil {
		return nil, shiperr.NewInternalError("failed to create metadata part", err)
	}
	if _, err := metaPart.Write(meta); err != nil {
		return nil, shiperr.NewInternalError("failed to write metadata part", err)
	}

	if err := w.Close(); err != nil {
		return nil, shiperr.NewInternalError("failed to finish multipart body", err)
	}
	return &Body{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

func partHeader(name, filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	disposition := fmt.Sprintf(`form-data; name="%s"`, name)
	if filename != "" {
		disposition += fmt.Sprintf(`; filename="%s"`, escapeQuotes(filename))
	}
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Type", contentType)
	return h
}

func escapeQuotes(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

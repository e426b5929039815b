package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shiperr "github.com/airfi/edgeship/internal/errors"
)

func TestMetadata_KeepsInsertionOrder(t *testing.T) {
	m := NewMetadata().
		Set("FrameNumber", 42).
		Set("PersonClass", "adult").
		Set("Latitude", 12.9716).
		Set("FrameNumber", 43)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"FrameNumber":43,"PersonClass":"adult","Latitude":12.9716}`, string(data))
	assert.Equal(t, []string{"FrameNumber", "PersonClass", "Latitude"}, m.Keys())
}

func TestMetadata_SetDefault(t *testing.T) {
	m := NewMetadata().Set("BusID", "AA:BB")
	m.SetDefault("BusID", "other").SetDefault("lane", 2)

	v, ok := m.Get("BusID")
	assert.True(t, ok)
	assert.Equal(t, "AA:BB", v)
	v, _ = m.Get("lane")
	assert.Equal(t, 2, v)
}

func TestJSON_RejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := JSON(NewMetadata().Set("Lat", f))
		require.Error(t, err)
		assert.Equal(t, shiperr.ErrCategoryMalformed, shiperr.GetCategory(err))
		assert.Equal(t, shiperr.CodeEncodeFailed, shiperr.GetCode(err))
	}
}

func TestJSON_Body(t *testing.T) {
	body, err := JSON(NewMetadata().Set("MacID", "48:B0:2D:00:11:22").Set("GpsStatus", 2))
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, body.ContentType)
	assert.JSONEq(t, `{"MacID":"48:B0:2D:00:11:22","GpsStatus":2}`, string(body.Data))
}

func TestMultipart_Parts(t *testing.T) {
	image := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	meta := NewMetadata().Set("FrameNumber", 7).Set("ImagePath", "/data/frames/7.jpg")

	body, err := Multipart(bytes.NewReader(image), "7.jpg", meta)
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(body.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	r := multipart.NewReader(bytes.NewReader(body.Data), params["boundary"])

	part, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, PartImage, part.FormName())
	assert.Equal(t, "7.jpg", part.FileName())
	assert.Equal(t, ContentTypeJPEG, part.Header.Get("Content-Type"))
	got, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, image, got)

	part, err = r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, PartMetadata, part.FormName())
	assert.Equal(t, ContentTypeJSON, part.Header.Get("Content-Type"))
	got, err = io.ReadAll(part)
	require.NoError(t, err)
	assert.JSONEq(t, `{"FrameNumber":7,"ImagePath":"/data/frames/7.jpg"}`, string(got))

	_, err = r.NextPart()
	assert.Equal(t, io.EOF, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestMultipart_UnreadableAttachment(t *testing.T) {
	_, err := Multipart(failingReader{}, "x.jpg", NewMetadata())
	require.Error(t, err)
	assert.Equal(t, shiperr.CodeAttachmentMissing, shiperr.GetCode(err))
	assert.True(t, strings.Contains(err.Error(), "disk gone"))
}

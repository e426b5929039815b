// Package uploader submits encoded records to the remote ingestion API.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	shiperr "github.com/airfi/edgeship/internal/errors"
	"github.com/airfi/edgeship/internal/wire"
)

// Request headers sent with every submission.
const (
	HeaderAPIKey      = "x-api-key"
	HeaderRequestID   = "X-Request-ID"
	HeaderFingerprint = "X-Record-Fingerprint"
)

// maxResponseBody bounds how much of a response body is kept for logging.
const maxResponseBody = 4 << 10

// DefaultTimeout bounds a single submission.
const DefaultTimeout = 30 * time.Second

// HTTPDoer defines the http.Client subset the uploader needs.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Submission is a single record ready to be posted.
type Submission struct {
	URL         string
	Body        *wire.Body
	Fingerprint string
}

// Ack is the remote acknowledgement of a submission.
type Ack struct {
	StatusCode int
	RequestID  string
	Body       []byte
}

// Client posts one record per request. One Client is shared across streams.
type Client struct {
	apiKey string
	client HTTPDoer
	logger *zap.Logger
}

// NewClient builds a client using an http.Client bounded by timeout.
func NewClient(apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithDoer(apiKey, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithDoer builds a client over an existing HTTPDoer.
func NewClientWithDoer(apiKey string, doer HTTPDoer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{apiKey: apiKey, client: doer, logger: logger}
}

// Submit posts the submission. Any 2xx status is an acknowledgement; everything
// else, including transport failures, is returned as a TRANSMISSION error.
func (c *Client) Submit(ctx context.Context, sub Submission) (*Ack, error) {
	if sub.Body == nil {
		return nil, shiperr.NewInternalError("submission has no body", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(sub.Body.Data))
	if err != nil {
		return nil, shiperr.NewTransmissionError(shiperr.CodeRequestFailed, "failed to build request", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", sub.Body.ContentType)
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set(HeaderRequestID, requestID)
	if sub.Fingerprint != "" {
		req.Header.Set(HeaderFingerprint, sub.Fingerprint)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, shiperr.NewTransmissionError(shiperr.CodeRequestFailed,
			fmt.Sprintf("POST %s failed", sub.URL), err).
			WithDetails(map[string]interface{}{"request_id": requestID})
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("submission answered",
		zap.String("url", sub.URL),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	ack := &Ack{StatusCode: resp.StatusCode, RequestID: requestID, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ack, shiperr.NewTransmissionError(shiperr.CodeRejected,
			fmt.Sprintf("POST %s returned %d", sub.URL, resp.StatusCode), nil).
			WithDetails(map[string]interface{}{
				"status":     resp.StatusCode,
				"request_id": requestID,
				"body":       string(body),
			})
	}
	return ack, nil
}

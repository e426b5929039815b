// Package storage provides read access to record attachments (captured frames)
// kept on the local filesystem or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	shiperr "github.com/airfi/edgeship/internal/errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrReadFailed     = errors.New("read failed")
)

// AttachmentStore abstracts where record attachments live.
// Implementations include the local filesystem and S3.
type AttachmentStore interface {
	// Open returns a reader for the attachment at objectPath.
	// Returns ErrObjectNotFound if it does not exist.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)
}

// OpenAttachment opens objectPath and maps failures onto the malformed-record
// error the sync loop expects: the record is skipped this tick and stays pending.
func OpenAttachment(ctx context.Context, store AttachmentStore, objectPath string) (io.ReadCloser, error) {
	if objectPath == "" {
		return nil, shiperr.NewMalformedError(shiperr.CodeAttachmentMissing, "record has no attachment", nil)
	}
	rc, err := store.Open(ctx, objectPath)
	if err != nil {
		return nil, shiperr.NewMalformedError(shiperr.CodeAttachmentMissing,
			fmt.Sprintf("attachment %s unavailable", objectPath), err)
	}
	return rc, nil
}

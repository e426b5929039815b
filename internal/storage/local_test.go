package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	shiperr "github.com/airfi/edgeship/internal/errors"
)

func TestLocalStorage_OpenRelativeAndAbsolute(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	content := []byte{0xff, 0xd8, 0xff}
	rel := filepath.Join("frames", "12.jpg")
	if err := os.MkdirAll(filepath.Join(baseDir, "frames"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(baseDir, rel), content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	ctx := context.Background()

	for _, objectPath := range []string{rel, filepath.Join(baseDir, rel)} {
		rc, err := storage.Open(ctx, objectPath)
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", objectPath, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("content mismatch: got %v, want %v", got, content)
		}
	}
}

func TestLocalStorage_Missing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	if _, err := storage.Open(ctx, "nope.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ContextCancelled(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := storage.Open(ctx, "a.jpg"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOpenAttachment_MapsToMalformed(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	_, err := OpenAttachment(ctx, storage, "missing.jpg")
	if shiperr.GetCode(err) != shiperr.CodeAttachmentMissing {
		t.Errorf("expected ATTACHMENT_MISSING, got %v", err)
	}
	if !errors.Is(err, ErrObjectNotFound) {
		t.Error("cause should be ErrObjectNotFound")
	}

	_, err = OpenAttachment(ctx, storage, "")
	if shiperr.GetCode(err) != shiperr.CodeAttachmentMissing {
		t.Errorf("expected ATTACHMENT_MISSING for empty reference, got %v", err)
	}
}

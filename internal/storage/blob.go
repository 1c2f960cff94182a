// Package storage mirrors generated images into durable blob storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when no blob exists at the key.
var ErrNotFound = errors.New("storage: blob not found")

// Blob is a flat key/value object store.
type Blob interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// LookKey returns the object key for a look's final image.
func LookKey(userID, lookID, mime string) string {
	ext := extensionForMIME(mime)
	if ext == "" {
		ext = ".bin"
	}
	return path.Join("looks", userID, lookID+ext)
}

func extensionForMIME(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func wrapKey(op, key string, err error) error {
	return fmt.Errorf("storage: %s %s: %w", op, key, err)
}

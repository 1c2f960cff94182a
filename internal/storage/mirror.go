package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
)

const maxImageBytes = 32 << 20

var ErrImageTooLarge = errors.New("storage: image exceeds size limit")

// Mirror copies a look's final image from the remote CDN into a Blob. Remote
// result URLs expire, so looks are only durable once mirrored.
type Mirror struct {
	blob     Blob
	client   *http.Client
	logger   *infra.Logger
	maxBytes int64
}

func NewMirror(blob Blob, client *http.Client, logger *infra.Logger) *Mirror {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Mirror{blob: blob, client: client, logger: infra.LoggerOrDiscard(logger), maxBytes: maxImageBytes}
}

// Copy downloads look.FinalImageURL and returns the storage key it was saved under.
func (m *Mirror) Copy(ctx context.Context, look *domain.Look) (string, error) {
	src := strings.TrimSpace(look.FinalImageURL)
	if src == "" {
		return "", fmt.Errorf("storage: look %s has no final image", look.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrImageTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("storage: read image: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, m.maxBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	key := LookKey(look.UserID, look.ID, mime)
	saved, err := m.blob.Put(ctx, key, mime, data)
	if err != nil {
		return "", err
	}
	m.logger.Debug().Str("look_id", look.ID).Str("storage_key", saved).Int("bytes", len(data)).Msg("storage: look mirrored")
	return saved, nil
}

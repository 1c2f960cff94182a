package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"lookbook/internal/domain"
)

func TestFileStorePutGet(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	key, err := store.Put(ctx, "/looks/u1/../u1/job-0.png", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "looks/u1/job-0.png" {
		t.Fatalf("key = %q", key)
	}
	if _, err := os.Stat(filepath.Join(store.BasePath(), "looks", "u1", "job-0.png")); err != nil {
		t.Fatalf("file not written: %v", err)
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "png" {
		t.Fatalf("data = %q", data)
	}
	if _, err := store.Get(ctx, "looks/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "  ", "../etc/passwd", "a/../../b", "."} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) should fail", key)
		}
	}
}

func TestLookKey(t *testing.T) {
	cases := map[string]string{
		"image/png":                "looks/u1/j-0.png",
		"image/jpeg; charset=utf8": "looks/u1/j-0.jpg",
		"application/octet-stream": "looks/u1/j-0.bin",
	}
	for mime, want := range cases {
		if got := LookKey("u1", "j-0", mime); got != want {
			t.Fatalf("LookKey(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestMirrorCopiesFinalImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m := NewMirror(store, srv.Client(), nil)
	look := &domain.Look{ID: "job-1-0", UserID: "user-1", FinalImageURL: srv.URL + "/out.jpg"}

	key, err := m.Copy(context.Background(), look)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if key != "looks/user-1/job-1-0.jpg" {
		t.Fatalf("key = %q", key)
	}
	data, err := store.Get(context.Background(), key)
	if err != nil || string(data) != "jpeg-bytes" {
		t.Fatalf("stored data = %q, err = %v", data, err)
	}
}

func TestMirrorRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	store, _ := NewFileStore(t.TempDir())
	m := NewMirror(store, srv.Client(), nil)
	if _, err := m.Copy(context.Background(), &domain.Look{ID: "x", UserID: "u", FinalImageURL: srv.URL}); err == nil {
		t.Fatalf("expected error for 410 response")
	}
}

func TestMirrorRejectsOversizedImages(t *testing.T) {
	payload := []byte("0123456789abcdef")
	cases := []struct {
		name    string
		chunked bool
	}{
		{"declared length", false},
		{"chunked body", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				if tc.chunked {
					w.(http.Flusher).Flush()
				}
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			store, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			m := NewMirror(store, srv.Client(), nil)
			m.maxBytes = int64(len(payload) - 1)

			_, err = m.Copy(context.Background(), &domain.Look{ID: "big-0", UserID: "u", FinalImageURL: srv.URL})
			if !errors.Is(err, ErrImageTooLarge) {
				t.Fatalf("err = %v, want ErrImageTooLarge", err)
			}
			if _, err := store.Get(context.Background(), "looks/u/big-0.png"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("truncated image stored: %v", err)
			}
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()
	store, _ := NewFileStore(t.TempDir())
	m := NewMirror(store, srv.Client(), nil)
	m.maxBytes = int64(len(payload))
	if _, err := m.Copy(context.Background(), &domain.Look{ID: "fit-0", UserID: "u", FinalImageURL: srv.URL}); err != nil {
		t.Fatalf("image at the limit rejected: %v", err)
	}
}

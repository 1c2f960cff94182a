package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"lookbook/internal/domain"
)

func openTestSQLite(t *testing.T) *LookRepositorySQLite {
	t.Helper()
	r, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func testLook(id, user string, created time.Time) *domain.Look {
	return &domain.Look{
		ID:              id,
		JobID:           "job",
		UserID:          user,
		UserImageURL:    "https://cdn/u.jpg",
		ItemImageURL:    "https://cdn/i.jpg",
		FinalImageURL:   "https://cdn/" + id + ".png",
		Occasion:        "party",
		StyleSuggestion: domain.StyleSuggestion{Title: "Night Out", Items: []string{"blazer"}},
		CreatedAt:       created,
	}
}

func TestSQLiteSaveAndGet(t *testing.T) {
	r := openTestSQLite(t)
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	if err := r.Save(ctx, testLook("job-0", "u1", created)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := r.GetByID(ctx, "job-0")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StyleSuggestion.Title != "Night Out" || got.FinalImageURL != "https://cdn/job-0.png" {
		t.Fatalf("look = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %s, want %s", got.CreatedAt, created)
	}
	if _, err := r.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteUpsertKeepsStorageKeyForSameImage(t *testing.T) {
	r := openTestSQLite(t)
	ctx := context.Background()
	look := testLook("job-0", "u1", time.Now().UTC())

	if err := r.Save(ctx, look); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.SetStorageKey(ctx, "job-0", "looks/u1/job-0.png"); err != nil {
		t.Fatalf("SetStorageKey: %v", err)
	}
	if err := r.Save(ctx, look); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	got, _ := r.GetByID(ctx, "job-0")
	if got.StorageKey != "looks/u1/job-0.png" {
		t.Fatalf("storage key = %q, want kept", got.StorageKey)
	}

	look.FinalImageURL = "https://cdn/new.png"
	if err := r.Save(ctx, look); err != nil {
		t.Fatalf("Save new image: %v", err)
	}
	got, _ = r.GetByID(ctx, "job-0")
	if got.StorageKey != "" {
		t.Fatalf("storage key = %q, want reset for new image", got.StorageKey)
	}
}

func TestSQLiteListing(t *testing.T) {
	r := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a-0", "a-1", "a-2"} {
		if err := r.Save(ctx, testLook(id, "u1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := r.Save(ctx, testLook("b-0", "u2", base)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.SetStorageKey(ctx, "a-0", "k"); err != nil {
		t.Fatalf("SetStorageKey: %v", err)
	}

	page, err := r.ListByUser(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(page) != 2 || page[0].ID != "a-2" || page[1].ID != "a-1" {
		t.Fatalf("page = %+v", page)
	}
	unmirrored, err := r.ListUnmirrored(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnmirrored: %v", err)
	}
	if len(unmirrored) != 3 {
		t.Fatalf("unmirrored = %d, want 3", len(unmirrored))
	}
	if err := r.SetStorageKey(ctx, "missing", "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetStorageKey missing err = %v", err)
	}
}

func TestSQLiteMirrorFailuresSinkAndRetire(t *testing.T) {
	r := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old-0", "new-0"} {
		if err := r.Save(ctx, testLook(id, "u1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	if err := r.RecordMirrorFailure(ctx, "old-0"); err != nil {
		t.Fatalf("RecordMirrorFailure: %v", err)
	}
	first, err := r.ListUnmirrored(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnmirrored: %v", err)
	}
	if len(first) != 1 || first[0].ID != "new-0" {
		t.Fatalf("first = %+v, want the never-attempted look", first)
	}

	for i := 1; i < domain.MaxMirrorAttempts; i++ {
		if err := r.RecordMirrorFailure(ctx, "old-0"); err != nil {
			t.Fatalf("RecordMirrorFailure: %v", err)
		}
	}
	pending, err := r.ListUnmirrored(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnmirrored: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "new-0" {
		t.Fatalf("pending = %+v, want the exhausted look skipped", pending)
	}
	got, err := r.GetByID(ctx, "old-0")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.MirrorAttempts != domain.MaxMirrorAttempts {
		t.Fatalf("attempts = %d", got.MirrorAttempts)
	}
	if err := r.RecordMirrorFailure(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

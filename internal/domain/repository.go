package domain

import "context"

// MaxMirrorAttempts bounds how often a look's image copy is retried.
const MaxMirrorAttempts = 8

// LookRepository persists finalized looks.
type LookRepository interface {
	// Save upserts by look id so retries never duplicate a record.
	Save(ctx context.Context, look *Look) error
	GetByID(ctx context.Context, id string) (*Look, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Look, error)
	// ListUnmirrored returns looks still lacking a storage key, least
	// attempted first, skipping those that reached MaxMirrorAttempts.
	ListUnmirrored(ctx context.Context, limit int) ([]Look, error)
	SetStorageKey(ctx context.Context, id, storageKey string) error
	RecordMirrorFailure(ctx context.Context, id string) error
}

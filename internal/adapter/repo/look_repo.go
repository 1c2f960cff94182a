package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
	"lookbook/internal/sqlinline"
)

// LookRepositoryPG implements domain.LookRepository on Postgres.
type LookRepositoryPG struct {
	db infra.SQLExecutor
}

// NewLookRepository creates a look repository backed by the marker-tagged SQL runner.
func NewLookRepository(db infra.SQLExecutor) *LookRepositoryPG {
	return &LookRepositoryPG{db: db}
}

// Migrate creates the looks table when missing.
func (r *LookRepositoryPG) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.QCreateLooksTable); err != nil {
		return fmt.Errorf("repo: migrate looks: %w", err)
	}
	return nil
}

func (r *LookRepositoryPG) Save(ctx context.Context, look *domain.Look) error {
	style, err := json.Marshal(look.StyleSuggestion)
	if err != nil {
		return fmt.Errorf("repo: encode style suggestion: %w", err)
	}
	createdAt := look.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx, sqlinline.QUpsertLook,
		look.ID,
		look.JobID,
		look.SuggestionIndex,
		look.UserID,
		look.UserImageURL,
		look.ItemImageURL,
		look.StylizedImageURL,
		look.FinalImageURL,
		look.StorageKey,
		look.Occasion,
		style,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("repo: save look %s: %w", look.ID, err)
	}
	return nil
}

func (r *LookRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Look, error) {
	look, err := scanLook(r.db.QueryRow(ctx, sqlinline.QSelectLookByID, id))
	if infra.IsNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get look %s: %w", id, err)
	}
	return look, nil
}

func (r *LookRepositoryPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Look, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListLooksByUser, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: list looks: %w", err)
	}
	return collectLooks(rows)
}

func (r *LookRepositoryPG) ListUnmirrored(ctx context.Context, limit int) ([]domain.Look, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListUnmirroredLooks, limit, domain.MaxMirrorAttempts)
	if err != nil {
		return nil, fmt.Errorf("repo: list unmirrored looks: %w", err)
	}
	return collectLooks(rows)
}

func (r *LookRepositoryPG) SetStorageKey(ctx context.Context, id, storageKey string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QSetLookStorageKey, id, storageKey)
	if err != nil {
		return fmt.Errorf("repo: set storage key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LookRepositoryPG) RecordMirrorFailure(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QIncrementLookMirrorAttempts, id)
	if err != nil {
		return fmt.Errorf("repo: record mirror failure %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func collectLooks(rows pgx.Rows) ([]domain.Look, error) {
	defer rows.Close()
	var out []domain.Look
	for rows.Next() {
		look, err := scanLook(rows)
		if err != nil {
			return nil, fmt.Errorf("repo: scan look: %w", err)
		}
		out = append(out, *look)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: iterate looks: %w", err)
	}
	return out, nil
}

func scanLook(row pgx.Row) (*domain.Look, error) {
	var (
		look  domain.Look
		style []byte
	)
	if err := row.Scan(
		&look.ID,
		&look.JobID,
		&look.SuggestionIndex,
		&look.UserID,
		&look.UserImageURL,
		&look.ItemImageURL,
		&look.StylizedImageURL,
		&look.FinalImageURL,
		&look.StorageKey,
		&look.MirrorAttempts,
		&look.Occasion,
		&style,
		&look.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(style) > 0 {
		if err := json.Unmarshal(style, &look.StyleSuggestion); err != nil {
			return nil, fmt.Errorf("decode style suggestion: %w", err)
		}
	}
	return &look, nil
}

var _ domain.LookRepository = (*LookRepositoryPG)(nil)

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"lookbook/internal/domain"
)

const sqliteSchema = `
create table if not exists looks (
  id                 text primary key,
  job_id             text not null,
  suggestion_index   integer not null,
  user_id            text not null,
  user_image_url     text not null default '',
  item_image_url     text not null default '',
  stylized_image_url text not null default '',
  final_image_url    text not null,
  storage_key        text not null default '',
  mirror_attempts    integer not null default 0,
  occasion           text not null default '',
  style_suggestion   text not null default '{}',
  created_at         timestamp not null,
  updated_at         timestamp not null
);
create index if not exists looks_user_created_idx on looks (user_id, created_at desc);
`

type lookRow struct {
	ID               string    `db:"id"`
	JobID            string    `db:"job_id"`
	SuggestionIndex  int       `db:"suggestion_index"`
	UserID           string    `db:"user_id"`
	UserImageURL     string    `db:"user_image_url"`
	ItemImageURL     string    `db:"item_image_url"`
	StylizedImageURL string    `db:"stylized_image_url"`
	FinalImageURL    string    `db:"final_image_url"`
	StorageKey       string    `db:"storage_key"`
	MirrorAttempts   int       `db:"mirror_attempts"`
	Occasion         string    `db:"occasion"`
	StyleSuggestion  string    `db:"style_suggestion"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r lookRow) toDomain() (domain.Look, error) {
	look := domain.Look{
		ID:               r.ID,
		JobID:            r.JobID,
		SuggestionIndex:  r.SuggestionIndex,
		UserID:           r.UserID,
		UserImageURL:     r.UserImageURL,
		ItemImageURL:     r.ItemImageURL,
		StylizedImageURL: r.StylizedImageURL,
		FinalImageURL:    r.FinalImageURL,
		StorageKey:       r.StorageKey,
		MirrorAttempts:   r.MirrorAttempts,
		Occasion:         r.Occasion,
		CreatedAt:        r.CreatedAt,
	}
	if r.StyleSuggestion != "" {
		if err := json.Unmarshal([]byte(r.StyleSuggestion), &look.StyleSuggestion); err != nil {
			return look, fmt.Errorf("decode style suggestion: %w", err)
		}
	}
	return look, nil
}

// LookRepositorySQLite stores looks in a local SQLite file for single-node setups.
type LookRepositorySQLite struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating when needed) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*LookRepositorySQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("repo: create database directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("repo: set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo: init schema: %w", err)
	}
	if err := addColumnIfMissing(db, "looks", "mirror_attempts", "integer not null default 0"); err != nil {
		db.Close()
		return nil, err
	}
	return &LookRepositorySQLite{db: db}, nil
}

func (r *LookRepositorySQLite) Close() error {
	return r.db.Close()
}

func (r *LookRepositorySQLite) Save(ctx context.Context, look *domain.Look) error {
	style, err := json.Marshal(look.StyleSuggestion)
	if err != nil {
		return fmt.Errorf("repo: encode style suggestion: %w", err)
	}
	now := time.Now().UTC()
	row := lookRow{
		ID:               look.ID,
		JobID:            look.JobID,
		SuggestionIndex:  look.SuggestionIndex,
		UserID:           look.UserID,
		UserImageURL:     look.UserImageURL,
		ItemImageURL:     look.ItemImageURL,
		StylizedImageURL: look.StylizedImageURL,
		FinalImageURL:    look.FinalImageURL,
		StorageKey:       look.StorageKey,
		Occasion:         look.Occasion,
		StyleSuggestion:  string(style),
		CreatedAt:        look.CreatedAt.UTC(),
		UpdatedAt:        now,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	_, err = r.db.NamedExecContext(ctx, `
insert into looks (id, job_id, suggestion_index, user_id, user_image_url, item_image_url,
  stylized_image_url, final_image_url, storage_key, occasion, style_suggestion, created_at, updated_at)
values (:id, :job_id, :suggestion_index, :user_id, :user_image_url, :item_image_url,
  :stylized_image_url, :final_image_url, :storage_key, :occasion, :style_suggestion, :created_at, :updated_at)
on conflict (id) do update set
  stylized_image_url = excluded.stylized_image_url,
  final_image_url = excluded.final_image_url,
  style_suggestion = excluded.style_suggestion,
  storage_key = case when looks.final_image_url = excluded.final_image_url then looks.storage_key else excluded.storage_key end,
  mirror_attempts = case when looks.final_image_url = excluded.final_image_url then looks.mirror_attempts else 0 end,
  updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("repo: save look %s: %w", look.ID, err)
	}
	return nil
}

func (r *LookRepositorySQLite) GetByID(ctx context.Context, id string) (*domain.Look, error) {
	var row lookRow
	err := r.db.GetContext(ctx, &row, `select * from looks where id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get look %s: %w", id, err)
	}
	look, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &look, nil
}

func (r *LookRepositorySQLite) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Look, error) {
	var rows []lookRow
	err := r.db.SelectContext(ctx, &rows, `select * from looks where user_id = ? order by created_at desc, id limit ? offset ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: list looks: %w", err)
	}
	return toDomainLooks(rows)
}

func (r *LookRepositorySQLite) ListUnmirrored(ctx context.Context, limit int) ([]domain.Look, error) {
	var rows []lookRow
	err := r.db.SelectContext(ctx, &rows, `select * from looks where storage_key = '' and mirror_attempts < ? order by mirror_attempts, created_at limit ?`,
		domain.MaxMirrorAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list unmirrored looks: %w", err)
	}
	return toDomainLooks(rows)
}

func (r *LookRepositorySQLite) SetStorageKey(ctx context.Context, id, storageKey string) error {
	res, err := r.db.ExecContext(ctx, `update looks set storage_key = ?, updated_at = ? where id = ?`, storageKey, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repo: set storage key %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LookRepositorySQLite) RecordMirrorFailure(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `update looks set mirror_attempts = mirror_attempts + 1, updated_at = ? where id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repo: record mirror failure %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// addColumnIfMissing upgrades databases created before a column existed.
func addColumnIfMissing(db *sqlx.DB, table, column, decl string) error {
	var n int
	if err := db.Get(&n, `select count(*) from pragma_table_info(?) where name = ?`, table, column); err != nil {
		return fmt.Errorf("repo: inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("alter table %s add column %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("repo: add column %s.%s: %w", table, column, err)
	}
	return nil
}

func toDomainLooks(rows []lookRow) ([]domain.Look, error) {
	out := make([]domain.Look, 0, len(rows))
	for _, row := range rows {
		look, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, look)
	}
	return out, nil
}

var _ domain.LookRepository = (*LookRepositorySQLite)(nil)

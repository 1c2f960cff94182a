package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface repositories depend on.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrMissingMarker is returned for queries without a leading "--sql <uuid>" line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

// SQLRunner executes marker-tagged statements through pgxpool and logs each
// statement by marker so slow or failing queries can be traced back to source.
type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, body, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("sql: exec failed")
		return tag, err
	}
	r.Logger.Debug().Str("sql", marker).Int64("rows", tag.RowsAffected()).Dur("took", time.Since(start)).Msg("sql: exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	r.Logger.Debug().Str("sql", marker).Msg("sql: query row")
	return loggingRow{row: r.Pool.QueryRow(ctx, body, args...), logger: r.Logger, marker: marker}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	rows, err := r.Pool.Query(ctx, body, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("sql: query failed")
		return nil, err
	}
	r.Logger.Debug().Str("sql", marker).Msg("sql: query")
	return rows, nil
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	if err != nil && !IsNoRows(err) {
		l.logger.Error().Err(err).Str("sql", l.marker).Msg("sql: scan failed")
	}
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	head, body, _ := strings.Cut(trimmed, "\n")
	head = strings.TrimSpace(head)
	if !markerRegexp.MatchString(head) {
		return "", "", ErrMissingMarker
	}
	return strings.TrimPrefix(head, "--sql "), body, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)

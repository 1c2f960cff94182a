// Package wire builds the storage dependencies shared by the commands.
package wire

import (
	"context"
	"net/http"

	"lookbook/internal/adapter/repo"
	"lookbook/internal/domain"
	"lookbook/internal/infra"
	"lookbook/internal/storage"
)

// OpenLooks uses Postgres when DATABASE_URL is set and a local SQLite file
// otherwise. The returned func closes the underlying connection.
func OpenLooks(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.LookRepository, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		pg := repo.NewLookRepository(infra.NewSQLRunner(pool, logger))
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	}
	lite, err := repo.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite looks repository")
	return lite, func() { _ = lite.Close() }, nil
}

// NewBlob returns the MinIO bucket when configured, else the local storage directory.
func NewBlob(ctx context.Context, cfg *infra.Config) (storage.Blob, error) {
	if cfg.MinioEndpoint != "" {
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMirror copies final images into the blob store chosen by NewBlob.
func NewMirror(cfg *infra.Config, blob storage.Blob, logger *infra.Logger) *storage.Mirror {
	return storage.NewMirror(blob, &http.Client{Timeout: cfg.RemoteHTTPTimeout}, logger)
}

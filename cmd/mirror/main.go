package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lookbook/internal/domain"
	"lookbook/internal/finalizer"
	"lookbook/internal/infra"
	"lookbook/internal/wire"
)

const defaultBatch = 20

// mirrorWorker copies final images of looks whose inline mirror failed.
type mirrorWorker struct {
	looks    domain.LookRepository
	mirror   finalizer.Mirrorer
	logger   infra.Logger
	interval time.Duration
	batch    int
}

func main() {
	once := flag.Bool("once", false, "process one batch and exit")
	batch := flag.Int("batch", defaultBatch, "looks per batch")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "mirror").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	looks, closeLooks, err := wire.OpenLooks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("mirror: open looks repository failed")
	}
	defer closeLooks()

	blobs, err := wire.NewBlob(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("mirror: configure storage failed")
	}

	w := &mirrorWorker{looks: looks, mirror: wire.NewMirror(cfg, blobs, &logger), logger: logger, interval: cfg.MirrorInterval, batch: *batch}
	if *once {
		n, err := w.runBatch(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("mirror: batch failed")
		}
		logger.Info().Int("mirrored", n).Msg("mirror: done")
		return
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("mirror: stopped with error")
	}
	logger.Info().Msg("mirror: stopped")
}

func (w *mirrorWorker) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("mirror: started")
	interval := w.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.runBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("mirror: batch failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runBatch mirrors up to w.batch looks and returns how many succeeded. A
// failing look has its attempt count bumped so it queues behind fresh looks.
func (w *mirrorWorker) runBatch(ctx context.Context) (int, error) {
	batch := w.batch
	if batch <= 0 {
		batch = defaultBatch
	}
	pending, err := w.looks.ListUnmirrored(ctx, batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range pending {
		look := &pending[i]
		log := w.logger.With().Str("look_id", look.ID).Str("job_id", look.JobID).Logger()
		key, err := w.mirror.Copy(ctx, look)
		if err != nil {
			log.Warn().Err(err).Int("attempts", look.MirrorAttempts+1).Msg("mirror: copy failed")
			if err := w.looks.RecordMirrorFailure(ctx, look.ID); err != nil {
				log.Error().Err(err).Msg("mirror: record attempt failed")
			}
			continue
		}
		if err := w.looks.SetStorageKey(ctx, look.ID, key); err != nil {
			log.Error().Err(err).Msg("mirror: record storage key failed")
			continue
		}
		log.Info().Str("storage_key", key).Msg("mirror: look mirrored")
		done++
	}
	return done, nil
}

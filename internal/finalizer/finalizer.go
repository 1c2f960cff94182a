// Package finalizer turns a succeeded suggestion into a durable look and
// releases the pipeline lease on every outcome.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lookbook/internal/domain"
	"lookbook/internal/events"
	"lookbook/internal/infra"
)

// Lease is the held pipeline lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Mirrorer copies a look's final image into durable storage.
type Mirrorer interface {
	Copy(ctx context.Context, look *domain.Look) (string, error)
}

type Options struct {
	Looks  domain.LookRepository
	Mirror Mirrorer
	Events events.Publisher
	Logger *infra.Logger
	Now    func() time.Time
}

type Finalizer struct {
	looks  domain.LookRepository
	mirror Mirrorer
	events events.Publisher
	logger *infra.Logger
	now    func() time.Time
}

func New(opts Options) *Finalizer {
	pub := opts.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Finalizer{
		looks:  opts.Looks,
		mirror: opts.Mirror,
		events: pub,
		logger: infra.LoggerOrDiscard(opts.Logger),
		now:    now,
	}
}

// Hooks tie the job record to the look write. Commit runs only once the
// look is durable; Rollback runs when either step fails. Both run while the
// lease is still held.
type Hooks struct {
	Commit   func(ctx context.Context) error
	Rollback func(ctx context.Context, cause error)
}

// Succeed persists the look for job.Suggestions[index], commits the job,
// mirrors its image and announces it. Mirror and publish problems are logged
// and left for the mirror loop. The lease is released whatever happens.
func (f *Finalizer) Succeed(ctx context.Context, lease Lease, job *domain.Job, index int, hooks Hooks) (*domain.Look, error) {
	look, err := f.persist(ctx, job, index, hooks)
	return look, errors.Join(err, f.release(ctx, lease, job.ID, index))
}

// Fail releases the lease without writing anything durable.
func (f *Finalizer) Fail(ctx context.Context, lease Lease, job *domain.Job, index int, cause error) error {
	f.logger.Warn().Err(cause).Str("job_id", job.ID).Int("suggestion_index", index).Msg("finalizer: run failed")
	return f.release(ctx, lease, job.ID, index)
}

func (f *Finalizer) persist(ctx context.Context, job *domain.Job, index int, hooks Hooks) (*domain.Look, error) {
	look, err := f.record(ctx, job, index, hooks.Commit)
	if err != nil {
		if hooks.Rollback != nil {
			hooks.Rollback(context.WithoutCancel(ctx), err)
		}
		return nil, err
	}
	log := f.logger.With().Str("job_id", job.ID).Int("suggestion_index", index).Str("look_id", look.ID).Logger()

	if f.mirror != nil {
		key, err := f.mirror.Copy(ctx, look)
		if err != nil {
			log.Warn().Err(err).Msg("finalizer: mirror failed, leaving for retry")
			if err := f.looks.RecordMirrorFailure(ctx, look.ID); err != nil {
				log.Warn().Err(err).Msg("finalizer: record mirror failure")
			}
		} else if err := f.looks.SetStorageKey(ctx, look.ID, key); err != nil {
			log.Warn().Err(err).Msg("finalizer: record storage key failed")
		} else {
			look.StorageKey = key
		}
	}

	if err := f.events.PublishLookFinalized(ctx, events.NewLookFinalized(look, f.now())); err != nil {
		log.Warn().Err(err).Msg("finalizer: publish event failed")
	}
	log.Info().Msg("finalizer: look saved")
	return look, nil
}

func (f *Finalizer) record(ctx context.Context, job *domain.Job, index int, commit func(context.Context) error) (*domain.Look, error) {
	look, err := domain.NewLook(job, index, f.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := f.looks.Save(ctx, look); err != nil {
		return nil, err
	}
	if commit != nil {
		if err := commit(ctx); err != nil {
			return nil, fmt.Errorf("finalizer: commit job: %w", err)
		}
	}
	return look, nil
}

func (f *Finalizer) release(ctx context.Context, lease Lease, jobID string, index int) error {
	if lease == nil {
		return nil
	}
	// the caller's context may already be gone; the lease must still be freed
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		f.logger.Error().Err(err).Str("job_id", jobID).Int("suggestion_index", index).Msg("finalizer: release lease failed")
		return err
	}
	return nil
}

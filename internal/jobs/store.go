// Package jobs persists job records in the key-value store. Records expire
// after a configurable TTL that is refreshed on every write.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
	"lookbook/internal/kv"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxPerUser = 50
)

type Options struct {
	TTL        time.Duration
	MaxPerUser int64
	Logger     *infra.Logger
}

type Store struct {
	kv         *kv.Store
	ttl        time.Duration
	maxPerUser int64
	logger     *infra.Logger
}

func New(store *kv.Store, opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	max := opts.MaxPerUser
	if max <= 0 {
		max = DefaultMaxPerUser
	}
	return &Store{kv: store, ttl: ttl, maxPerUser: max, logger: infra.LoggerOrDiscard(opts.Logger)}
}

func (s *Store) jobKey(id string) string {
	return s.kv.Key("job", id)
}

func (s *Store) userKey(userID string) string {
	return s.kv.Key("user", userID, "jobs")
}

// Create writes a new job and records it in the owner's recent list.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if err := s.kv.SetJSON(ctx, s.jobKey(job.ID), job, s.ttl); err != nil {
		return fmt.Errorf("jobs: create %s: %w", job.ID, err)
	}
	if err := s.kv.PushCapped(ctx, s.userKey(job.UserID), job.ID, s.maxPerUser, s.ttl); err != nil {
		// the job itself is readable; only the listing misses it
		s.logger.Warn().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).Msg("jobs: index push failed")
	}
	return nil
}

// Get returns the job regardless of owner.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := s.kv.GetJSON(ctx, s.jobKey(id), &job)
	if errors.Is(err, kv.ErrMissing) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: load %s: %w", id, err)
	}
	return &job, nil
}

// Load returns the job only when it belongs to the caller. Jobs owned by
// someone else are reported as missing.
func (s *Store) Load(ctx context.Context, rc domain.RequestContext, id string) (*domain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != rc.Normalize().UserID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// Save overwrites the record and refreshes its TTL.
func (s *Store) Save(ctx context.Context, job *domain.Job) error {
	if err := s.kv.SetJSON(ctx, s.jobKey(job.ID), job, s.ttl); err != nil {
		return fmt.Errorf("jobs: save %s: %w", job.ID, err)
	}
	return nil
}

// Update applies fn to the freshest copy of the job inside an optimistic
// transaction and returns the stored result. fn may run more than once.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	var out *domain.Job
	err := s.kv.Update(ctx, s.jobKey(id), s.ttl, func(current []byte) ([]byte, error) {
		var job domain.Job
		if err := json.Unmarshal(current, &job); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if err := fn(&job); err != nil {
			return nil, err
		}
		out = &job
		return json.Marshal(&job)
	})
	if errors.Is(err, kv.ErrMissing) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: update %s: %w", id, err)
	}
	return out, nil
}

// ListRecent returns up to limit of the user's newest jobs. Ids whose record
// has already expired are skipped.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 || int64(limit) > s.maxPerUser {
		limit = int(s.maxPerUser)
	}
	ids, err := s.kv.Range(ctx, s.userKey(userID), 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("jobs: list %s: %w", userID, err)
	}
	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Package pipelock guarantees that at most one execution of a given
// (job, suggestion) pair runs at a time across every API instance.
package pipelock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
	"lookbook/internal/kv"
)

// DefaultTTL bounds how long a crashed holder can block a suggestion.
const DefaultTTL = 300 * time.Second

// ErrLeaseLost is returned when a lease expired and is now held by someone else.
var ErrLeaseLost = errors.New("pipelock: lease lost")

type Options struct {
	TTL    time.Duration
	Logger *infra.Logger
	Now    func() time.Time
}

type Locker struct {
	store  *kv.Store
	ttl    time.Duration
	logger *infra.Logger
	now    func() time.Time
}

func New(store *kv.Store, opts Options) *Locker {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Locker{store: store, ttl: ttl, logger: infra.LoggerOrDiscard(opts.Logger), now: now}
}

// TTL returns the lease lifetime.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

func (l *Locker) key(jobID string, index int) string {
	return l.store.Key("lock", jobID, strconv.Itoa(index))
}

// Acquire takes the lease for one suggestion. A held lease yields
// domain.ErrDuplicateExecution.
func (l *Locker) Acquire(ctx context.Context, jobID string, index int) (*Lease, error) {
	key := l.key(jobID, index)
	token := fmt.Sprintf("started_at_%d_%s", l.now().UnixMilli(), uuid.NewString())
	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("pipelock: acquire: %w", err)
	}
	if !ok {
		l.logger.Info().Str("job_id", jobID).Int("index", index).Msg("pipelock: already held")
		return nil, fmt.Errorf("%w: suggestion %d of job %s", domain.ErrDuplicateExecution, index, jobID)
	}
	return &Lease{locker: l, Key: key, Token: token, JobID: jobID, Index: index}, nil
}

// Holder returns the owner token currently stored for the suggestion, if any.
func (l *Locker) Holder(ctx context.Context, jobID string, index int) (string, bool, error) {
	v, err := l.store.Get(ctx, l.key(jobID, index))
	if errors.Is(err, kv.ErrMissing) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pipelock: holder: %w", err)
	}
	return v, true, nil
}

// Held describes one outstanding lease.
type Held struct {
	JobID     string        `json:"jobId"`
	Index     int           `json:"index"`
	Token     string        `json:"token"`
	Remaining time.Duration `json:"remaining"`
}

// List reports every outstanding lease, used by operators to find stuck runs.
func (l *Locker) List(ctx context.Context) ([]Held, error) {
	keys, err := l.store.Keys(ctx, l.store.Key("lock", "*"))
	if err != nil {
		return nil, fmt.Errorf("pipelock: list: %w", err)
	}
	prefix := l.store.Key("lock") + ":"
	out := make([]Held, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		cut := strings.LastIndex(rest, ":")
		if cut <= 0 {
			continue
		}
		index, err := strconv.Atoi(rest[cut+1:])
		if err != nil {
			continue
		}
		token, err := l.store.Get(ctx, key)
		if errors.Is(err, kv.ErrMissing) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pipelock: list: %w", err)
		}
		remaining, err := l.store.TTL(ctx, key)
		if err != nil && !errors.Is(err, kv.ErrMissing) {
			return nil, fmt.Errorf("pipelock: list: %w", err)
		}
		out = append(out, Held{JobID: rest[:cut], Index: index, Token: token, Remaining: remaining})
	}
	return out, nil
}

// Lease is a held execution slot for one suggestion.
type Lease struct {
	locker   *Locker
	once     sync.Once
	err      error
	released atomic.Bool

	Key   string
	Token string
	JobID string
	Index int
}

// Release deletes the lease if this holder still owns it. A lease that has
// already expired and been taken by another run is left alone. Repeated calls
// are no-ops.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	le.once.Do(func() {
		le.released.Store(true)
		deleted, err := le.locker.store.CompareAndDelete(ctx, le.Key, le.Token)
		if err != nil {
			le.err = fmt.Errorf("pipelock: release: %w", err)
			return
		}
		if !deleted {
			le.locker.logger.Warn().Str("job_id", le.JobID).Int("index", le.Index).Msg("pipelock: lease lost before release")
		}
	})
	return le.err
}

// Extend resets the lease lifetime to the locker TTL while this holder still
// owns it.
func (le *Lease) Extend(ctx context.Context) error {
	ok, err := le.locker.store.CompareAndExpire(ctx, le.Key, le.Token, le.locker.ttl)
	if err != nil {
		return fmt.Errorf("pipelock: extend: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: suggestion %d of job %s", ErrLeaseLost, le.Index, le.JobID)
	}
	return nil
}

// KeepAlive extends the lease every interval until the returned stop func is
// called or ctx ends. It gives up once the lease is lost. A non-positive
// interval defaults to a third of the TTL.
func (le *Lease) KeepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = le.locker.ttl / 3
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log := le.locker.logger.With().Str("job_id", le.JobID).Int("index", le.Index).Logger()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if le.released.Load() {
				return
			}
			err := le.Extend(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrLeaseLost) && le.released.Load():
				return
			case errors.Is(err, ErrLeaseLost):
				log.Warn().Msg("pipelock: lease lost while running")
				return
			case ctx.Err() != nil:
				return
			default:
				log.Error().Err(err).Msg("pipelock: extend failed")
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

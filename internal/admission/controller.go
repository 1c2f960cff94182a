// Package admission caps the number of concurrently active generation runs
// per user. The counter lives in the shared store so every API instance sees
// the same quota.
package admission

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
	"lookbook/internal/kv"
)

// DefaultMaxJobs applies when Options.MaxJobs is not positive.
const DefaultMaxJobs = 10

// admitScript increments first and rolls back when the new value is over the
// limit, so two concurrent callers can never both take the last slot.
var admitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return -1
end
return n
`)

var releaseScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n <= 0 then
  redis.call("SET", KEYS[1], 0)
  return 0
end
return redis.call("DECR", KEYS[1])
`)

type Options struct {
	MaxJobs int
	Logger  *infra.Logger
}

type Controller struct {
	store   *kv.Store
	maxJobs int
	logger  *infra.Logger
}

func New(store *kv.Store, opts Options) *Controller {
	max := opts.MaxJobs
	if max <= 0 {
		max = DefaultMaxJobs
	}
	return &Controller{store: store, maxJobs: max, logger: infra.LoggerOrDiscard(opts.Logger)}
}

// Limit returns the concurrent job ceiling for the caller. Guests get half.
func (c *Controller) Limit(rc domain.RequestContext) int {
	if rc.IsGuest {
		return c.maxJobs / 2
	}
	return c.maxJobs
}

func (c *Controller) key(userID string) string {
	return c.store.Key("quota", userID)
}

// TryAdmit takes one slot for the caller or fails with domain.ErrAdmissionRejected.
// The returned ticket must be released once the run reaches a terminal state.
func (c *Controller) TryAdmit(ctx context.Context, rc domain.RequestContext) (*Ticket, error) {
	rc = rc.Normalize()
	limit := c.Limit(rc)
	key := c.key(rc.UserID)
	n, err := c.store.Run(ctx, admitScript, []string{key}, limit).Int64()
	if err != nil {
		return nil, fmt.Errorf("admission: %w", err)
	}
	if n < 0 {
		c.logger.Info().Str("user_id", rc.UserID).Bool("guest", rc.IsGuest).Int("limit", limit).Msg("admission: rejected")
		if rc.IsGuest {
			return nil, fmt.Errorf("%w: guests may run %d jobs at a time, sign in to run more", domain.ErrAdmissionRejected, limit)
		}
		return nil, fmt.Errorf("%w: at most %d jobs may run at a time", domain.ErrAdmissionRejected, limit)
	}
	c.logger.Debug().Str("user_id", rc.UserID).Int64("active", n).Int("limit", limit).Msg("admission: admitted")
	return &Ticket{controller: c, key: key, UserID: rc.UserID, Active: n}, nil
}

// Usage returns the current counter for userID.
func (c *Controller) Usage(ctx context.Context, userID string) (int64, error) {
	n, err := c.store.Int(ctx, c.key(userID))
	if err != nil {
		return 0, fmt.Errorf("admission: %w", err)
	}
	return n, nil
}

// Reset clears the counter for userID.
func (c *Controller) Reset(ctx context.Context, userID string) error {
	if err := c.store.Delete(ctx, c.key(userID)); err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	return nil
}

// Ticket represents one admitted run.
type Ticket struct {
	controller *Controller
	key        string
	once       sync.Once
	err        error

	UserID string
	Active int64
}

// Release returns the slot. Calling it more than once is a no-op.
func (t *Ticket) Release(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		if err := t.controller.store.Run(ctx, releaseScript, []string{t.key}).Err(); err != nil {
			t.err = fmt.Errorf("admission: release: %w", err)
		}
	})
	return t.err
}

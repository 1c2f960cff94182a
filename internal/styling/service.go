// Package styling runs one generation request end to end: admission, the
// per-suggestion lease, job state transitions, the remote pipeline and
// finalization.
package styling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lookbook/internal/admission"
	"lookbook/internal/domain"
	"lookbook/internal/finalizer"
	"lookbook/internal/infra"
	"lookbook/internal/jobs"
	"lookbook/internal/orchestrator"
	"lookbook/internal/pipelock"
	"lookbook/internal/providers/suggest"
	"lookbook/internal/storage"
	"lookbook/pkg/zip"
)

const DefaultSuggestionCount = 3

// Runner executes the remote image workflow for one suggestion.
type Runner interface {
	Run(ctx context.Context, in orchestrator.PipelineInput) (*orchestrator.PipelineResult, error)
}

// Finalizer records outcomes and frees the lease.
type Finalizer interface {
	Succeed(ctx context.Context, lease finalizer.Lease, job *domain.Job, index int, hooks finalizer.Hooks) (*domain.Look, error)
	Fail(ctx context.Context, lease finalizer.Lease, job *domain.Job, index int, cause error) error
}

type Options struct {
	Admission *admission.Controller
	Locks     *pipelock.Locker
	Jobs      *jobs.Store
	Looks     domain.LookRepository
	Suggester suggest.Provider
	Pipeline  Runner
	Finalizer Finalizer
	// Blobs serves mirrored images for ArchiveLooks.
	Blobs           storage.Blob
	SuggestionCount int
	Logger          *infra.Logger
	Now             func() time.Time
	NewID           func() string
}

type Service struct {
	admission       *admission.Controller
	locks           *pipelock.Locker
	jobs            *jobs.Store
	looks           domain.LookRepository
	suggester       suggest.Provider
	pipeline        Runner
	finalizer       Finalizer
	blobs           storage.Blob
	suggestionCount int
	logger          *infra.Logger
	now             func() time.Time
	newID           func() string
}

func NewService(opts Options) *Service {
	count := opts.SuggestionCount
	if count <= 0 {
		count = DefaultSuggestionCount
	}
	suggester := opts.Suggester
	if suggester == nil {
		suggester = suggest.NewStaticProvider()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		admission:       opts.Admission,
		locks:           opts.Locks,
		jobs:            opts.Jobs,
		looks:           opts.Looks,
		suggester:       suggester,
		pipeline:        opts.Pipeline,
		finalizer:       opts.Finalizer,
		blobs:           opts.Blobs,
		suggestionCount: count,
		logger:          infra.LoggerOrDiscard(opts.Logger),
		now:             now,
		newID:           newID,
	}
}

// GenerateRequest starts a new job when JobID is empty, otherwise it runs or
// retries one suggestion of an existing job.
type GenerateRequest struct {
	JobID           string
	SuggestionIndex int
	Input           domain.JobInput
}

type GenerateResult struct {
	JobID           string            `json:"jobId"`
	Status          domain.JobStatus  `json:"status"`
	SuggestionIndex int               `json:"suggestionIndex"`
	Suggestion      domain.Suggestion `json:"suggestion"`
	Look            *domain.Look      `json:"look,omitempty"`
}

func resultFor(job *domain.Job, index int) *GenerateResult {
	res := &GenerateResult{JobID: job.ID, Status: job.Status, SuggestionIndex: index}
	if s, err := job.Suggestion(index); err == nil {
		res.Suggestion = *s
	}
	return res
}

// Generate runs one suggestion to a terminal state. A suggestion that already
// succeeded is returned as is without taking a quota slot or calling the
// remote service.
func (s *Service) Generate(ctx context.Context, rc domain.RequestContext, req GenerateRequest) (*GenerateResult, error) {
	rc = rc.Normalize()
	index := req.SuggestionIndex
	if index < 0 {
		return nil, fmt.Errorf("%w: index %d", domain.ErrInvalidSuggestion, index)
	}

	var existing *domain.Job
	if req.JobID == "" {
		if index != 0 {
			return nil, domain.ErrJobNotFound
		}
		req.Input.Provider = domain.NormalizeProvider(string(req.Input.Provider))
		if err := req.Input.Validate(); err != nil {
			return nil, err
		}
	} else {
		job, err := s.jobs.Load(ctx, rc, req.JobID)
		if err != nil {
			return nil, err
		}
		if !(job.NeedsSuggestions() && index == 0) {
			sg, err := job.Suggestion(index)
			if err != nil {
				return nil, err
			}
			if sg.Status == domain.SuggestionStatusSucceeded {
				return resultFor(job, index), nil
			}
		}
		existing = job
	}

	ticket, err := s.admission.TryAdmit(ctx, rc)
	if err != nil {
		return nil, err
	}
	defer s.releaseTicket(ctx, ticket)

	job := existing
	if job == nil {
		job = domain.NewJob(s.newID(), rc.UserID, req.Input, s.now().UTC())
		if err := s.jobs.Create(ctx, job); err != nil {
			return nil, err
		}
		s.logger.Info().Str("job_id", job.ID).Str("user_id", rc.UserID).Str("provider", string(job.Input.Provider)).Msg("styling: job created")
	}

	lease, err := s.locks.Acquire(ctx, job.ID, index)
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)
	// polling can outlast the lease TTL; keep it while this run is alive
	stopKeepAlive := lease.KeepAlive(ctx, 0)
	defer stopKeepAlive()

	if existing != nil {
		// another run may have finished between the preload and the lease
		fresh, err := s.jobs.Get(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		job = fresh
		if sg, err := job.Suggestion(index); err == nil && sg.Status == domain.SuggestionStatusSucceeded {
			return resultFor(job, index), nil
		}
	}

	return s.run(ctx, lease, job, index)
}

func (s *Service) run(ctx context.Context, lease *pipelock.Lease, job *domain.Job, index int) (res *GenerateResult, err error) {
	log := s.logger.With().Str("job_id", job.ID).Int("suggestion_index", index).Logger()
	started := false
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("styling: run panicked")
			if started {
				s.markFailed(ctx, job.ID, index, fmt.Sprintf("internal error: %v", r))
			}
			panic(r)
		}
	}()

	if job.NeedsSuggestions() {
		items, err := s.suggester.Suggest(ctx, suggest.RequestFromInput(job.Input, s.suggestionCount))
		if err == nil && len(items) == 0 {
			err = errors.New("no style suggestions produced")
		}
		if err != nil {
			reason := fmt.Sprintf("style suggestions: %v", err)
			if _, uerr := s.jobs.Update(ctx, job.ID, func(j *domain.Job) error {
				j.Fail(reason, s.now().UTC())
				return nil
			}); uerr != nil {
				log.Error().Err(uerr).Msg("styling: persist job failure")
			}
			return nil, errors.Join(fmt.Errorf("styling: %w", err), s.finalizer.Fail(ctx, lease, job, index, err))
		}
		if len(items) > s.suggestionCount {
			items = items[:s.suggestionCount]
		}
		updated, err := s.jobs.Update(ctx, job.ID, func(j *domain.Job) error {
			if !j.NeedsSuggestions() {
				return nil
			}
			return j.SetSuggestions(items, s.now().UTC())
		})
		if err != nil {
			return nil, errors.Join(err, s.finalizer.Fail(ctx, lease, job, index, err))
		}
		job = updated
		log.Info().Int("count", len(job.Suggestions)).Msg("styling: suggestions ready")
	}

	var prompt string
	running, err := s.jobs.Update(ctx, job.ID, func(j *domain.Job) error {
		sg, err := j.Suggestion(index)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := j.StartSuggestion(index, now); err != nil {
			return err
		}
		prompt = orchestrator.BuildPrompt(j.Input, sg.StyleSuggestion)
		return j.SetFinalPrompt(index, prompt, now)
	})
	if err != nil {
		return nil, errors.Join(err, s.finalizer.Fail(ctx, lease, job, index, err))
	}
	job = running
	started = true

	out, runErr := s.pipeline.Run(ctx, orchestrator.PipelineInput{
		JobID:        job.ID,
		Index:        index,
		Provider:     job.Input.Provider,
		Prompt:       prompt,
		UserImageURL: job.Input.UserImage.URL,
		ItemImageURL: job.Input.ItemImage.URL,
	})
	if runErr != nil {
		if failed := s.markFailed(ctx, job.ID, index, runErr.Error()); failed != nil {
			job = failed
		}
		return resultFor(job, index), errors.Join(runErr, s.finalizer.Fail(ctx, lease, job, index, runErr))
	}

	// the look is written before the job says succeeded, so a failed write
	// leaves the suggestion retryable
	done := job.Clone()
	if err := done.CompleteSuggestion(index, out.StylizedImageURLs, out.TryOnImageURLs, s.now().UTC()); err != nil {
		if failed := s.markFailed(ctx, job.ID, index, err.Error()); failed != nil {
			job = failed
		}
		return resultFor(job, index), errors.Join(err, s.finalizer.Fail(ctx, lease, job, index, err))
	}
	look, err := s.finalizer.Succeed(ctx, lease, done, index, finalizer.Hooks{
		Commit: func(ctx context.Context) error {
			completed, err := s.jobs.Update(ctx, job.ID, func(j *domain.Job) error {
				return j.CompleteSuggestion(index, out.StylizedImageURLs, out.TryOnImageURLs, s.now().UTC())
			})
			if err != nil {
				return err
			}
			job = completed
			return nil
		},
		Rollback: func(ctx context.Context, cause error) {
			if failed := s.markFailed(ctx, job.ID, index, fmt.Sprintf("finalize: %v", cause)); failed != nil {
				job = failed
			}
		},
	})
	res = resultFor(job, index)
	if err != nil {
		return res, err
	}
	res.Look = look
	log.Info().Str("look_id", look.ID).Msg("styling: suggestion succeeded")
	return res, nil
}

func (s *Service) markFailed(ctx context.Context, jobID string, index int, reason string) *domain.Job {
	job, err := s.jobs.Update(context.WithoutCancel(ctx), jobID, func(j *domain.Job) error {
		return j.FailSuggestion(index, reason, s.now().UTC())
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Int("suggestion_index", index).Msg("styling: persist suggestion failure")
		return nil
	}
	return job
}

func (s *Service) releaseLease(ctx context.Context, lease *pipelock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error().Err(err).Str("job_id", lease.JobID).Int("suggestion_index", lease.Index).Msg("styling: release lease")
	}
}

func (s *Service) releaseTicket(ctx context.Context, ticket *admission.Ticket) {
	if err := ticket.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error().Err(err).Str("user_id", ticket.UserID).Msg("styling: release admission slot")
	}
}

// Job returns the caller's job.
func (s *Service) Job(ctx context.Context, rc domain.RequestContext, jobID string) (*domain.Job, error) {
	return s.jobs.Load(ctx, rc.Normalize(), jobID)
}

// Jobs lists the caller's most recent jobs.
func (s *Service) Jobs(ctx context.Context, rc domain.RequestContext, limit int) ([]*domain.Job, error) {
	return s.jobs.ListRecent(ctx, rc.Normalize().UserID, limit)
}

// Looks lists the caller's saved looks, newest first.
func (s *Service) Looks(ctx context.Context, rc domain.RequestContext, limit, offset int) ([]domain.Look, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.looks.ListByUser(ctx, rc.Normalize().UserID, limit, offset)
}

// Look returns one of the caller's looks. Looks owned by someone else are
// reported as missing.
func (s *Service) Look(ctx context.Context, rc domain.RequestContext, lookID string) (*domain.Look, error) {
	look, err := s.looks.GetByID(ctx, lookID)
	if err != nil {
		return nil, err
	}
	if look.UserID != rc.Normalize().UserID {
		return nil, domain.ErrNotFound
	}
	return look, nil
}

type Quota struct {
	Active int64 `json:"active"`
	Limit  int   `json:"limit"`
	Guest  bool  `json:"guest"`
}

func (s *Service) Quota(ctx context.Context, rc domain.RequestContext) (*Quota, error) {
	rc = rc.Normalize()
	n, err := s.admission.Usage(ctx, rc.UserID)
	if err != nil {
		return nil, err
	}
	return &Quota{Active: n, Limit: s.admission.Limit(rc), Guest: rc.IsGuest}, nil
}

const maxArchiveLooks = 50

// ArchiveLooks zips the mirrored images of the caller's most recent looks.
// Looks whose image has not been mirrored yet are skipped.
func (s *Service) ArchiveLooks(ctx context.Context, rc domain.RequestContext, limit int) ([]byte, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: image storage not configured", domain.ErrNotFound)
	}
	if limit <= 0 || limit > maxArchiveLooks {
		limit = maxArchiveLooks
	}
	looks, err := s.looks.ListByUser(ctx, rc.Normalize().UserID, limit, 0)
	if err != nil {
		return nil, err
	}
	assets := make([]zip.Asset, 0, len(looks))
	for _, look := range looks {
		if look.StorageKey == "" {
			continue
		}
		data, err := s.blobs.Get(ctx, look.StorageKey)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Str("look_id", look.ID).Str("storage_key", look.StorageKey).Msg("styling: mirrored image missing")
			continue
		}
		if err != nil {
			return nil, err
		}
		assets = append(assets, zip.Asset{Filename: look.StorageKey, Data: data, Modified: look.CreatedAt})
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: no mirrored looks", domain.ErrNotFound)
	}
	return zip.Archive(assets)
}

// Package orchestrator drives remote generation tasks through submit and
// bounded polling, and chains them into the stylize/try-on pipeline.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"lookbook/internal/infra"
	"lookbook/internal/providers/kling"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 40
)

// TaskClient is the remote task API.
type TaskClient interface {
	Submit(ctx context.Context, ep kling.Endpoint, body any) (string, error)
	Status(ctx context.Context, ep kling.Endpoint, taskID string) (*kling.TaskStatus, error)
}

type Options struct {
	Client       TaskClient
	PollInterval time.Duration
	MaxAttempts  int
	Logger       *infra.Logger
	// Sleep replaces the poll wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Orchestrator struct {
	client      TaskClient
	interval    time.Duration
	maxAttempts int
	logger      *infra.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Orchestrator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Orchestrator{
		client:      opts.Client,
		interval:    interval,
		maxAttempts: attempts,
		logger:      infra.LoggerOrDiscard(opts.Logger),
		sleep:       sleep,
	}
}

// TaskRequest is one remote call: the workflow endpoint and its body.
type TaskRequest struct {
	Endpoint kling.Endpoint
	Body     any
	JobID    string
	Index    int
}

// RunTask submits the request and polls until the task resolves. It returns
// the URL of the produced image or a *TaskError.
func (o *Orchestrator) RunTask(ctx context.Context, req TaskRequest) (string, error) {
	stage := req.Endpoint.Name
	log := o.logger.With().
		Str("job_id", req.JobID).
		Int("suggestion_index", req.Index).
		Str("stage", stage).
		Logger()

	taskID, err := o.client.Submit(ctx, req.Endpoint, req.Body)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: submit failed")
		return "", &TaskError{Kind: KindSubmitFailed, Stage: stage, Err: err}
	}
	log = log.With().Str("task_id", taskID).Logger()
	log.Info().Msg("orchestrator: task submitted")

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		status, err := o.client.Status(ctx, req.Endpoint, taskID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", &TaskError{Kind: KindCanceled, Stage: stage, TaskID: taskID, Err: ctxErr}
			}
			log.Error().Err(err).Int("attempt", attempt).Msg("orchestrator: status check failed")
			return "", &TaskError{Kind: KindStatusCheckFailed, Stage: stage, TaskID: taskID, Err: err}
		}
		switch {
		case status.Succeeded():
			if status.URL == "" {
				return "", &TaskError{Kind: KindTaskFailed, Stage: stage, TaskID: taskID, Reason: "task succeeded without an image url"}
			}
			log.Info().Int("attempt", attempt).Msg("orchestrator: task succeeded")
			return status.URL, nil
		case status.Failed():
			reason := strings.TrimSpace(status.Message)
			if reason == "" {
				reason = "remote task failed"
			}
			log.Warn().Int("attempt", attempt).Str("reason", reason).Msg("orchestrator: task failed")
			return "", &TaskError{Kind: KindTaskFailed, Stage: stage, TaskID: taskID, Reason: reason}
		}
		log.Debug().Int("attempt", attempt).Str("status", status.Status).Msg("orchestrator: task pending")
		if attempt == o.maxAttempts {
			break
		}
		if err := o.sleep(ctx, o.interval); err != nil {
			return "", &TaskError{Kind: KindCanceled, Stage: stage, TaskID: taskID, Err: err}
		}
	}
	log.Warn().Int("attempts", o.maxAttempts).Msg("orchestrator: polling timed out")
	return "", &TaskError{Kind: KindPollingTimeout, Stage: stage, TaskID: taskID, Reason: "task did not finish in time"}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTaskError reports whether err carries a *TaskError.
func IsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	ok := errors.As(err, &te)
	return te, ok
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
	"lookbook/internal/middleware"
	"lookbook/internal/styling"
)

// Styling is the core surface the handlers drive.
type Styling interface {
	Generate(ctx context.Context, rc domain.RequestContext, req styling.GenerateRequest) (*styling.GenerateResult, error)
	Job(ctx context.Context, rc domain.RequestContext, jobID string) (*domain.Job, error)
	Jobs(ctx context.Context, rc domain.RequestContext, limit int) ([]*domain.Job, error)
	Looks(ctx context.Context, rc domain.RequestContext, limit, offset int) ([]domain.Look, error)
	Look(ctx context.Context, rc domain.RequestContext, lookID string) (*domain.Look, error)
	Quota(ctx context.Context, rc domain.RequestContext) (*styling.Quota, error)
	ArchiveLooks(ctx context.Context, rc domain.RequestContext, limit int) ([]byte, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config  *infra.Config
	Logger  *infra.Logger
	Styling Styling
	Health  Pinger
	// BaseCtx is cancelled on process shutdown. Generation runs are detached
	// from the client connection but still stop when it is done.
	BaseCtx context.Context
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, msg, details string) {
	a.json(w, code, errorResponse{Error: msg, Details: details})
}

// fail maps err onto a status code and the {error, details} body.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := classify(err)
	details := errorDetails(err)
	evt := a.logger().Warn()
	if code >= http.StatusInternalServerError {
		evt = a.logger().Error()
	}
	evt.Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Int("status", code).Msg("request failed")
	a.error(w, code, msg, details)
}

const maxDetailsLen = 512

// errorDetails is the caught error's message, cut to maxDetailsLen runes.
func errorDetails(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxDetailsLen {
		return msg
	}
	return string([]rune(msg)[:maxDetailsLen]) + "..."
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAdmissionRejected):
		return http.StatusTooManyRequests, domain.ErrAdmissionRejected.Error()
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusBadRequest, domain.ErrJobNotFound.Error()
	case errors.Is(err, domain.ErrDuplicateExecution):
		return http.StatusBadRequest, domain.ErrDuplicateExecution.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, domain.ErrInvalidInput.Error()
	case errors.Is(err, domain.ErrInvalidSuggestion):
		return http.StatusBadRequest, domain.ErrInvalidSuggestion.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrRemoteSubmitFailed):
		return http.StatusInternalServerError, domain.ErrRemoteSubmitFailed.Error()
	case errors.Is(err, domain.ErrRemoteStatusCheckFailed):
		return http.StatusInternalServerError, domain.ErrRemoteStatusCheckFailed.Error()
	case errors.Is(err, domain.ErrRemoteTaskFailed):
		return http.StatusInternalServerError, domain.ErrRemoteTaskFailed.Error()
	case errors.Is(err, domain.ErrPollingTimeout):
		return http.StatusInternalServerError, domain.ErrPollingTimeout.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func (a *App) logger() *infra.Logger {
	return infra.LoggerOrDiscard(a.Logger)
}

func (a *App) baseCtx() context.Context {
	if a.BaseCtx != nil {
		return a.BaseCtx
	}
	return context.Background()
}

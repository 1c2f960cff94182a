package orchestrator

import (
	"fmt"

	"lookbook/internal/domain"
)

// Kind classifies how a remote task ended.
type Kind string

const (
	KindSubmitFailed      Kind = "submit_failed"
	KindStatusCheckFailed Kind = "status_check_failed"
	KindTaskFailed        Kind = "task_failed"
	KindPollingTimeout    Kind = "polling_timeout"
	KindCanceled          Kind = "canceled"
)

// TaskError is returned for every failed remote task. errors.Is matches it
// against the domain sentinel for its Kind and against the wrapped cause.
type TaskError struct {
	Kind   Kind
	Stage  string
	TaskID string
	Reason string
	Err    error
}

func (e *TaskError) Error() string {
	msg := e.Stage + ": "
	if s := e.sentinel(); s != nil {
		msg += s.Error()
	} else {
		msg += string(e.Kind)
	}
	if e.TaskID != "" {
		msg += fmt.Sprintf(" (task %s)", e.TaskID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TaskError) Unwrap() []error {
	var errs []error
	if s := e.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *TaskError) sentinel() error {
	switch e.Kind {
	case KindSubmitFailed:
		return domain.ErrRemoteSubmitFailed
	case KindStatusCheckFailed:
		return domain.ErrRemoteStatusCheckFailed
	case KindTaskFailed:
		return domain.ErrRemoteTaskFailed
	case KindPollingTimeout:
		return domain.ErrPollingTimeout
	}
	return nil
}

package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidSuggestion       = errors.New("invalid suggestion index")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrAdmissionRejected       = errors.New("too many active jobs")
	ErrDuplicateExecution      = errors.New("job is already running")
	ErrJobNotFound             = errors.New("Job not exists")
	ErrRemoteSubmitFailed      = errors.New("remote submit failed")
	ErrRemoteStatusCheckFailed = errors.New("remote status check failed")
	ErrRemoteTaskFailed        = errors.New("remote task failed")
	ErrPollingTimeout          = errors.New("polling timeout")
)

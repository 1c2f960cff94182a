package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lookbook/internal/domain"
	"lookbook/internal/orchestrator"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"admission", fmt.Errorf("%w: at most 10", domain.ErrAdmissionRejected), http.StatusTooManyRequests, "too many active jobs"},
		{"unknown job", domain.ErrJobNotFound, http.StatusBadRequest, "Job not exists"},
		{"duplicate", fmt.Errorf("pipelock: %w", domain.ErrDuplicateExecution), http.StatusBadRequest, "job is already running"},
		{"bad index", fmt.Errorf("%w: index 9 of 3", domain.ErrInvalidSuggestion), http.StatusBadRequest, "invalid suggestion index"},
		{"look missing", domain.ErrNotFound, http.StatusNotFound, "not found"},
		{"remote status", &orchestrator.TaskError{Kind: orchestrator.KindStatusCheckFailed, Stage: "tryon"}, http.StatusInternalServerError, "remote status check failed"},
		{"timeout", &orchestrator.TaskError{Kind: orchestrator.KindPollingTimeout, Stage: "tryon"}, http.StatusInternalServerError, "polling timeout"},
		{"unknown", errors.New("redis: connection refused"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := classify(tc.err)
			if code != tc.code || msg != tc.msg {
				t.Fatalf("classify() = %d %q, want %d %q", code, msg, tc.code, tc.msg)
			}
		})
	}
}

func TestFailReportsUnclassifiedErrorDetails(t *testing.T) {
	a := &App{}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"message", errors.New("redis: connection refused"), "redis: connection refused"},
		{"long message", errors.New(strings.Repeat("x", 2*maxDetailsLen)), strings.Repeat("x", maxDetailsLen) + "..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.fail(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil), tc.err)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != "internal error" || body.Details != tc.want {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

package domain

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJob(t *testing.T, n int) *Job {
	t.Helper()
	job := NewJob("job-1", "", JobInput{Occasion: "gala"}, t0)
	items := make([]StyleSuggestion, n)
	for i := range items {
		items[i] = StyleSuggestion{Title: "look"}
	}
	if err := job.SetSuggestions(items, t0); err != nil {
		t.Fatalf("SetSuggestions: %v", err)
	}
	return job
}

func TestNewJobDefaults(t *testing.T) {
	job := NewJob("job-1", "  ", JobInput{}, t0)
	if job.UserID != DefaultUserID || job.Status != JobStatusPending || !job.NeedsSuggestions() {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestSetSuggestionsOnlyOnce(t *testing.T) {
	job := newTestJob(t, 3)
	if job.Status != JobStatusProcessing {
		t.Fatalf("status = %s, want processing", job.Status)
	}
	for i, s := range job.Suggestions {
		if s.Index != i || s.Status != SuggestionStatusPending || s.FinalPrompt != PendingPrompt {
			t.Fatalf("suggestion %d = %+v", i, s)
		}
	}
	if err := job.SetSuggestions([]StyleSuggestion{{}}, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second SetSuggestions err = %v", err)
	}
}

func TestSuggestionLifecycle(t *testing.T) {
	job := newTestJob(t, 2)
	if err := job.CompleteSuggestion(0, nil, nil, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete before start err = %v", err)
	}
	if err := job.StartSuggestion(0, t0); err != nil {
		t.Fatalf("StartSuggestion: %v", err)
	}
	if err := job.CompleteSuggestion(0, []string{"s"}, []string{"t"}, t0.Add(time.Minute)); err != nil {
		t.Fatalf("CompleteSuggestion: %v", err)
	}
	if job.Status != JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if got := job.Suggestions[0].FinalImageURL(); got != "t" {
		t.Fatalf("FinalImageURL = %q", got)
	}
	if err := job.StartSuggestion(0, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("restart succeeded err = %v", err)
	}

	// a later failure on another candidate keeps the job completed
	if err := job.StartSuggestion(1, t0); err != nil {
		t.Fatalf("StartSuggestion(1): %v", err)
	}
	if err := job.FailSuggestion(1, "NSFW", t0); err != nil {
		t.Fatalf("FailSuggestion: %v", err)
	}
	if job.Status != JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
}

func TestFailedSuggestionCanBeRetried(t *testing.T) {
	job := newTestJob(t, 1)
	_ = job.StartSuggestion(0, t0)
	if err := job.FailSuggestion(0, "timeout", t0); err != nil {
		t.Fatalf("FailSuggestion: %v", err)
	}
	if job.Status != JobStatusFailed || job.Error != "timeout" {
		t.Fatalf("job = %+v", job)
	}
	if err := job.StartSuggestion(0, t0); err != nil {
		t.Fatalf("retry StartSuggestion: %v", err)
	}
	if s := job.Suggestions[0]; s.Status != SuggestionStatusGeneratingImages || s.Error != "" {
		t.Fatalf("suggestion = %+v", s)
	}
	if job.Status != JobStatusProcessing {
		t.Fatalf("status = %s, want processing", job.Status)
	}
}

func TestSuggestionIndexBounds(t *testing.T) {
	job := newTestJob(t, 2)
	for _, idx := range []int{-1, 2, 9} {
		if _, err := job.Suggestion(idx); !errors.Is(err, ErrInvalidSuggestion) {
			t.Fatalf("Suggestion(%d) err = %v", idx, err)
		}
	}
}

func TestValidateReportsMissingFields(t *testing.T) {
	err := JobInput{Occasion: "gala"}.Validate()
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	want := "invalid input: missing userImage.url, itemImage.url, mode"
	if err.Error() != want {
		t.Fatalf("err = %q, want %q", err.Error(), want)
	}
}

func TestNormalizeProvider(t *testing.T) {
	tests := map[string]Provider{
		"":              ProviderKling,
		"kling":         ProviderKling,
		" Kling-TryOn ": ProviderKlingTryOn,
		"unknown":       ProviderKling,
	}
	for in, want := range tests {
		if got := NormalizeProvider(in); got != want {
			t.Fatalf("NormalizeProvider(%q) = %q, want %q", in, got, want)
		}
	}
	if ProviderKlingTryOn.TwoStage() || !ProviderKling.TwoStage() {
		t.Fatalf("TwoStage mismatch")
	}
}

func TestNewLookRequiresSuccess(t *testing.T) {
	job := newTestJob(t, 1)
	if _, err := NewLook(job, 0, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
	_ = job.StartSuggestion(0, t0)
	_ = job.CompleteSuggestion(0, []string{"https://x/s.png"}, nil, t0)
	look, err := NewLook(job, 0, t0)
	if err != nil {
		t.Fatalf("NewLook: %v", err)
	}
	if look.ID != "job-1-0" || look.FinalImageURL != "https://x/s.png" || look.UserID != DefaultUserID {
		t.Fatalf("look = %+v", look)
	}
}

func TestRequestContextNormalize(t *testing.T) {
	rc := RequestContext{UserID: " "}.Normalize()
	if rc.UserID != DefaultUserID || !rc.IsGuest {
		t.Fatalf("rc = %+v", rc)
	}
	rc = RequestContext{UserID: "u-1"}.Normalize()
	if rc.UserID != "u-1" || rc.IsGuest {
		t.Fatalf("rc = %+v", rc)
	}
}

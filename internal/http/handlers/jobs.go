package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"lookbook/internal/domain"
	"lookbook/internal/middleware"
)

type jobSummary struct {
	JobID       string           `json:"jobId"`
	Status      domain.JobStatus `json:"status"`
	Occasion    string           `json:"occasion"`
	Suggestions int              `json:"suggestions"`
	Succeeded   int              `json:"succeeded"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func summarize(job *domain.Job) jobSummary {
	s := jobSummary{
		JobID:       job.ID,
		Status:      job.Status,
		Occasion:    job.Input.Occasion,
		Suggestions: len(job.Suggestions),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	for _, sg := range job.Suggestions {
		if sg.Status == domain.SuggestionStatusSucceeded {
			s.Succeeded++
		}
	}
	return s
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	rc := middleware.RequestContextFrom(r.Context())
	list, err := a.Styling.Jobs(r.Context(), rc, queryInt(r, "limit", 20))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]jobSummary, 0, len(list))
	for _, job := range list {
		out = append(out, summarize(job))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	rc := middleware.RequestContextFrom(r.Context())
	job, err := a.Styling.Job(r.Context(), rc, chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

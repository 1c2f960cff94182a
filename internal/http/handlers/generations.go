package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"lookbook/internal/domain"
	"lookbook/internal/middleware"
	"lookbook/internal/styling"
)

// generateRequest accepts either a new job's input or {jobId, suggestionIndex}.
type generateRequest struct {
	domain.JobInput
	JobID           string `json:"jobId"`
	SuggestionIndex int    `json:"suggestionIndex"`
}

const maxGenerateBody = 1 << 20

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.ErrInvalidInput.Error(), "invalid payload")
		return
	}
	rc := middleware.RequestContextFrom(r.Context())

	// A dropped client connection must not abandon a paid remote task, but
	// shutdown still cancels it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(a.baseCtx(), cancel)
	defer stop()

	res, err := a.Styling.Generate(ctx, rc, styling.GenerateRequest{
		JobID:           req.JobID,
		SuggestionIndex: req.SuggestionIndex,
		Input:           req.JobInput,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lookbook/internal/middleware"
)

func (a *App) ListLooks(w http.ResponseWriter, r *http.Request) {
	rc := middleware.RequestContextFrom(r.Context())
	looks, err := a.Styling.Looks(r.Context(), rc, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"looks": looks})
}

func (a *App) GetLook(w http.ResponseWriter, r *http.Request) {
	rc := middleware.RequestContextFrom(r.Context())
	look, err := a.Styling.Look(r.Context(), rc, chi.URLParam(r, "look_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, look)
}

func (a *App) Quota(w http.ResponseWriter, r *http.Request) {
	q, err := a.Styling.Quota(r.Context(), middleware.RequestContextFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, q)
}

func (a *App) ArchiveLooks(w http.ResponseWriter, r *http.Request) {
	rc := middleware.RequestContextFrom(r.Context())
	data, err := a.Styling.ArchiveLooks(r.Context(), rc, queryInt(r, "limit", 0))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="looks.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

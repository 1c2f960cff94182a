package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Healthz(w http.ResponseWriter, r *http.Request) {
	if a.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Health.Ping(ctx); err != nil {
			a.error(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

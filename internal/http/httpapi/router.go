package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lookbook/internal/http/handlers"
	"lookbook/internal/infra"
	"lookbook/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	var (
		origins    []string
		secret     string
		rateLimit  int
		trustProxy bool
	)
	if app.Config != nil {
		origins = app.Config.CORSAllowedOrigins
		secret = app.Config.JWTSecret
		rateLimit = app.Config.RateLimitPerMin
		trustProxy = app.Config.TrustProxy
	}

	r.Use(middleware.RequestID)
	// forwarding headers are client-controlled unless a proxy rewrites them
	if trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(
		middleware.Logger(*infra.LoggerOrDiscard(app.Logger)),
		chimw.Recoverer,
		middleware.CORS(origins),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Healthz)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity(secret))

			// only generation spends remote credits; polling stays unthrottled
			r.With(middleware.RateLimit(rateLimit, time.Minute)).Post("/generations", app.Generate)
			r.Get("/jobs", app.ListJobs)
			r.Get("/jobs/{job_id}", app.GetJob)
			r.Get("/looks", app.ListLooks)
			r.Get("/looks/archive", app.ArchiveLooks)
			r.Get("/looks/{look_id}", app.GetLook)
			r.Get("/quota", app.Quota)
		})
	})

	return r
}

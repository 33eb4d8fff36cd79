package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openjobspec/ojs-jobstore-nats/internal/api"
)

// NewRouter creates the admin HTTP router over a job store.
func NewRouter(store api.Store, health api.HealthChecker, backend string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(api.OJSHeaders)
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)
	r.Use(api.ValidateContentType)

	systemH := api.NewSystemHandler(store, health, backend)
	jobH := api.NewJobHandler(store)
	triggerH := api.NewTriggerHandler(store)
	calendarH := api.NewCalendarHandler(store)

	r.Get("/health", systemH.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/counts", systemH.Counts)
		r.Post("/pause-all", systemH.PauseAll)
		r.Post("/resume-all", systemH.ResumeAll)
		r.Delete("/data", systemH.Clear)

		r.Get("/jobs", jobH.List)
		r.Post("/jobs", jobH.Create)
		r.Post("/jobs/batch", jobH.CreateBatch)
		r.Get("/jobs/{key}", jobH.Get)
		r.Delete("/jobs/{key}", jobH.Delete)
		r.Post("/jobs/{key}/pause", jobH.Pause)
		r.Post("/jobs/{key}/resume", jobH.Resume)
		r.Post("/jobs/{key}/unlock", jobH.Unlock)

		r.Get("/job-groups", jobH.Groups)
		r.Post("/job-groups/pause", jobH.PauseGroups)
		r.Post("/job-groups/resume", jobH.ResumeGroups)

		r.Get("/triggers", triggerH.List)
		r.Post("/triggers", triggerH.Create)
		r.Get("/triggers/{key}", triggerH.Get)
		r.Put("/triggers/{key}", triggerH.Replace)
		r.Delete("/triggers/{key}", triggerH.Delete)
		r.Post("/triggers/{key}/pause", triggerH.Pause)
		r.Post("/triggers/{key}/resume", triggerH.Resume)
		r.Post("/triggers/{key}/unlock", triggerH.Unlock)

		r.Get("/trigger-groups", triggerH.Groups)
		r.Get("/trigger-groups/paused", triggerH.PausedGroups)
		r.Post("/trigger-groups/pause", triggerH.PauseGroups)
		r.Post("/trigger-groups/resume", triggerH.ResumeGroups)

		r.Get("/calendars", calendarH.List)
		r.Post("/calendars", calendarH.Create)
		r.Get("/calendars/{name}", calendarH.Get)
		r.Delete("/calendars/{name}", calendarH.Delete)
	})

	return r
}

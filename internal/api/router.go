/**
 * @description
 * This file sets up the HTTP router for the charity service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, panic recovery, CORS and authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for chi.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and returns the router for the charity service.
// Project mutation, the full donation list and the report export are
// superuser operations; donating and reading one's own donations only require
// authentication; the project list and health check are public.
func NewRouter(h *CharityHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.ListProjectsHandler)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(jwtSecret))
			r.Use(RequireSuperuser)

			r.Post("/", h.CreateProjectHandler)
			r.Patch("/{projectID}", h.UpdateProjectHandler)
			r.Delete("/{projectID}", h.DeleteProjectHandler)
		})
	})

	r.Route("/donations", func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/", h.CreateDonationHandler)
		r.Get("/my", h.ListMyDonationsHandler)

		r.Group(func(r chi.Router) {
			r.Use(RequireSuperuser)
			r.Get("/", h.ListDonationsHandler)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))
		r.Use(RequireSuperuser)
		r.Get("/report/google", h.GoogleReportHandler)
	})

	return r
}

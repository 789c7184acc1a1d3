// Package api assembles the HTTP router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/api/handlers"
	"github.com/finledger/finledger/internal/api/middleware"
)

// RouterConfig carries the handlers mounted by NewRouter.
type RouterConfig struct {
	Imports    *handlers.ImportsHandler
	Statements *handlers.StatementsHandler
	Jobs       *handlers.JobsHandler
	Log        zerolog.Logger
}

// NewRouter builds the full route tree. Everything except the health probe
// requires a caller identity.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Log))
	r.Use(middleware.Recovery(cfg.Log))
	r.Use(middleware.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", handlers.Health)

		api.Group(func(authed chi.Router) {
			authed.Use(middleware.RequireUser)

			authed.Route("/imports", func(r chi.Router) {
				r.Get("/", cfg.Imports.List)
				r.Post("/", cfg.Imports.Upload)
				r.Get("/template", cfg.Imports.Template)
				r.Post("/confirm", cfg.Imports.Confirm)
				r.Get("/{importID}", cfg.Imports.Get)
				r.Get("/{importID}/job", cfg.Imports.Job)
				r.Post("/{importID}/discard", cfg.Imports.Discard)
			})

			authed.Route("/statements", func(r chi.Router) {
				r.Get("/", cfg.Statements.List)
				r.Post("/", cfg.Statements.Upload)
				r.Post("/confirm", cfg.Statements.Confirm)
				r.Get("/{statementID}", cfg.Statements.Get)
				r.Get("/{statementID}/job", cfg.Statements.Job)
				r.Post("/{statementID}/discard", cfg.Statements.Discard)
			})

			authed.Route("/jobs", func(r chi.Router) {
				r.Get("/", cfg.Jobs.List)
				r.Get("/{executionID}", cfg.Jobs.Get)
			})
		})
	})

	return r
}

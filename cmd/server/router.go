package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/scribe/internal/api"
	apiMiddleware "github.com/phrazzld/scribe/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	taskHandler := api.NewTaskHandler(app.taskService, app.logger)
	streamHandler := api.NewStreamHandler(app.chatService, app.logger)
	quotaHandler := api.NewQuotaHandler(app.quota)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		taskHandler.Routes(r)
		streamHandler.Routes(r)
		quotaHandler.Routes(r)
	})

	r.Get("/health", app.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry}))

	return r
}

// handleHealth reports OK when the queue transport is reachable. Without the
// queue, tasks still reach workers through the backup poller, so the check
// degrades instead of failing.
func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "OK"
	if err := app.infra.transport.Ping(r.Context()); err != nil {
		app.logger.Warn("health check: queue unreachable", "error", err)
		status = "DEGRADED"
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(status)); err != nil {
		app.logger.Error("failed to write health check response", "error", err)
	}
}

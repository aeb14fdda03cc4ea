package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/remoterelay-bridge/internal/auth"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

		// WebSocket authenticates with a ticket or token query parameter.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.requirePermission(auth.PermEntryManage)).Get("/audit", s.handleListAudit)

			r.Route("/flows", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermEntryManage))
				r.Post("/", s.handleCreateFlow)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetFlow)
					r.Delete("/", s.handleDeleteFlow)
					r.Post("/menu", s.handleFlowMenu)
					r.Post("/manual", s.handleFlowManual)
					r.Post("/discovery", s.handleFlowDiscovery)
					r.Post("/code", s.handleFlowCode)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermDeviceRead))
						r.Get("/", s.handleGetDevice)
						r.Get("/commands", s.handleListCommandLog)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermEntryManage))
						r.Patch("/", s.handleUpdateDevice)
						r.Delete("/", s.handleDeleteDevice)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermDeviceOperate))
						r.Post("/refresh", s.handleRefreshDevice)
						r.Post("/commands", s.handleSendCommands)
						r.Post("/navigate", s.handleNavigate)
						r.Post("/source", s.handleSelectSource)
						r.Post("/mute", s.handleMute)
						r.Post("/turn_on", s.handleTurnOn)
						r.Post("/turn_off", s.handleTurnOff)
						r.Post("/media/{action}", s.handleMediaAction)
						r.Post("/buttons/{key}/press", s.handlePressButton)
					})
				})
			})
		})
	})

	return r
}

// handleHealth reports the server and every registered component. Any
// failing component makes the response 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"entries":    s.manager.Len(),
		"components": components,
	})
}

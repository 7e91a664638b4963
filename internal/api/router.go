package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/gateway", s.handleGateway)
		r.Get("/data", s.handleListData)
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Get("/items", s.handleListItems)
		r.Get("/items/{name}", s.handleGetItem)
		r.Get("/setpoints", s.handleListSetpoints)
		r.Get("/setpoints/{target}", s.handleGetSetpoint)
		r.Get("/circuits", s.handleListCircuits)
		r.Get("/circuits/{name}", s.handleGetCircuit)

		// Mutating routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/items/{name}", s.handleWriteItem)
			r.Post("/commands", s.handleCommand)

			r.Route("/setpoints/{target}/{source}", func(r chi.Router) {
				r.Put("/", s.handleWriteSetpoint)
				r.Delete("/", s.handleWithdrawSetpoint)
				r.Post("/invalidate", s.handleInvalidateSetpoint)
			})

			r.Patch("/circuits/{name}", s.handleUpdateCircuit)
		})
	})

	return r
}

// wsPath returns the WebSocket route below /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Engine        string `json:"engine"`
	Link          string `json:"link,omitempty"`
	MQTT          string `json:"mqtt,omitempty"`
}

// handleHealth reports liveness. The status is "degraded" while the serial
// link is down or a transaction failed within the failure window.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.Stats()
	resp := healthResponse{
		Status:        "healthy",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Engine:        stats.State,
	}
	if s.failures.Observe(stats.Sequencer.Failures) {
		resp.Status = "degraded"
	}
	if s.link != nil {
		resp.Link = connState(s.link.Connected())
		if !s.link.Connected() {
			resp.Status = "degraded"
		}
	}
	if s.mqtt != nil {
		resp.MQTT = connState(s.mqtt.IsConnected())
	}
	writeJSON(w, http.StatusOK, resp)
}

func connState(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

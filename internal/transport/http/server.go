// Package http provides the gateway's public HTTP server.
package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/gateway/internal/hub"
)

// Server is the public HTTP server. It serves the REST API, the realtime
// channel and the health check.
type Server struct {
	echo *echo.Echo
	hub  *hub.Hub
	api  *Handler
}

// NewServer creates a new HTTP server. ws handles upgrades on /ws.
func NewServer(api *Handler, h *hub.Hub, ws echo.HandlerFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo: e,
		hub:  h,
		api:  api,
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/ws", ws)
	api.RegisterRoutes(e)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"topics":      s.hub.GetTopicCount(),
		"sessions":    len(s.api.svc.ListSessions()),
	})
}

package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/media"
	"github.com/xiaot623/gogo/gateway/internal/service"
)

// Handler handles REST requests.
type Handler struct {
	svc     *service.Service
	fetcher *media.Fetcher
	config  *config.Config
	log     zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, fetcher *media.Fetcher, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		fetcher: fetcher,
		config:  cfg,
		log:     logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Session management
	e.POST("/api/sessions", h.CreateSession)
	e.GET("/api/sessions", h.ListSessions)
	e.POST("/api/sessions/:id/logout", h.LogoutSession)
	e.POST("/api/sessions/:id/reconnect", h.ReconnectSession)
	e.DELETE("/api/sessions/:id", h.DeleteSession)

	// Dispatch
	e.POST("/:id/send-message", h.SendMessage)
	e.POST("/:id/send-media-local", h.SendMediaLocal)
	e.POST("/:id/send-media-upload", h.SendMediaUpload)
	e.POST("/:id/send-media-link", h.SendMediaLink)
	e.POST("/:id/send-group-message", h.SendGroupMessage)
	e.POST("/:id/clear-message", h.ClearMessage)
	e.POST("/:id/delete-message", h.DeleteMessage)
}

// dispatchError writes the dispatch envelope for err.
func (h *Handler) dispatchError(c echo.Context, err error) error {
	var verr *domain.ValidationError
	var aerr *domain.AdapterError

	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{"status": false, "error": "Session not found"})
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{"status": false, "message": "Invalid request", "errors": verr.Fields})
	case errors.Is(err, domain.ErrRecipientUnregistered):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{"status": false, "message": "The number is not registered"})
	case errors.Is(err, domain.ErrGroupNotFound):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{"status": false, "message": err.Error()})
	case errors.Is(err, domain.ErrSessionNotReady):
		return c.JSON(http.StatusConflict, map[string]interface{}{"status": false, "error": "Session is not ready"})
	case errors.Is(err, domain.ErrDispatchBlocked):
		return c.JSON(http.StatusForbidden, map[string]interface{}{"status": false, "error": err.Error()})
	case errors.As(err, &aerr):
		h.log.Error().Err(err).Str("session_id", c.Param("id")).Str("op", aerr.Op).Msg("engine call failed")
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"status": false, "error": aerr.Err.Error()})
	default:
		h.log.Error().Err(err).Str("session_id", c.Param("id")).Msg("dispatch failed")
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"status": false, "error": err.Error()})
	}
}

// sessionError writes the session management envelope for err.
func (h *Handler) sessionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("session_id", c.Param("id")).Msg("session operation failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	SessionID string `json:"sessionId" form:"sessionId"`
}

// CreateSession registers a new session and starts its client.
func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"errors": map[string]string{"sessionId": "sessionId is required"},
		})
	}

	if err := h.svc.CreateSession(c.Request().Context(), req.SessionID); err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.Is(err, domain.ErrSessionExists):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Session already exists"})
		case errors.As(err, &verr):
			return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": verr.Fields})
		default:
			return h.sessionError(c, err)
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session created. Please scan the QR code.",
	})
}

// ListSessions returns every live session in creation order.
func (h *Handler) ListSessions(c echo.Context) error {
	sessions := h.svc.ListSessions()
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// LogoutSession signs a session out of its account.
func (h *Handler) LogoutSession(c echo.Context) error {
	if err := h.svc.Logout(c.Request().Context(), c.Param("id")); err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// ReconnectSession restarts the client of a disconnected session.
func (h *Handler) ReconnectSession(c echo.Context) error {
	if err := h.svc.Reconnect(c.Request().Context(), c.Param("id")); err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session reconnecting.",
	})
}

// DeleteSession destroys a session and schedules removal of its credentials.
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

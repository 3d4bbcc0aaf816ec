package http

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/media"
)

// SendMessageRequest is the body of POST /:id/send-message.
type SendMessageRequest struct {
	Number  string `json:"number" form:"number"`
	Message string `json:"message" form:"message"`
}

// SendMediaRequest is the body of the send-media routes. File is a path under
// the media directory for send-media-local and a URL for send-media-link.
type SendMediaRequest struct {
	Number  string `json:"number" form:"number"`
	Caption string `json:"caption" form:"caption"`
	File    string `json:"file" form:"file"`
	Title   string `json:"title" form:"title"`
}

// SendGroupMessageRequest is the body of POST /:id/send-group-message.
type SendGroupMessageRequest struct {
	ID      string `json:"id" form:"id"`
	Name    string `json:"name" form:"name"`
	Message string `json:"message" form:"message"`
}

// ChatRequest is the body of POST /:id/clear-message.
type ChatRequest struct {
	Number string `json:"number" form:"number"`
}

// DeleteMessageRequest is the body of POST /:id/delete-message. Everyone
// defaults to true.
type DeleteMessageRequest struct {
	Number   string `json:"number" form:"number"`
	Limit    int    `json:"limit" form:"limit"`
	Everyone *bool  `json:"everyone"`
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{"status": false, "error": "invalid request body"})
}

func sent(c echo.Context, receipt *domain.MessageReceipt) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"status": true, "response": receipt})
}

// SendMessage sends a text message.
func (h *Handler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	receipt, err := h.svc.SendText(c.Request().Context(), c.Param("id"), req.Number, req.Message)
	if err != nil {
		return h.dispatchError(c, err)
	}
	return sent(c, receipt)
}

// SendMediaLocal sends a file from the media directory.
func (h *Handler) SendMediaLocal(c echo.Context) error {
	var req SendMediaRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	src := media.Local(h.config.MediaDir, req.File, h.config.MediaMaxBytes)
	receipt, err := h.svc.SendMedia(c.Request().Context(), c.Param("id"), req.Number, src, req.Caption)
	if err != nil {
		return h.dispatchError(c, err)
	}
	return sent(c, receipt)
}

// SendMediaUpload sends a file uploaded as multipart field "file".
func (h *Handler) SendMediaUpload(c echo.Context) error {
	var req SendMediaRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	var fh *multipart.FileHeader
	if f, err := c.FormFile("file"); err == nil {
		fh = f
	}

	src := media.Upload(fh, req.Title, h.config.MediaMaxBytes)
	receipt, err := h.svc.SendMedia(c.Request().Context(), c.Param("id"), req.Number, src, req.Caption)
	if err != nil {
		return h.dispatchError(c, err)
	}
	return sent(c, receipt)
}

// SendMediaLink sends a file downloaded from a URL.
func (h *Handler) SendMediaLink(c echo.Context) error {
	var req SendMediaRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	title := req.Title
	if title == "" {
		title = media.DefaultFileName
	}
	src := h.fetcher.Remote(req.File, title)
	receipt, err := h.svc.SendMedia(c.Request().Context(), c.Param("id"), req.Number, src, req.Caption)
	if err != nil {
		return h.dispatchError(c, err)
	}
	return sent(c, receipt)
}

// SendGroupMessage sends a text message to a group chosen by id or name.
func (h *Handler) SendGroupMessage(c echo.Context) error {
	var req SendGroupMessageRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	target := domain.GroupTarget{ID: req.ID, Name: req.Name}
	receipt, err := h.svc.SendToGroup(c.Request().Context(), c.Param("id"), target, req.Message)
	if err != nil {
		return h.dispatchError(c, err)
	}
	return sent(c, receipt)
}

// ClearMessage clears the chat with a user.
func (h *Handler) ClearMessage(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	if err := h.svc.ClearMessages(c.Request().Context(), c.Param("id"), req.Number); err != nil {
		return h.dispatchError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": true, "message": "Chat cleared"})
}

// DeleteMessage deletes this session's own recent messages in a chat.
func (h *Handler) DeleteMessage(c echo.Context) error {
	var req DeleteMessageRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}

	everyone := true
	if req.Everyone != nil {
		everyone = *req.Everyone
	} else if v := c.FormValue("everyone"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return h.dispatchError(c, domain.NewValidationError("everyone", "everyone must be a boolean"))
		}
		everyone = b
	}

	summary, err := h.svc.DeleteOwnMessages(c.Request().Context(), c.Param("id"), req.Number, req.Limit, everyone)
	if err != nil {
		return h.dispatchError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   true,
		"message":  fmt.Sprintf("Deleted %d of %d messages", summary.Succeeded, summary.Attempted),
		"response": summary,
	})
}

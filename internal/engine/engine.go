// Package engine defines the boundary to the external connection engine that
// speaks the messaging protocol. One Client exists per session.
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// ErrClosed is returned by a Client whose underlying resource is already gone.
var ErrClosed = errors.New("engine client closed")

// Callbacks receives lifecycle events from one Client. Implementations are
// bound to a single session; the engine delivers callbacks for a session
// serially and in emission order.
type Callbacks interface {
	OnQR(payload string)
	OnAuthenticated()
	OnReady(identity domain.Identity)
	OnDisconnected(reason string)
	OnReconnecting()
	OnAuthFailure(reason string)
	OnMessageAck(messageID string, level domain.AckLevel)
	OnMessage(msg domain.InboundMessage)
}

// Client is one session's connection to the engine. Every call blocks the
// calling goroutine until the engine resolves it.
type Client interface {
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, to, body string) (*domain.MessageReceipt, error)
	SendMedia(ctx context.Context, to string, media domain.Media, caption string) (*domain.MessageReceipt, error)
	GetChats(ctx context.Context) ([]domain.Chat, error)
	FetchMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error)
	DeleteMessage(ctx context.Context, chatID, messageID string, everyone bool) error
	ClearChat(ctx context.Context, chatID string) error
	IsRegisteredUser(ctx context.Context, id string) (bool, error)
	Logout(ctx context.Context) error
	// Destroy releases the engine resources. Calling it on a destroyed or
	// never-initialized client must not fail with anything but ErrClosed.
	Destroy(ctx context.Context) error
}

// Factory constructs a Client for a session. New must not block.
type Factory interface {
	New(sessionID string, callbacks Callbacks) Client
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(sessionID string, callbacks Callbacks) Client

// New implements Factory.
func (f FactoryFunc) New(sessionID string, callbacks Callbacks) Client {
	return f(sessionID, callbacks)
}

// IsClosed reports whether err means the engine resource was already torn down.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Target closed") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "client closed")
}

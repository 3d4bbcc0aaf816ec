// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
)

// Fake is an engine.Client whose behaviour is driven by the test. Lifecycle
// callbacks are emitted explicitly through the Emit* methods.
type Fake struct {
	SessionID string

	mu          sync.Mutex
	callbacks   engine.Callbacks
	initialized chan struct{}
	initOnce    sync.Once
	destroyed   int
	loggedOut   bool
	sent        []Sent
	deleted     []string
	cleared     []string

	// Chats is returned by GetChats.
	Chats []domain.Chat
	// Messages maps chat id to the messages FetchMessages returns, newest last.
	Messages map[string][]domain.ChatMessage
	// Unregistered lists ids IsRegisteredUser reports as unknown.
	Unregistered map[string]bool

	InitErr    error
	SendErr    error
	ChatsErr   error
	LogoutErr  error
	DestroyErr error
	// DeleteErr is consulted for every message deletion.
	DeleteErr func(messageID string) error
	// OnDestroy runs at the start of every Destroy call.
	OnDestroy func()
}

// Sent records one outbound message.
type Sent struct {
	To      string
	Body    string
	Media   *domain.Media
	Caption string
}

var _ engine.Client = (*Fake)(nil)

// NewFake returns a Fake bound to the given callbacks.
func NewFake(sessionID string, callbacks engine.Callbacks) *Fake {
	return &Fake{
		SessionID:    sessionID,
		callbacks:    callbacks,
		initialized:  make(chan struct{}),
		Messages:     make(map[string][]domain.ChatMessage),
		Unregistered: make(map[string]bool),
	}
}

// Initialize implements engine.Client.
func (f *Fake) Initialize(ctx context.Context) error {
	f.initOnce.Do(func() { close(f.initialized) })
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.InitErr
}

// Initialized is closed once Initialize has been called.
func (f *Fake) Initialized() <-chan struct{} {
	return f.initialized
}

// WaitInitialized blocks until Initialize is called or the timeout elapses.
func (f *Fake) WaitInitialized(timeout time.Duration) bool {
	select {
	case <-f.initialized:
		return true
	case <-time.After(timeout):
		return false
	}
}

// SendMessage implements engine.Client.
func (f *Fake) SendMessage(ctx context.Context, to, body string) (*domain.MessageReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	f.sent = append(f.sent, Sent{To: to, Body: body})
	return &domain.MessageReceipt{
		ID:        fmt.Sprintf("msg-%d", len(f.sent)),
		To:        to,
		Timestamp: time.Now().Unix(),
	}, nil
}

// SendMedia implements engine.Client.
func (f *Fake) SendMedia(ctx context.Context, to string, media domain.Media, caption string) (*domain.MessageReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	m := media
	f.sent = append(f.sent, Sent{To: to, Media: &m, Caption: caption})
	return &domain.MessageReceipt{
		ID:        fmt.Sprintf("msg-%d", len(f.sent)),
		To:        to,
		Timestamp: time.Now().Unix(),
		HasMedia:  true,
	}, nil
}

// GetChats implements engine.Client.
func (f *Fake) GetChats(ctx context.Context) ([]domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChatsErr != nil {
		return nil, f.ChatsErr
	}
	return append([]domain.Chat(nil), f.Chats...), nil
}

// FetchMessages implements engine.Client.
func (f *Fake) FetchMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.Messages[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

// DeleteMessage implements engine.Client.
func (f *Fake) DeleteMessage(ctx context.Context, chatID, messageID string, everyone bool) error {
	f.mu.Lock()
	hook := f.DeleteErr
	f.mu.Unlock()
	if hook != nil {
		if err := hook(messageID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

// ClearChat implements engine.Client.
func (f *Fake) ClearChat(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, chatID)
	return nil
}

// IsRegisteredUser implements engine.Client.
func (f *Fake) IsRegisteredUser(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Unregistered[id], nil
}

// Logout implements engine.Client.
func (f *Fake) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LogoutErr != nil {
		return f.LogoutErr
	}
	f.loggedOut = true
	return nil
}

// Destroy implements engine.Client.
func (f *Fake) Destroy(ctx context.Context) error {
	f.mu.Lock()
	hook := f.OnDestroy
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	if f.DestroyErr != nil {
		return f.DestroyErr
	}
	if f.destroyed > 1 {
		return engine.ErrClosed
	}
	return nil
}

// Destroyed returns how many times Destroy was called.
func (f *Fake) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// LoggedOut reports whether Logout succeeded.
func (f *Fake) LoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

// SentMessages returns a copy of the outbound messages.
func (f *Fake) SentMessages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// DeletedMessages returns the ids of successfully deleted messages.
func (f *Fake) DeletedMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// ClearedChats returns the ids of cleared chats.
func (f *Fake) ClearedChats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cleared...)
}

// EmitQR delivers a QR challenge.
func (f *Fake) EmitQR(payload string) { f.callbacks.OnQR(payload) }

// EmitAuthenticated delivers an authenticated callback.
func (f *Fake) EmitAuthenticated() { f.callbacks.OnAuthenticated() }

// EmitReady delivers a ready callback.
func (f *Fake) EmitReady(phone, pushname string) {
	f.callbacks.OnReady(domain.Identity{PhoneNumber: phone, Pushname: pushname})
}

// EmitDisconnected delivers a disconnected callback.
func (f *Fake) EmitDisconnected(reason string) { f.callbacks.OnDisconnected(reason) }

// EmitReconnecting delivers a reconnecting callback.
func (f *Fake) EmitReconnecting() { f.callbacks.OnReconnecting() }

// EmitAuthFailure delivers an auth failure callback.
func (f *Fake) EmitAuthFailure(reason string) { f.callbacks.OnAuthFailure(reason) }

// EmitAck delivers a message ack callback.
func (f *Fake) EmitAck(messageID string, level domain.AckLevel) {
	f.callbacks.OnMessageAck(messageID, level)
}

// EmitMessage delivers an inbound message.
func (f *Fake) EmitMessage(msg domain.InboundMessage) { f.callbacks.OnMessage(msg) }

// Factory builds Fakes and remembers them by session id.
type Factory struct {
	mu    sync.Mutex
	fakes map[string][]*Fake
	// Configure, when set, runs on every new Fake before it is returned.
	Configure func(*Fake)
}

var _ engine.Factory = (*Factory)(nil)

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{fakes: make(map[string][]*Fake)}
}

// New implements engine.Factory.
func (f *Factory) New(sessionID string, callbacks engine.Callbacks) engine.Client {
	fake := NewFake(sessionID, callbacks)
	f.mu.Lock()
	configure := f.Configure
	f.fakes[sessionID] = append(f.fakes[sessionID], fake)
	f.mu.Unlock()
	if configure != nil {
		configure(fake)
	}
	return fake
}

// Last returns the most recent Fake built for the session, or nil.
func (f *Factory) Last(sessionID string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.fakes[sessionID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Count returns how many Fakes were built for the session.
func (f *Factory) Count(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fakes[sessionID])
}

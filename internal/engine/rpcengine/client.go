// Package rpcengine bridges sessions to an external connection engine over
// JSON-RPC. Calls go out as Engine.* methods; lifecycle callbacks come back
// through Gateway.PushEvent on the callback server.
package rpcengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
)

// SessionArgs identifies the session a call targets.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// InitializeArgs starts a session on the engine.
type InitializeArgs struct {
	SessionID    string `json:"session_id"`
	CallbackAddr string `json:"callback_addr"`
}

// SendArgs sends a text or media message.
type SendArgs struct {
	SessionID string `json:"session_id"`
	To        string `json:"to"`
	Body      string `json:"body,omitempty"`
	Caption   string `json:"caption,omitempty"`
	MimeType  string `json:"mimetype,omitempty"`
	FileName  string `json:"filename,omitempty"`
	// Data is base64 encoded media content.
	Data string `json:"data,omitempty"`
}

// ChatArgs addresses a chat.
type ChatArgs struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
	Limit     int    `json:"limit,omitempty"`
}

// DeleteArgs deletes one message.
type DeleteArgs struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Everyone  bool   `json:"everyone"`
}

// Ack is the empty reply of commands.
type Ack struct {
	OK bool `json:"ok"`
}

// ChatsReply is returned by Engine.GetChats.
type ChatsReply struct {
	Chats []domain.Chat `json:"chats"`
}

// MessagesReply is returned by Engine.FetchMessages.
type MessagesReply struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// RegisteredReply is returned by Engine.IsRegisteredUser.
type RegisteredReply struct {
	Registered bool `json:"registered"`
}

// Client is an engine.Client for one session.
type Client struct {
	sessionID    string
	addr         string
	callbackAddr string
	dialTimeout  time.Duration
	callTimeout  time.Duration
	release      func()
}

var _ engine.Client = (*Client)(nil)

// Initialize implements engine.Client.
func (c *Client) Initialize(ctx context.Context) error {
	var ack Ack
	return c.call(ctx, "Engine.Initialize", &InitializeArgs{SessionID: c.sessionID, CallbackAddr: c.callbackAddr}, &ack)
}

// SendMessage implements engine.Client.
func (c *Client) SendMessage(ctx context.Context, to, body string) (*domain.MessageReceipt, error) {
	var receipt domain.MessageReceipt
	if err := c.call(ctx, "Engine.SendMessage", &SendArgs{SessionID: c.sessionID, To: to, Body: body}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SendMedia implements engine.Client.
func (c *Client) SendMedia(ctx context.Context, to string, media domain.Media, caption string) (*domain.MessageReceipt, error) {
	args := &SendArgs{
		SessionID: c.sessionID,
		To:        to,
		Caption:   caption,
		MimeType:  media.MimeType,
		FileName:  media.FileName,
		Data:      base64.StdEncoding.EncodeToString(media.Data),
	}
	var receipt domain.MessageReceipt
	if err := c.call(ctx, "Engine.SendMedia", args, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetChats implements engine.Client.
func (c *Client) GetChats(ctx context.Context) ([]domain.Chat, error) {
	var reply ChatsReply
	if err := c.call(ctx, "Engine.GetChats", &SessionArgs{SessionID: c.sessionID}, &reply); err != nil {
		return nil, err
	}
	return reply.Chats, nil
}

// FetchMessages implements engine.Client.
func (c *Client) FetchMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	var reply MessagesReply
	if err := c.call(ctx, "Engine.FetchMessages", &ChatArgs{SessionID: c.sessionID, ChatID: chatID, Limit: limit}, &reply); err != nil {
		return nil, err
	}
	return reply.Messages, nil
}

// DeleteMessage implements engine.Client.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string, everyone bool) error {
	var ack Ack
	return c.call(ctx, "Engine.DeleteMessage", &DeleteArgs{SessionID: c.sessionID, ChatID: chatID, MessageID: messageID, Everyone: everyone}, &ack)
}

// ClearChat implements engine.Client.
func (c *Client) ClearChat(ctx context.Context, chatID string) error {
	var ack Ack
	return c.call(ctx, "Engine.ClearChat", &ChatArgs{SessionID: c.sessionID, ChatID: chatID}, &ack)
}

// IsRegisteredUser implements engine.Client.
func (c *Client) IsRegisteredUser(ctx context.Context, id string) (bool, error) {
	var reply RegisteredReply
	if err := c.call(ctx, "Engine.IsRegisteredUser", &ChatArgs{SessionID: c.sessionID, ChatID: id}, &reply); err != nil {
		return false, err
	}
	return reply.Registered, nil
}

// Logout implements engine.Client.
func (c *Client) Logout(ctx context.Context) error {
	var ack Ack
	return c.call(ctx, "Engine.Logout", &SessionArgs{SessionID: c.sessionID}, &ack)
}

// Destroy implements engine.Client. The callback binding is released even
// when the engine reports an error, so late events for this client are dropped.
func (c *Client) Destroy(ctx context.Context) error {
	if c.release != nil {
		c.release()
	}
	var ack Ack
	err := c.call(ctx, "Engine.Destroy", &SessionArgs{SessionID: c.sessionID}, &ack)
	if err != nil && engine.IsClosed(err) {
		return fmt.Errorf("%w: %v", engine.ErrClosed, err)
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial engine: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	defer client.Close()
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

// Factory builds Clients that share one engine address and callback router.
type Factory struct {
	addr         string
	callbackAddr string
	router       *Router
	DialTimeout  time.Duration
	// CallTimeout bounds calls made without a context deadline. Initialize
	// is expected to take long while the engine boots a session.
	CallTimeout time.Duration
}

var _ engine.Factory = (*Factory)(nil)

// NewFactory creates a Factory. callbackAddr is advertised to the engine so it
// knows where to push events.
func NewFactory(engineAddr, callbackAddr string, router *Router) *Factory {
	return &Factory{
		addr:         resolveRPCAddr(engineAddr),
		callbackAddr: callbackAddr,
		router:       router,
		DialTimeout:  5 * time.Second,
		CallTimeout:  2 * time.Minute,
	}
}

// New implements engine.Factory.
func (f *Factory) New(sessionID string, callbacks engine.Callbacks) engine.Client {
	return &Client{
		sessionID:    sessionID,
		addr:         f.addr,
		callbackAddr: f.callbackAddr,
		dialTimeout:  f.DialTimeout,
		callTimeout:  f.CallTimeout,
		release:      f.router.Bind(sessionID, callbacks),
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}

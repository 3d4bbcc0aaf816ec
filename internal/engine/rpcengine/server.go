package rpcengine

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
)

// Event types pushed by the engine.
const (
	EventQR            = "qr"
	EventAuthenticated = "authenticated"
	EventReady         = "ready"
	EventDisconnected  = "disconnected"
	EventReconnecting  = "reconnecting"
	EventAuthFailure   = "auth_failure"
	EventMessageAck    = "message_ack"
	EventMessage       = "message"
)

// Router maps session ids to the callbacks of their current client.
type Router struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

type binding struct {
	callbacks engine.Callbacks
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{bindings: make(map[string]*binding)}
}

// Bind routes events for sessionID to callbacks. The returned release func
// removes the binding only if it has not been replaced since.
func (r *Router) Bind(sessionID string, callbacks engine.Callbacks) func() {
	b := &binding{callbacks: callbacks}
	r.mu.Lock()
	r.bindings[sessionID] = b
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.bindings[sessionID] == b {
			delete(r.bindings, sessionID)
		}
	}
}

// Lookup returns the callbacks bound to sessionID.
func (r *Router) Lookup(sessionID string) (engine.Callbacks, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[sessionID]
	if !ok {
		return nil, false
	}
	return b.callbacks, true
}

// Server accepts Gateway.PushEvent calls from the engine.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
	log       zerolog.Logger
	mu        sync.Mutex
}

// NewServer creates a new callback server.
func NewServer(router *Router, logger zerolog.Logger) (*Server, error) {
	log := logger.With().Str("component", "engine-callbacks").Logger()
	rpcServer := rpc.NewServer()
	handler := &Handler{router: router, log: log}
	if err := rpcServer.RegisterName("Gateway", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
		log:       log,
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.log.Warn().Err(err).Msg("rpc accept error")
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushEventRequest is one lifecycle event for one session.
type PushEventRequest struct {
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	QR        string                 `json:"qr,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Identity  *domain.Identity       `json:"identity,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Ack       int                    `json:"ack,omitempty"`
	Message   *domain.InboundMessage `json:"message,omitempty"`
}

// PushEventResponse reports whether a bound session received the event.
type PushEventResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// Handler implements the Gateway RPC methods. The engine must wait for the
// reply of one PushEvent before sending the next event of the same session.
type Handler struct {
	router *Router
	log    zerolog.Logger
}

// PushEvent forwards an engine event to the session's callbacks.
func (h *Handler) PushEvent(req *PushEventRequest, resp *PushEventResponse) error {
	if req == nil {
		return errors.New("push request is required")
	}
	if req.SessionID == "" {
		return errors.New("session_id is required")
	}

	cb, ok := h.router.Lookup(req.SessionID)
	if !ok {
		h.log.Debug().Str("session_id", req.SessionID).Str("type", req.Type).Msg("event for unbound session dropped")
		if resp != nil {
			resp.OK = true
		}
		return nil
	}

	switch req.Type {
	case EventQR:
		cb.OnQR(req.QR)
	case EventAuthenticated:
		cb.OnAuthenticated()
	case EventReady:
		var identity domain.Identity
		if req.Identity != nil {
			identity = *req.Identity
		}
		cb.OnReady(identity)
	case EventDisconnected:
		cb.OnDisconnected(req.Reason)
	case EventReconnecting:
		cb.OnReconnecting()
	case EventAuthFailure:
		cb.OnAuthFailure(req.Reason)
	case EventMessageAck:
		cb.OnMessageAck(req.MessageID, domain.AckLevel(req.Ack))
	case EventMessage:
		if req.Message == nil {
			return errors.New("message is required")
		}
		cb.OnMessage(*req.Message)
	default:
		return errors.New("unknown event type: " + req.Type)
	}

	if resp != nil {
		resp.OK = true
		resp.Delivered = true
	}
	return nil
}

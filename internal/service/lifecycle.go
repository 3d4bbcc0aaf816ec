package service

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/protocol"
	"github.com/xiaot623/gogo/gateway/internal/registry"
)

const (
	qrNotice            = "QR code received, please scan."
	remoteDisconnect    = "Session disconnected"
	manualDisconnect    = "Manual disconnect"
	callbackPersistWait = 10 * time.Second
)

// errSessionDestroyed marks callbacks that arrive while a session is being torn down.
var errSessionDestroyed = errors.New("session is being destroyed")

// sessionCallbacks binds engine callbacks to one registry handle.
type sessionCallbacks struct {
	svc    *Service
	handle *registry.Handle
}

func (c *sessionCallbacks) OnQR(payload string) { c.svc.handleQR(c.handle, payload) }
func (c *sessionCallbacks) OnAuthenticated()    { c.svc.handleAuthenticated(c.handle) }
func (c *sessionCallbacks) OnReady(identity domain.Identity) {
	c.svc.handleReady(c.handle, identity)
}
func (c *sessionCallbacks) OnDisconnected(reason string) { c.svc.handleDisconnected(c.handle, reason) }
func (c *sessionCallbacks) OnReconnecting()              { c.svc.handleReconnecting(c.handle) }
func (c *sessionCallbacks) OnAuthFailure(reason string)  { c.svc.handleAuthFailure(c.handle, reason) }
func (c *sessionCallbacks) OnMessageAck(messageID string, level domain.AckLevel) {
	c.svc.handleMessageAck(c.handle, messageID, level)
}
func (c *sessionCallbacks) OnMessage(msg domain.InboundMessage) {
	c.svc.handleMessage(c.handle, msg)
}

// transition moves the session owned by h to state, applying fn to the record
// as part of the same mutation.
func (s *Service) transition(h *registry.Handle, to domain.SessionState, fn func(*domain.Session)) (domain.Session, error) {
	return s.registry.Update(h, func(rec *domain.Session) error {
		if rec.State == domain.SessionStateDestroyed {
			return errSessionDestroyed
		}
		if !rec.State.CanTransition(to) {
			return domain.ErrInvalidTransition
		}
		rec.State = to
		if fn != nil {
			fn(rec)
		}
		return nil
	})
}

// dropCallback logs a callback that could not be applied.
func (s *Service) dropCallback(h *registry.Handle, callback string, rec domain.Session, err error) {
	l := s.sessionLog(h.SessionID)
	switch {
	case errors.Is(err, registry.ErrStaleHandle), errors.Is(err, errSessionDestroyed):
		l.Debug().Str("callback", callback).Msg("callback for inactive session dropped")
	default:
		l.Warn().Err(err).Str("callback", callback).Str("state", string(rec.State)).Msg("callback dropped")
	}
}

// persistThenPublish writes the index and publishes only if the write succeeded.
func (s *Service) persistThenPublish(sessionID, event string, data interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackPersistWait)
	defer cancel()

	if err := s.persist(ctx); err != nil {
		s.sessionLog(sessionID).Error().Err(err).Str("event", event).Msg("failed to persist session index")
		return
	}
	s.bus.Publish(sessionID, event, data)
}

func (s *Service) handleQR(h *registry.Handle, payload string) {
	rec, err := s.transition(h, domain.SessionStateAwaitingScan, nil)
	if err != nil {
		s.dropCallback(h, "qr", rec, err)
		return
	}

	url, err := qrDataURL(payload)
	if err != nil {
		s.sessionLog(h.SessionID).Error().Err(err).Msg("failed to render qr")
		return
	}
	s.bus.Publish(h.SessionID, protocol.EventQR, protocol.QRPayload{SessionID: h.SessionID, URL: url})
	s.bus.Publish(h.SessionID, protocol.EventMessage, qrNotice)
}

func (s *Service) handleAuthenticated(h *registry.Handle) {
	rec, err := s.transition(h, domain.SessionStateAuthenticated, nil)
	if err != nil {
		s.dropCallback(h, "authenticated", rec, err)
		return
	}
	s.sessionLog(h.SessionID).Info().Msg("session authenticated")
	s.bus.Publish(h.SessionID, protocol.EventAuthenticated, protocol.SessionPayload{SessionID: h.SessionID})
}

func (s *Service) handleReady(h *registry.Handle, identity domain.Identity) {
	rec, err := s.transition(h, domain.SessionStateReady, func(rec *domain.Session) {
		rec.PhoneNumber = identity.PhoneNumber
		rec.Pushname = identity.Pushname
	})
	if err != nil {
		s.dropCallback(h, "ready", rec, err)
		return
	}

	s.sessionLog(h.SessionID).Info().Str("phone_number", rec.PhoneNumber).Msg("session ready")
	s.persistThenPublish(h.SessionID, protocol.EventReady, readyPayload(rec))
}

func (s *Service) handleDisconnected(h *registry.Handle, reason string) {
	rec, err := s.transition(h, domain.SessionStateDisconnected, nil)
	if err != nil {
		s.dropCallback(h, "disconnected", rec, err)
		return
	}

	s.sessionLog(h.SessionID).Info().Str("reason", reason).Msg("session disconnected")
	s.persistThenPublish(h.SessionID, protocol.EventDisconnected, protocol.DisconnectedPayload{
		SessionID: h.SessionID,
		Reason:    remoteDisconnect,
	})
}

func (s *Service) handleReconnecting(h *registry.Handle) {
	rec, err := s.transition(h, domain.SessionStateInitializing, nil)
	if err != nil {
		s.dropCallback(h, "reconnecting", rec, err)
		return
	}

	s.sessionLog(h.SessionID).Warn().Msg("session reconnecting")
	s.persistThenPublish(h.SessionID, protocol.EventReconnecting, protocol.SessionPayload{SessionID: h.SessionID})
}

// handleAuthFailure sends a session that has not reached Ready back to
// Initializing so the engine's next QR challenge is accepted.
func (s *Service) handleAuthFailure(h *registry.Handle, reason string) {
	l := s.sessionLog(h.SessionID)
	l.Error().Str("reason", reason).Msg("authentication failed")

	rec, err := s.registry.Update(h, func(rec *domain.Session) error {
		if rec.State == domain.SessionStateDestroyed {
			return errSessionDestroyed
		}
		if rec.State == domain.SessionStateReady || !rec.State.CanTransition(domain.SessionStateInitializing) {
			return domain.ErrInvalidTransition
		}
		rec.State = domain.SessionStateInitializing
		return nil
	})
	switch {
	case err == nil:
		l.Info().Msg("session reset after authentication failure")
	case errors.Is(err, domain.ErrInvalidTransition):
	default:
		s.dropCallback(h, "auth_failure", rec, err)
	}
}

func (s *Service) handleMessageAck(h *registry.Handle, messageID string, level domain.AckLevel) {
	if !s.registry.Current(h) {
		return
	}
	s.bus.Publish(h.SessionID, protocol.EventMessageAck, protocol.AckPayload{
		SessionID: h.SessionID,
		ID:        messageID,
		Ack:       int(level),
		AckName:   level.Name(),
	})
}

func readyPayload(rec domain.Session) protocol.ReadyPayload {
	return protocol.ReadyPayload{
		SessionID:   rec.SessionID,
		PhoneNumber: rec.PhoneNumber,
		Pushname:    rec.Pushname,
	}
}

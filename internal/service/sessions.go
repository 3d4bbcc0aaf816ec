package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
	"github.com/xiaot623/gogo/gateway/internal/protocol"
	"github.com/xiaot623/gogo/gateway/internal/registry"
)

// CreateSession registers a new session and starts its engine client in the
// background. It returns once the session is registered.
func (s *Service) CreateSession(ctx context.Context, sessionID string) error {
	h, err := s.registry.Create(sessionID)
	if err != nil {
		return err
	}
	s.sessionLog(sessionID).Info().Msg("session created")

	if err := s.persist(ctx); err != nil {
		s.sessionLog(sessionID).Error().Err(err).Msg("failed to persist session index")
	}
	s.start(h)
	return nil
}

// Recover re-creates every session listed in the index. Recovered sessions
// start in Initializing whatever their persisted state was.
func (s *Service) Recover(ctx context.Context) (int, error) {
	entries, err := s.index.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load session index: %w", err)
	}

	handles := make([]*registry.Handle, 0, len(entries))
	for _, entry := range entries {
		h, err := s.registry.Create(entry.SessionID)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", entry.SessionID).Msg("skipping index entry")
			continue
		}
		handles = append(handles, h)
	}

	if err := s.persist(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to persist session index")
	}
	for _, h := range handles {
		s.start(h)
	}
	s.log.Info().Int("sessions", len(handles)).Msg("sessions recovered")
	return len(handles), nil
}

// start initializes the client of h without blocking the caller. A failed
// start leaves the session Disconnected so it can be reconnected.
func (s *Service) start(h *registry.Handle) {
	s.starts.Add(1)
	go func() {
		defer s.starts.Done()

		err := h.Client.Initialize(s.ctx)
		if err == nil {
			return
		}
		s.sessionLog(h.SessionID).Error().Err(err).Msg("failed to initialize engine client")

		if _, terr := s.transition(h, domain.SessionStateDisconnected, nil); terr != nil {
			return
		}
		s.persistThenPublish(h.SessionID, protocol.EventError, protocol.ErrorPayload{
			SessionID: h.SessionID,
			Code:      protocol.ErrorCodeInitFailed,
			Message:   err.Error(),
		})
	}()
}

// ListSessions returns the public projection of every session in creation order.
func (s *Service) ListSessions() []domain.SessionSummary {
	return s.summaries()
}

// GetSession returns the public projection of one session.
func (s *Service) GetSession(sessionID string) (domain.SessionSummary, error) {
	rec, ok := s.registry.Snapshot(sessionID)
	if !ok || rec.State == domain.SessionStateDestroyed {
		return domain.SessionSummary{}, domain.ErrSessionNotFound
	}
	return rec.Summary(), nil
}

// ReadySnapshot reports the ready frame a new observer of sessionID should
// receive, if the session is ready.
func (s *Service) ReadySnapshot(sessionID string) (string, interface{}, bool) {
	rec, ok := s.registry.Snapshot(sessionID)
	if !ok || !rec.Connected() {
		return "", nil, false
	}
	return protocol.EventReady, readyPayload(rec), true
}

// Logout signs the session out of its account and forgets it.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	h, ok := s.registry.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if err := h.Client.Logout(ctx); err != nil {
		return &domain.AdapterError{Op: "logout", Err: err}
	}

	s.teardown(ctx, h)
	if err := s.persist(ctx); err != nil {
		return fmt.Errorf("persist session index: %w", err)
	}
	s.sessionLog(sessionID).Info().Msg("session logged out")
	return nil
}

// Disconnect destroys the session's client and forgets the session, keeping
// its credentials.
func (s *Service) Disconnect(ctx context.Context, sessionID string) error {
	h, ok := s.registry.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !s.teardown(ctx, h) {
		return nil
	}

	if err := s.persist(ctx); err != nil {
		s.sessionLog(sessionID).Error().Err(err).Msg("failed to persist session index")
	}
	s.bus.Publish(sessionID, protocol.EventDisconnected, protocol.DisconnectedPayload{
		SessionID: sessionID,
		Reason:    manualDisconnect,
	})
	return nil
}

// Delete destroys the session, forgets it and removes its credential storage
// after the configured delay. Deleting an unknown session still schedules the
// storage removal. The removal is skipped if the id was created again in the
// meantime.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	l := s.sessionLog(sessionID)
	l.Info().Msg("deleting session")

	if h, ok := s.registry.Get(sessionID); ok {
		s.teardown(ctx, h)
	}
	if err := s.persist(ctx); err != nil {
		l.Error().Err(err).Msg("failed to persist session index")
	}

	dir := s.authDir(sessionID)
	s.cleanup.Add(1)
	time.AfterFunc(s.config.CleanupDelay, func() {
		defer s.cleanup.Done()
		if _, ok := s.registry.Get(sessionID); ok {
			l.Info().Msg("session re-created, keeping credential storage")
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			l.Error().Err(err).Str("path", dir).Msg("failed to remove credential storage")
			return
		}
		s.bus.PublishAll(protocol.EventSessionDeleted, sessionID)
		l.Info().Msg("session deleted")
	})
	return nil
}

// Reconnect replaces the client of a Disconnected session and starts it.
func (s *Service) Reconnect(ctx context.Context, sessionID string) error {
	fresh, old, err := s.registry.Reconnect(sessionID)
	if err != nil {
		return err
	}
	s.destroyClient(ctx, old)

	if err := s.persist(ctx); err != nil {
		s.sessionLog(sessionID).Error().Err(err).Msg("failed to persist session index")
	}
	s.bus.Publish(sessionID, protocol.EventReconnecting, protocol.SessionPayload{SessionID: sessionID})
	s.start(fresh)
	return nil
}

// teardown marks the session Destroyed, destroys its client and removes it
// from the registry. It reports false if another caller is already tearing
// the session down.
func (s *Service) teardown(ctx context.Context, h *registry.Handle) bool {
	if _, err := s.transition(h, domain.SessionStateDestroyed, nil); err != nil {
		return false
	}
	s.destroyClient(ctx, h)
	s.registry.RemoveHandle(h)
	s.forgetLimiter(h.SessionID)
	return true
}

// destroyClient destroys the client of h. Already-closed clients are not an error.
func (s *Service) destroyClient(ctx context.Context, h *registry.Handle) error {
	err := h.Client.Destroy(ctx)
	switch {
	case err == nil:
		return nil
	case engine.IsClosed(err):
		s.sessionLog(h.SessionID).Warn().Err(err).Msg("engine client already closed")
		return nil
	default:
		s.sessionLog(h.SessionID).Error().Err(err).Msg("failed to destroy engine client")
		return err
	}
}

func (s *Service) authDir(sessionID string) string {
	return filepath.Join(s.config.AuthDir, "session-"+filepath.Base(sessionID))
}

// Shutdown destroys every engine client and waits for background work. The
// index is left as is so the sessions are recovered on the next start.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	var errs error
	for _, h := range s.registry.Handles() {
		errs = multierr.Append(errs, s.destroyClient(ctx, h))
	}

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, ctx.Err())
	}
	return errs
}

// Wait blocks until pending client starts, command replies and storage
// removals have finished.
func (s *Service) Wait() {
	s.starts.Wait()
	s.replies.Wait()
	s.cleanup.Wait()
}

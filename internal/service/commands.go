package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
	"github.com/xiaot623/gogo/gateway/internal/registry"
)

// Chat commands answered automatically on every ready session.
const (
	commandPing        = "!ping"
	commandGoodMorning = "good morning"
	commandGroups      = "!groups"

	replyTimeout = 30 * time.Second
)

// handleMessage answers chat commands received by the session owning h. The
// reply goes out through h's own client after the callback has returned.
func (s *Service) handleMessage(h *registry.Handle, msg domain.InboundMessage) {
	if msg.FromMe || msg.From == "" {
		return
	}
	switch msg.Body {
	case commandPing, commandGoodMorning, commandGroups:
	default:
		return
	}

	current, rec, ok := s.registry.Lookup(h.SessionID)
	if !ok || current != h || !rec.Connected() {
		s.sessionLog(h.SessionID).Debug().Str("command", msg.Body).Msg("command for inactive session dropped")
		return
	}

	s.replies.Add(1)
	go func() {
		defer s.replies.Done()

		ctx, cancel := context.WithTimeout(s.ctx, replyTimeout)
		defer cancel()

		l := s.sessionLog(h.SessionID)
		reply, err := commandReply(ctx, h.Client, msg.Body)
		if err != nil {
			l.Error().Err(err).Str("command", msg.Body).Msg("failed to build command reply")
			return
		}
		if _, err := h.Client.SendMessage(ctx, msg.From, reply); err != nil {
			l.Error().Err(err).Str("command", msg.Body).Str("to", msg.From).Msg("failed to send command reply")
			return
		}
		l.Debug().Str("command", msg.Body).Str("to", msg.From).Msg("command answered")
	}()
}

func commandReply(ctx context.Context, client engine.Client, command string) (string, error) {
	switch command {
	case commandPing:
		return "pong", nil
	case commandGoodMorning:
		return "selamat pagi", nil
	}

	chats, err := client.GetChats(ctx)
	if err != nil {
		return "", fmt.Errorf("get chats: %w", err)
	}
	var b strings.Builder
	for _, chat := range chats {
		if !chat.IsGroup {
			continue
		}
		fmt.Fprintf(&b, "ID: %s\nName: %s\n\n", chat.ID, chat.Name)
	}
	if b.Len() == 0 {
		return "You have no group yet.", nil
	}
	return "*YOUR GROUPS*\n\n" + b.String() + "_You can use the group id to send a message to the group._", nil
}

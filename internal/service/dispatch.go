package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
	"github.com/xiaot623/gogo/gateway/internal/policy"
	"github.com/xiaot623/gogo/gateway/internal/protocol"
)

// Dispatch operation names, used for spans, policy input and adapter errors.
const (
	OpSendMessage   = "send_message"
	OpSendMedia     = "send_media"
	OpSendGroup     = "send_group_message"
	OpClearMessages = "clear_messages"
	OpDeleteMessage = "delete_messages"
)

const deleteParallelism = 4

var tracer = otel.Tracer("github.com/xiaot623/gogo/gateway/internal/service")

// MediaSource resolves an outbound attachment.
type MediaSource interface {
	Resolve(ctx context.Context) (domain.Media, error)
}

// SendText sends a text message to a user.
func (s *Service) SendText(ctx context.Context, sessionID, number, body string) (receipt *domain.MessageReceipt, err error) {
	ctx, span := s.startSpan(ctx, OpSendMessage, sessionID)
	defer func() { endSpan(span, err) }()

	h, rec, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if err := requireFields(map[string]string{"number": number, "message": body}); err != nil {
		return nil, err
	}
	if !rec.Connected() {
		return nil, domain.ErrSessionNotReady
	}
	to, err := FormatRecipient(number, s.config.DefaultCountryCode)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, policy.Input{SessionID: sessionID, Operation: OpSendMessage, Recipient: to, BodyLen: len(body)}); err != nil {
		return nil, err
	}
	if err := s.throttle(ctx, sessionID); err != nil {
		return nil, err
	}

	receipt, err = h.Client.SendMessage(ctx, to, body)
	if err != nil {
		return nil, &domain.AdapterError{Op: OpSendMessage, Err: err}
	}
	s.bus.Publish(sessionID, protocol.EventResponse, receipt)
	return receipt, nil
}

// SendMedia sends an attachment to a user. The media is resolved only after
// the session is known to be ready.
func (s *Service) SendMedia(ctx context.Context, sessionID, number string, src MediaSource, caption string) (receipt *domain.MessageReceipt, err error) {
	ctx, span := s.startSpan(ctx, OpSendMedia, sessionID)
	defer func() { endSpan(span, err) }()

	h, rec, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if err := requireFields(map[string]string{"number": number}); err != nil {
		return nil, err
	}
	if !rec.Connected() {
		return nil, domain.ErrSessionNotReady
	}
	to, err := FormatRecipient(number, s.config.DefaultCountryCode)
	if err != nil {
		return nil, err
	}
	media, err := src.Resolve(ctx)
	if err != nil {
		return nil, domain.NewValidationError("file", err.Error())
	}
	if err := s.authorize(ctx, policy.Input{SessionID: sessionID, Operation: OpSendMedia, Recipient: to, HasMedia: true, MimeType: media.MimeType, BodyLen: len(caption)}); err != nil {
		return nil, err
	}
	if err := s.throttle(ctx, sessionID); err != nil {
		return nil, err
	}

	receipt, err = h.Client.SendMedia(ctx, to, media, caption)
	if err != nil {
		return nil, &domain.AdapterError{Op: OpSendMedia, Err: err}
	}
	return receipt, nil
}

// SendToGroup sends a text message to a group chosen by id or by name. Names
// match case-insensitively; the first matching group wins.
func (s *Service) SendToGroup(ctx context.Context, sessionID string, target domain.GroupTarget, body string) (receipt *domain.MessageReceipt, err error) {
	ctx, span := s.startSpan(ctx, OpSendGroup, sessionID)
	defer func() { endSpan(span, err) }()

	h, rec, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	fields := map[string]string{}
	if target.ID == "" && target.Name == "" {
		fields["id"] = "Invalid value, you can use `id` or `name`"
	}
	if strings.TrimSpace(body) == "" {
		fields["message"] = "message is required"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}
	if !rec.Connected() {
		return nil, domain.ErrSessionNotReady
	}

	chatID := target.ID
	if chatID == "" {
		chatID, err = findGroup(ctx, h.Client, target.Name)
		if err != nil {
			return nil, err
		}
	}
	if err := s.authorize(ctx, policy.Input{SessionID: sessionID, Operation: OpSendGroup, Recipient: chatID, BodyLen: len(body)}); err != nil {
		return nil, err
	}
	if err := s.throttle(ctx, sessionID); err != nil {
		return nil, err
	}

	receipt, err = h.Client.SendMessage(ctx, chatID, body)
	if err != nil {
		return nil, &domain.AdapterError{Op: OpSendGroup, Err: err}
	}
	return receipt, nil
}

func findGroup(ctx context.Context, client engine.Client, name string) (string, error) {
	chats, err := client.GetChats(ctx)
	if err != nil {
		return "", &domain.AdapterError{Op: "get_chats", Err: err}
	}
	for _, chat := range chats {
		if chat.IsGroup && strings.EqualFold(chat.Name, name) {
			return chat.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrGroupNotFound, name)
}

// ClearMessages clears the chat with a registered user.
func (s *Service) ClearMessages(ctx context.Context, sessionID, number string) (err error) {
	ctx, span := s.startSpan(ctx, OpClearMessages, sessionID)
	defer func() { endSpan(span, err) }()

	client, to, err := s.prepareChatOp(ctx, sessionID, number, OpClearMessages)
	if err != nil {
		return err
	}
	if err := client.ClearChat(ctx, to); err != nil {
		return &domain.AdapterError{Op: OpClearMessages, Err: err}
	}
	return nil
}

// DeleteOwnMessages deletes the messages this session sent among the last
// limit messages of the chat with a registered user. Individual delete
// failures are counted, not returned.
func (s *Service) DeleteOwnMessages(ctx context.Context, sessionID, number string, limit int, everyone bool) (summary domain.DeleteSummary, err error) {
	ctx, span := s.startSpan(ctx, OpDeleteMessage, sessionID)
	defer func() { endSpan(span, err) }()

	client, to, err := s.prepareChatOp(ctx, sessionID, number, OpDeleteMessage)
	if err != nil {
		return summary, err
	}
	if limit <= 0 {
		limit = 1
	}

	msgs, err := client.FetchMessages(ctx, to, limit)
	if err != nil {
		return summary, &domain.AdapterError{Op: "fetch_messages", Err: err}
	}

	var succeeded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(deleteParallelism)
	for _, msg := range msgs {
		if !msg.FromMe {
			continue
		}
		summary.Attempted++
		msg := msg
		g.Go(func() error {
			if err := client.DeleteMessage(ctx, to, msg.ID, everyone); err != nil {
				failed.Add(1)
				s.sessionLog(sessionID).Warn().Err(err).Str("message_id", msg.ID).Msg("failed to delete message")
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	span.SetAttributes(
		attribute.Int("delete.attempted", summary.Attempted),
		attribute.Int("delete.failed", summary.Failed),
	)
	return summary, nil
}

// prepareChatOp runs the checks shared by chat maintenance operations and
// returns the client and normalized recipient.
func (s *Service) prepareChatOp(ctx context.Context, sessionID, number, op string) (engine.Client, string, error) {
	h, rec, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil, "", domain.ErrSessionNotFound
	}
	if err := requireFields(map[string]string{"number": number}); err != nil {
		return nil, "", err
	}
	if !rec.Connected() {
		return nil, "", domain.ErrSessionNotReady
	}
	to, err := FormatRecipient(number, s.config.DefaultCountryCode)
	if err != nil {
		return nil, "", err
	}
	if err := s.authorize(ctx, policy.Input{SessionID: sessionID, Operation: op, Recipient: to}); err != nil {
		return nil, "", err
	}

	registered, err := h.Client.IsRegisteredUser(ctx, to)
	if err != nil {
		return nil, "", &domain.AdapterError{Op: "is_registered_user", Err: err}
	}
	if !registered {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrRecipientUnregistered, strings.TrimSuffix(to, userSuffix))
	}
	return h.Client, to, nil
}

func requireFields(values map[string]string) error {
	var fields map[string]string
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[name] = name + " is required"
		}
	}
	if fields != nil {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// authorize evaluates the dispatch policy.
func (s *Service) authorize(ctx context.Context, input policy.Input) error {
	if s.policy == nil {
		return nil
	}
	decision, err := s.policy.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("dispatch policy: %w", err)
	}
	if !decision.Allowed() {
		s.sessionLog(input.SessionID).Warn().
			Str("operation", input.Operation).
			Str("recipient", input.Recipient).
			Str("reason", decision.Reason).
			Msg("dispatch blocked by policy")
		if decision.Reason == "" {
			return domain.ErrDispatchBlocked
		}
		return fmt.Errorf("%w: %s", domain.ErrDispatchBlocked, decision.Reason)
	}
	return nil
}

// throttle waits for the session's send limiter.
func (s *Service) throttle(ctx context.Context, sessionID string) error {
	return s.limiter(sessionID).Wait(ctx)
}

func (s *Service) limiter(sessionID string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	l, ok := s.limiters[sessionID]
	if !ok {
		limit := rate.Inf
		if s.config.SendRatePerSec > 0 {
			limit = rate.Limit(s.config.SendRatePerSec)
		}
		burst := s.config.SendBurst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		s.limiters[sessionID] = l
	}
	return l
}

func (s *Service) forgetLimiter(sessionID string) {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	delete(s.limiters, sessionID)
}

func (s *Service) startSpan(ctx context.Context, op, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dispatch."+op, trace.WithAttributes(attribute.String("session.id", sessionID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

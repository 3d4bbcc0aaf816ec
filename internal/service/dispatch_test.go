package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine/enginetest"
	"github.com/xiaot623/gogo/gateway/internal/protocol"
)

type staticMedia struct {
	media domain.Media
	err   error
}

func (m staticMedia) Resolve(context.Context) (domain.Media, error) {
	return m.media, m.err
}

var pngMedia = staticMedia{media: domain.Media{Data: []byte{0x89, 'P', 'N', 'G'}, MimeType: "image/png", FileName: "chart.png"}}

func TestDispatchUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendText(ctx, "missing", "0812", "hi")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.SendMedia(ctx, "missing", "0812", pngMedia, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.SendToGroup(ctx, "missing", domain.GroupTarget{Name: "Team"}, "hi")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.ClearMessages(ctx, "missing", "0812"), domain.ErrSessionNotFound)
	_, err = f.svc.DeleteOwnMessages(ctx, "missing", "0812", 1, true)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDispatchRequiresReadySession(t *testing.T) {
	f := newFixture(t)
	fake := f.create(t, "A")
	ctx := context.Background()

	_, err := f.svc.SendText(ctx, "A", "0812", "hi")
	assert.ErrorIs(t, err, domain.ErrSessionNotReady)
	_, err = f.svc.SendToGroup(ctx, "A", domain.GroupTarget{ID: "1@g.us"}, "hi")
	assert.ErrorIs(t, err, domain.ErrSessionNotReady)
	_, err = f.svc.DeleteOwnMessages(ctx, "A", "0812", 1, true)
	assert.ErrorIs(t, err, domain.ErrSessionNotReady)
	assert.Empty(t, fake.SentMessages())
}

func TestSendTextFormatsRecipient(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")

	receipt, err := f.svc.SendText(context.Background(), "A", "0812-3456 789", "hello")

	require.NoError(t, err)
	assert.Equal(t, "628123456789@c.us", receipt.To)
	sent := fake.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "628123456789@c.us", sent[0].To)
	assert.Equal(t, "hello", sent[0].Body)

	events := f.bus.Topic("A")
	last := events[len(events)-1]
	assert.Equal(t, protocol.EventResponse, last.Event)
	assert.Same(t, receipt, last.Data)
}

func TestSendTextValidation(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "A")

	_, err := f.svc.SendText(context.Background(), "A", "", "  ")

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "number is required", verr.Fields["number"])
	assert.Equal(t, "message is required", verr.Fields["message"])
}

func TestSendTextBlockedByPolicy(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")

	_, err := f.svc.SendText(context.Background(), "A", "status@broadcast", "hello")

	assert.ErrorIs(t, err, domain.ErrDispatchBlocked)
	assert.Empty(t, fake.SentMessages())
}

func TestSendTextAdapterError(t *testing.T) {
	f := newFixture(t)
	f.factory.Configure = func(fake *enginetest.Fake) { fake.SendErr = errors.New("evaluation failed") }
	f.ready(t, "A")

	_, err := f.svc.SendText(context.Background(), "A", "0812", "hello")

	var aerr *domain.AdapterError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, OpSendMessage, aerr.Op)
	assert.NotContains(t, f.bus.Names("A"), protocol.EventResponse)
}

func TestSendMedia(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")

	receipt, err := f.svc.SendMedia(context.Background(), "A", "62812", pngMedia, "weekly chart")

	require.NoError(t, err)
	assert.True(t, receipt.HasMedia)
	sent := fake.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "chart.png", sent[0].Media.FileName)
	assert.Equal(t, "weekly chart", sent[0].Caption)
}

func TestSendMediaUnresolvableFile(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")

	_, err := f.svc.SendMedia(context.Background(), "A", "62812", staticMedia{err: errors.New("no such file")}, "")

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "file")
	assert.Empty(t, fake.SentMessages())
}

func TestSendToGroupByNamePicksFirstMatch(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")
	fake.Chats = []domain.Chat{
		{ID: "628111@c.us", Name: "Team", IsGroup: false},
		{ID: "111@g.us", Name: "Team", IsGroup: true},
		{ID: "222@g.us", Name: "team", IsGroup: true},
	}

	receipt, err := f.svc.SendToGroup(context.Background(), "A", domain.GroupTarget{Name: "TEAM"}, "standup")

	require.NoError(t, err)
	assert.Equal(t, "111@g.us", receipt.To)

	_, err = f.svc.SendToGroup(context.Background(), "A", domain.GroupTarget{Name: "Nobody"}, "standup")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestSendToGroupByID(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")

	_, err := f.svc.SendToGroup(context.Background(), "A", domain.GroupTarget{ID: "999@g.us", Name: "ignored"}, "hi")

	require.NoError(t, err)
	assert.Equal(t, "999@g.us", fake.SentMessages()[0].To)
}

func TestSendToGroupValidation(t *testing.T) {
	f := newFixture(t)
	f.ready(t, "A")

	_, err := f.svc.SendToGroup(context.Background(), "A", domain.GroupTarget{}, "hi")

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "id")
}

func TestClearMessages(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")

	require.NoError(t, f.svc.ClearMessages(context.Background(), "A", "0812"))
	assert.Equal(t, []string{"62812@c.us"}, fake.ClearedChats())

	fake.Unregistered["62999@c.us"] = true
	err := f.svc.ClearMessages(context.Background(), "A", "0999")
	assert.ErrorIs(t, err, domain.ErrRecipientUnregistered)
}

func TestDeleteOwnMessagesCountsPartialFailure(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")
	chat := "62812@c.us"
	msgs := []domain.ChatMessage{{ID: "theirs", Body: "hey"}}
	for i := 1; i <= 5; i++ {
		msgs = append(msgs, domain.ChatMessage{ID: fmt.Sprintf("m%d", i), Body: "mine", FromMe: true})
	}
	fake.Messages[chat] = msgs
	fake.DeleteErr = func(id string) error {
		if id == "m3" {
			return errors.New("message too old")
		}
		return nil
	}

	summary, err := f.svc.DeleteOwnMessages(context.Background(), "A", "0812", 10, true)

	require.NoError(t, err)
	assert.Equal(t, domain.DeleteSummary{Attempted: 5, Succeeded: 4, Failed: 1}, summary)
	assert.ElementsMatch(t, []string{"m1", "m2", "m4", "m5"}, fake.DeletedMessages())
}

func TestDeleteOwnMessagesDefaultsToLastMessage(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")
	fake.Messages["62812@c.us"] = []domain.ChatMessage{
		{ID: "old", FromMe: true},
		{ID: "new", FromMe: true},
	}

	summary, err := f.svc.DeleteOwnMessages(context.Background(), "A", "0812", 0, true)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, []string{"new"}, fake.DeletedMessages())
}

func TestDeleteOwnMessagesUnregisteredRecipient(t *testing.T) {
	f := newFixture(t)
	fake := f.ready(t, "A")
	fake.Unregistered["62812@c.us"] = true

	_, err := f.svc.DeleteOwnMessages(context.Background(), "A", "0812", 5, true)

	assert.ErrorIs(t, err, domain.ErrRecipientUnregistered)
	assert.Empty(t, fake.DeletedMessages())
}

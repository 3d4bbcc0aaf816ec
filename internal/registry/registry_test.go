package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
	"github.com/xiaot623/gogo/gateway/internal/engine/enginetest"
)

type nopCallbacks struct{}

func (nopCallbacks) OnQR(string)                          {}
func (nopCallbacks) OnAuthenticated()                     {}
func (nopCallbacks) OnReady(domain.Identity)              {}
func (nopCallbacks) OnDisconnected(string)                {}
func (nopCallbacks) OnReconnecting()                      {}
func (nopCallbacks) OnAuthFailure(string)                 {}
func (nopCallbacks) OnMessageAck(string, domain.AckLevel) {}
func (nopCallbacks) OnMessage(domain.InboundMessage)      {}

func newTestRegistry() (*Registry, *enginetest.Factory) {
	factory := enginetest.NewFactory()
	return New(factory, func(*Handle) engine.Callbacks { return nopCallbacks{} }), factory
}

func TestGetUnknownSession(t *testing.T) {
	r, _ := newTestRegistry()

	_, ok := r.Get("never")
	assert.False(t, ok)
	_, ok = r.Snapshot("never")
	assert.False(t, ok)
	assert.ErrorIs(t, r.Remove("never"), domain.ErrSessionNotFound)
}

func TestCreateStartsInitializing(t *testing.T) {
	r, factory := newTestRegistry()

	h, err := r.Create("sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", h.SessionID)
	assert.Same(t, factory.Last("sales"), h.Client)

	rec, ok := r.Snapshot("sales")
	require.True(t, ok)
	assert.Equal(t, domain.SessionStateInitializing, rec.State)
	assert.False(t, rec.Connected())

	select {
	case <-factory.Last("sales").Initialized():
		t.Fatal("client must not be started by the registry")
	default:
	}
}

func TestCreateRejectsEmptyID(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Create("  ")
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "sessionId")
	assert.Equal(t, 0, r.Len())
}

func TestCreateRejectsPathLikeIDs(t *testing.T) {
	r, factory := newTestRegistry()

	for _, id := range []string{"team/b", `team\b`, "../b", ".", ".."} {
		_, err := r.Create(id)
		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr), "id %q", id)
		assert.Contains(t, verr.Fields, "sessionId")
		assert.Equal(t, 0, factory.Count(id))
	}
	assert.Equal(t, 0, r.Len())

	_, err := r.Create("team.b")
	assert.NoError(t, err)
}

func TestCreateDuplicate(t *testing.T) {
	r, factory := newTestRegistry()

	_, err := r.Create("sales")
	require.NoError(t, err)
	_, err = r.Create("sales")

	assert.ErrorIs(t, err, domain.ErrSessionExists)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, factory.Count("sales"))
}

func TestConcurrentCreateSameID(t *testing.T) {
	r, _ := newTestRegistry()
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Create("race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Len())
}

func TestListPreservesCreationOrder(t *testing.T) {
	r, _ := newTestRegistry()
	ids := []string{"c", "a", "b", "d"}
	for _, id := range ids {
		_, err := r.Create(id)
		require.NoError(t, err)
	}
	require.NoError(t, r.Remove("b"))

	var got []string
	for _, s := range r.List() {
		got = append(got, s.SessionID)
	}
	assert.Equal(t, []string{"c", "a", "d"}, got)

	sums := r.Summaries()
	require.Len(t, sums, 3)
	assert.Nil(t, sums[0].PhoneNumber)
}

func TestUpdateAppliesOnlyOnSuccess(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create("sales")
	require.NoError(t, err)

	_, err = r.Update(h, func(s *domain.Session) error {
		s.State = domain.SessionStateReady
		return fmt.Errorf("nope")
	})
	require.Error(t, err)
	rec, _ := r.Snapshot("sales")
	assert.Equal(t, domain.SessionStateInitializing, rec.State)

	rec, err = r.Update(h, func(s *domain.Session) error {
		s.State = domain.SessionStateReady
		s.PhoneNumber = "628111"
		return nil
	})
	require.NoError(t, err)
	assert.True(t, rec.Connected())
	assert.Equal(t, "628111", *rec.Summary().PhoneNumber)
}

func TestUpdateStaleHandleAfterRemove(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create("sales")
	require.NoError(t, err)
	got, rec, ok := r.Lookup("sales")
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, "sales", rec.SessionID)
	assert.True(t, r.Current(h))

	require.True(t, r.RemoveHandle(h))
	assert.False(t, r.RemoveHandle(h))
	assert.False(t, r.Current(h))

	_, err = r.Update(h, func(*domain.Session) error { return nil })
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestReconnectReplacesHandle(t *testing.T) {
	r, factory := newTestRegistry()
	old, err := r.Create("sales")
	require.NoError(t, err)

	_, _, err = r.Reconnect("sales")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = r.Update(old, func(s *domain.Session) error {
		s.State = domain.SessionStateDisconnected
		s.PhoneNumber = "628111"
		return nil
	})
	require.NoError(t, err)

	fresh, replaced, err := r.Reconnect("sales")
	require.NoError(t, err)
	assert.Same(t, old, replaced)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 2, factory.Count("sales"))

	rec, _ := r.Snapshot("sales")
	assert.Equal(t, domain.SessionStateInitializing, rec.State)
	assert.Empty(t, rec.PhoneNumber)

	_, err = r.Update(old, func(*domain.Session) error { return nil })
	assert.ErrorIs(t, err, ErrStaleHandle)

	_, _, err = r.Reconnect("ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

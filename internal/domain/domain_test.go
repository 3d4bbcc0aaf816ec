package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{SessionStateInitializing, SessionStateAwaitingScan, true},
		{SessionStateInitializing, SessionStateReady, true},
		{SessionStateAwaitingScan, SessionStateAwaitingScan, true},
		{SessionStateAwaitingScan, SessionStateAuthenticated, true},
		{SessionStateAwaitingScan, SessionStateReady, false},
		{SessionStateAuthenticated, SessionStateReady, true},
		{SessionStateAuthenticated, SessionStateAwaitingScan, false},
		{SessionStateAuthenticated, SessionStateInitializing, true},
		{SessionStateAwaitingScan, SessionStateInitializing, true},
		{SessionStateReady, SessionStateDisconnected, true},
		{SessionStateReady, SessionStateInitializing, true},
		{SessionStateReady, SessionStateAwaitingScan, false},
		{SessionStateDisconnected, SessionStateReady, false},
		{SessionStateDisconnected, SessionStateDestroyed, true},
		{SessionStateDestroyed, SessionStateDestroyed, false},
		{SessionStateDestroyed, SessionStateReady, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSummaryNullsMissingIdentity(t *testing.T) {
	s := Session{SessionID: "s1", State: SessionStateAwaitingScan}
	sum := s.Summary()

	assert.False(t, sum.Connected)
	assert.Nil(t, sum.PhoneNumber)
	assert.Nil(t, sum.Pushname)

	s.State = SessionStateReady
	s.PhoneNumber = "628111"
	s.Pushname = "Ops"
	sum = s.Summary()
	assert.True(t, sum.Connected)
	assert.Equal(t, "628111", *sum.PhoneNumber)
	assert.Equal(t, "Ops", *sum.Pushname)
}

func TestAdapterErrorUnwraps(t *testing.T) {
	cause := errors.New("socket hang up")
	err := fmt.Errorf("send: %w", &AdapterError{Op: "sendMessage", Err: cause})

	var aerr *AdapterError
	assert.True(t, errors.As(err, &aerr))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "engine sendMessage: socket hang up", aerr.Error())
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"number": "required", "message": "required"}}
	assert.Equal(t, "validation failed: message: required, number: required", err.Error())
}

func TestAckNames(t *testing.T) {
	names := map[AckLevel]string{
		AckError:   "Error",
		AckPending: "Pending",
		AckServer:  "Server",
		AckDevice:  "Device",
		AckRead:    "Read",
		AckPlayed:  "Played",
	}
	for level, want := range names {
		assert.Equal(t, want, level.Name())
	}
}

func TestAckNameProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("levels outside -1..4 are Unknown", prop.ForAll(
		func(n int) bool {
			name := AckLevel(n).Name()
			if n >= -1 && n <= 4 {
				return name != "Unknown"
			}
			return name == "Unknown"
		},
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}

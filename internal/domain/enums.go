// Package domain defines the core session models for the gateway.
package domain

// SessionState is the connection state of a session.
type SessionState string

const (
	SessionStateInitializing  SessionState = "INITIALIZING"
	SessionStateAwaitingScan  SessionState = "AWAITING_SCAN"
	SessionStateAuthenticated SessionState = "AUTHENTICATED"
	SessionStateReady         SessionState = "READY"
	SessionStateDisconnected  SessionState = "DISCONNECTED"
	SessionStateDestroyed     SessionState = "DESTROYED"
)

// transitions lists the states reachable from each state. Destroyed is
// reachable from everywhere and handled separately. Initializing -> Ready is
// the restored-credentials path where the engine skips the QR challenge. An
// authentication failure before Ready sends the session back to Initializing.
var transitions = map[SessionState][]SessionState{
	SessionStateInitializing:  {SessionStateAwaitingScan, SessionStateAuthenticated, SessionStateReady, SessionStateDisconnected},
	SessionStateAwaitingScan:  {SessionStateInitializing, SessionStateAwaitingScan, SessionStateAuthenticated, SessionStateDisconnected},
	SessionStateAuthenticated: {SessionStateInitializing, SessionStateReady, SessionStateDisconnected},
	SessionStateReady:         {SessionStateInitializing, SessionStateDisconnected},
	SessionStateDisconnected:  {},
	SessionStateDestroyed:     {},
}

// CanTransition reports whether a session may move from one state to another.
func (s SessionState) CanTransition(to SessionState) bool {
	if to == SessionStateDestroyed {
		return s != SessionStateDestroyed
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no adapter callback can move the session further.
func (s SessionState) Terminal() bool {
	return s == SessionStateDisconnected || s == SessionStateDestroyed
}

// AckLevel is the delivery-receipt level reported for an outbound message.
type AckLevel int

const (
	AckError   AckLevel = -1
	AckPending AckLevel = 0
	AckServer  AckLevel = 1
	AckDevice  AckLevel = 2
	AckRead    AckLevel = 3
	AckPlayed  AckLevel = 4
)

// Name returns the presentation name of the ack level.
func (a AckLevel) Name() string {
	switch a {
	case AckError:
		return "Error"
	case AckPending:
		return "Pending"
	case AckServer:
		return "Server"
	case AckDevice:
		return "Device"
	case AckRead:
		return "Read"
	case AckPlayed:
		return "Played"
	default:
		return "Unknown"
	}
}

// EventType names an event published on the broadcast bus.
type EventType string

const (
	EventTypeQR             EventType = "qr"
	EventTypeMessage        EventType = "message"
	EventTypeAuthenticated  EventType = "authenticated"
	EventTypeReady          EventType = "ready"
	EventTypeDisconnected   EventType = "disconnected"
	EventTypeReconnecting   EventType = "reconnecting"
	EventTypeMessageAck     EventType = "message_ack"
	EventTypeSessionDeleted EventType = "sessionDeleted"
	EventTypeError          EventType = "error"
)

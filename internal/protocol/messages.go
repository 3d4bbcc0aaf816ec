// Package protocol defines the realtime message protocol between observers and the gateway.
package protocol

import "encoding/json"

// Events from client to gateway
const (
	EventJoinSession       = "joinSession"
	EventDisconnectSession = "disconnectSession"
	EventDeleteSession     = "deleteSession"
)

// Events from gateway to client
const (
	EventQR             = "qr"
	EventMessage        = "message"
	EventAuthenticated  = "authenticated"
	EventReady          = "ready"
	EventDisconnected   = "disconnected"
	EventReconnecting   = "reconnecting"
	EventMessageAck     = "message_ack"
	EventSessionDeleted = "sessionDeleted"
	EventError          = "error"
	EventResponse       = "response"
)

// Frame is the envelope of every realtime message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutFrame is a Frame whose data has not been encoded yet.
type OutFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Encode marshals an outbound frame.
func Encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(OutFrame{Event: event, Data: data})
}

// Decode parses a frame received from a client.
func Decode(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// SessionID extracts the session id argument of a client command. Both a bare
// JSON string and an object {"sessionId": "..."} are accepted.
func (f Frame) SessionID() string {
	if len(f.Data) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(f.Data, &id); err == nil {
		return id
	}
	var obj SessionPayload
	if err := json.Unmarshal(f.Data, &obj); err == nil {
		return obj.SessionID
	}
	return ""
}

// SessionPayload carries only a session id.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// QRPayload is sent when a session needs to be scanned.
type QRPayload struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ReadyPayload is sent when a session becomes ready.
type ReadyPayload struct {
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
	Pushname    string `json:"pushname"`
}

// DisconnectedPayload is sent when a session loses its connection.
type DisconnectedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// AckPayload reports the delivery state of an outbound message.
type AckPayload struct {
	SessionID string `json:"sesId"`
	ID        string `json:"id"`
	Ack       int    `json:"ack"`
	AckName   string `json:"ackName"`
}

// ErrorPayload is sent when a command or a session fails.
type ErrorPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeSessionNotFound = "session_not_found"
	ErrorCodeInitFailed      = "init_failed"
	ErrorCodeInternalError   = "internal_error"
)

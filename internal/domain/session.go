package domain

import "time"

// Identity is the account identity reported by the engine once a session is ready.
type Identity struct {
	PhoneNumber string `json:"phoneNumber"`
	Pushname    string `json:"pushname"`
}

// Session is the in-memory record of one messaging connection.
type Session struct {
	SessionID   string       `json:"sessionId"`
	State       SessionState `json:"state"`
	PhoneNumber string       `json:"phoneNumber,omitempty"`
	Pushname    string       `json:"pushname,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Connected reports whether the session can send and receive messages.
func (s Session) Connected() bool {
	return s.State == SessionStateReady
}

// Summary projects the session down to its public form.
func (s Session) Summary() SessionSummary {
	sum := SessionSummary{
		SessionID: s.SessionID,
		Connected: s.Connected(),
	}
	if s.PhoneNumber != "" {
		phone := s.PhoneNumber
		sum.PhoneNumber = &phone
	}
	if s.Pushname != "" {
		name := s.Pushname
		sum.Pushname = &name
	}
	return sum
}

// SessionSummary is the public projection of a session. It is also the
// persisted index entry.
type SessionSummary struct {
	SessionID   string  `json:"sessionId"`
	Connected   bool    `json:"connected"`
	PhoneNumber *string `json:"phoneNumber"`
	Pushname    *string `json:"pushname"`
}

// Chat is a conversation known to the engine.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

// ChatMessage is a message fetched from a chat.
type ChatMessage struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	FromMe bool   `json:"fromMe"`
}

// InboundMessage is a message received by a session.
type InboundMessage struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	Body   string `json:"body"`
	FromMe bool   `json:"fromMe"`
}

// Media is an outbound attachment, already resolved to raw bytes.
type Media struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimetype"`
	FileName string `json:"filename"`
}

// MessageReceipt is the normalized result of a successful send.
type MessageReceipt struct {
	ID        string `json:"id"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
	HasMedia  bool   `json:"hasMedia,omitempty"`
}

// GroupTarget selects a group either by its literal id or by name.
type GroupTarget struct {
	ID   string
	Name string
}

// DeleteSummary reports the outcome of a bulk own-message deletion.
type DeleteSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

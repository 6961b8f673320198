package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// EventType names a socket event.
type EventType string

const (
	EventJoin           EventType = "join"
	EventMessage        EventType = "message"
	EventMessageDeleted EventType = "messageDeleted"

	// EventReconnect is raised locally by the socket after a successful re-dial.
	EventReconnect EventType = "reconnect"
)

// Message is a chat message as stored and served by the backend.
type Message struct {
	ID        string    `json:"_id"`
	From      string    `json:"from"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UnmarshalJSON accepts createdAt as RFC 3339, another common date layout or
// epoch seconds/milliseconds. An unreadable createdAt leaves the zero time.
func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"createdAt"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m.CreatedAt = parseTime(aux.CreatedAt)
	return nil
}

func parseTime(raw json.RawMessage) time.Time {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		s = str
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// OutgoingMessage is the payload of an emitted "message" event.
// Image is null when nothing was uploaded.
type OutgoingMessage struct {
	From  string  `json:"from"`
	Text  string  `json:"text"`
	Image *string `json:"image"`
}

type JoinRequest struct {
	Email string `json:"email"`
}

type TokenRegistration struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type UploadResponse struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

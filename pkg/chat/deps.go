package chat

import (
	"context"
	"io"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/socket"
	"github.com/mahaj/groupchat/pkg/ui"
)

// Backend is the chat server's REST surface.
type Backend interface {
	BaseURL() string
	FetchMessages(ctx context.Context) ([]model.Message, error)
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Conn is a live event socket.
type Conn interface {
	Emit(event model.EventType, v any) error
	On(event model.EventType, h socket.Handler) func()
	Close() error
}

// Dialer opens the event socket for a backend.
type Dialer func(ctx context.Context, baseURL string) (Conn, error)

// SocketDialer dials with the websocket client.
func SocketDialer(opts ...socket.Option) Dialer {
	return func(ctx context.Context, baseURL string) (Conn, error) {
		return socket.Dial(ctx, baseURL, opts...)
	}
}

// Notifications registers the session for push notifications.
type Notifications interface {
	RequestAndRegister(ctx context.Context, identity, backendBaseURL string) (string, error)
}

// Presence tells the push client whether the chat is on screen.
type Presence interface {
	SetForeground(bool)
}

// Alerter shows blocking messages and questions to the user.
type Alerter interface {
	Alert(msg string)
	Confirm(question string) bool
}

type Renderer interface {
	Render(v ui.View)
	ScrollToEnd()
}

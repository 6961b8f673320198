package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/groupchat/pkg/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeGateway records inbound envelopes and lets the test push events.
type fakeGateway struct {
	t        *testing.T
	mu       sync.Mutex
	received []Envelope
	conns    chan *websocket.Conn
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	g := &fakeGateway{t: t, conns: make(chan *websocket.Conn, 4)}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.conns <- conn
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			g.mu.Lock()
			g.received = append(g.received, env)
			g.mu.Unlock()
		}
	}))
	return g, ts
}

func (g *fakeGateway) events() []Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Envelope(nil), g.received...)
}

func push(t *testing.T, conn *websocket.Conn, event model.EventType, v any) {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: data}))
}

func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(10 * time.Millisecond)
}

func TestURL(t *testing.T) {
	u, err := URL("http://localhost:4000/")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/ws", u)

	u, err = URL("https://chat.example.com/base")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/base/ws", u)

	_, err = URL("ftp://x")
	assert.Error(t, err)
}

func TestClient_EmitAndReceive(t *testing.T) {
	g, ts := newFakeGateway(t)
	defer ts.Close()

	c, err := Dial(context.Background(), ts.URL, WithBackoff(fastBackoff))
	require.NoError(t, err)
	defer c.Close()

	// queued before the connection is up
	require.NoError(t, c.Emit(model.EventJoin, model.JoinRequest{Email: "alice"}))

	got := make(chan model.Message, 1)
	c.On(model.EventMessage, func(data json.RawMessage) {
		var m model.Message
		assert.NoError(t, json.Unmarshal(data, &m))
		got <- m
	})

	conn := <-g.conns
	assert.Eventually(t, func() bool { return len(g.events()) == 1 }, time.Second, 5*time.Millisecond)
	ev := g.events()[0]
	assert.Equal(t, model.EventJoin, ev.Event)
	assert.JSONEq(t, `{"email":"alice"}`, string(ev.Data))

	push(t, conn, model.EventMessage, model.Message{ID: "1", From: "bob", Text: "hi"})
	select {
	case m := <-got:
		assert.Equal(t, "hi", m.Text)
	case <-time.After(time.Second):
		t.Fatal("message event not dispatched")
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	g, ts := newFakeGateway(t)
	defer ts.Close()

	c, err := Dial(context.Background(), ts.URL, WithBackoff(fastBackoff))
	require.NoError(t, err)
	defer c.Close()

	var mu sync.Mutex
	var first, second []string
	off := c.On(model.EventMessageDeleted, func(data json.RawMessage) {
		mu.Lock()
		first = append(first, string(data))
		mu.Unlock()
	})
	c.On(model.EventMessageDeleted, func(data json.RawMessage) {
		mu.Lock()
		second = append(second, string(data))
		mu.Unlock()
	})

	conn := <-g.conns
	push(t, conn, model.EventMessageDeleted, "a")
	assert.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(second) == 1 }, time.Second, 5*time.Millisecond)

	off()
	off() // idempotent
	push(t, conn, model.EventMessageDeleted, "b")
	assert.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(second) == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`"a"`}, first)
	assert.Equal(t, []string{`"a"`, `"b"`}, second)
}

func TestClient_Reconnect(t *testing.T) {
	g, ts := newFakeGateway(t)
	defer ts.Close()

	c, err := Dial(context.Background(), ts.URL, WithBackoff(fastBackoff))
	require.NoError(t, err)
	defer c.Close()

	reconnected := make(chan struct{}, 1)
	c.On(model.EventReconnect, func(json.RawMessage) { reconnected <- struct{}{} })

	conn := <-g.conns
	require.NoError(t, conn.Close())

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect event")
	}
	<-g.conns
}

func TestClient_EmitAfterClose(t *testing.T) {
	_, ts := newFakeGateway(t)
	defer ts.Close()

	c, err := Dial(context.Background(), ts.URL, WithBackoff(fastBackoff))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Emit(model.EventMessage, model.OutgoingMessage{From: "a"}), ErrClosed)
}

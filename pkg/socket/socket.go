package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum event size accepted from the server.
	maxMessageSize = 1 << 20

	// Emits buffered while disconnected.
	sendBuffer = 256
)

var (
	ErrClosed     = errors.New("socket closed")
	ErrBufferFull = errors.New("socket send buffer full")
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event model.EventType `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw data of an event.
type Handler func(data json.RawMessage)

type subscription struct {
	id uint64
	h  Handler
}

// Client is an event socket on top of a websocket. It keeps redialing with
// exponential backoff until closed; emits made while disconnected are queued.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    zerolog.Logger

	newBackoff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	send   chan []byte
	wg     sync.WaitGroup

	mu       sync.Mutex
	nextID   uint64
	handlers map[model.EventType][]subscription
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithBackoff replaces the reconnect schedule.
func WithBackoff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = f }
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// URL turns the backend base URL into the websocket endpoint.
func URL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", errors.Wrap(err, "parse backend url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Dial starts connecting to the backend and returns immediately. The
// connection is torn down by Close or by cancelling ctx.
func Dial(ctx context.Context, baseURL string, opts ...Option) (*Client, error) {
	wsURL, err := URL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:        wsURL,
		dialer:     websocket.DefaultDialer,
		log:        zerolog.Nop(),
		newBackoff: defaultBackoff,
		send:       make(chan []byte, sendBuffer),
		handlers:   make(map[model.EventType][]subscription),
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// On registers h for event and returns a function that removes it.
func (c *Client) On(event model.EventType, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.handlers[event]
			for i, s := range subs {
				if s.id == id {
					c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit queues an event for delivery.
func (c *Client) Emit(event model.EventType, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", event)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops reconnecting and closes the current connection.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Client) dispatch(event model.EventType, data json.RawMessage) {
	c.mu.Lock()
	subs := append([]subscription(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, s := range subs {
		s.h(data)
	}
}

func (c *Client) run() {
	defer c.wg.Done()

	b := c.newBackoff()
	connected := false
	for {
		conn, _, err := c.dialer.DialContext(c.ctx, c.url, c.header)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				c.log.Error().Err(err).Str("url", c.url).Msg("giving up on socket")
				return
			}
			c.log.Warn().Err(err).Dur("retry_in", wait).Msg("socket dial failed")
			select {
			case <-time.After(wait):
				continue
			case <-c.ctx.Done():
				return
			}
		}
		b.Reset()
		if connected {
			c.log.Info().Str("url", c.url).Msg("socket reconnected")
			c.dispatch(model.EventReconnect, nil)
		} else {
			c.log.Debug().Str("url", c.url).Msg("socket connected")
		}
		connected = true

		c.serve(conn)
		if c.ctx.Err() != nil {
			return
		}
	}
}

// serve runs the pumps for one connection and returns once it is gone.
func (c *Client) serve(conn *websocket.Conn) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readPump(conn)
	}()
	c.writePump(conn, readDone)
	conn.Close()
	<-readDone
}

// readPump dispatches events from the connection in arrival order.
func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	// Server pings also count as liveness.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("socket read")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			c.log.Debug().Bytes("frame", frame).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

// writePump drains queued emits to the connection and keeps it alive.
func (c *Client) writePump(conn *websocket.Conn, readDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("socket write; event dropped")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-c.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

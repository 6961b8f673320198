package chat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/storage"
	"github.com/mahaj/groupchat/pkg/ui"
)

// MaxUploadSize is the largest file that can be attached to a message.
const MaxUploadSize = 5 << 20

var (
	ErrEmptyName     = errors.New("chat: name is required")
	ErrFileTooLarge  = errors.New("chat: max 5MB is allowed")
	ErrNotInChat     = errors.New("chat: not in chat")
	ErrAlreadyInChat = errors.New("chat: already in chat")
	ErrNotOwner      = errors.New("chat: only your own messages can be deleted")
	ErrNotConnected  = errors.New("chat: socket not connected")
)

type State int

const (
	Unauthenticated State = iota
	InChat
)

func (s State) String() string {
	if s == InChat {
		return "in-chat"
	}
	return "unauthenticated"
}

// StagedFile is the file attached to the next message.
type StagedFile struct {
	Path string
	Name string
	Size int64
}

type Config struct {
	Store    storage.Store
	Backend  Backend
	Dial     Dialer
	Alerts   Alerter
	Renderer Renderer
	// Optional.
	Notifications Notifications
	Presence      Presence
	Log           zerolog.Logger
}

// Controller is one chat session. All session state is owned by the
// goroutine running Run; every operation is applied there in order.
type Controller struct {
	store         storage.Store
	backend       Backend
	dial          Dialer
	alerts        Alerter
	renderer      Renderer
	notifications Notifications
	presence      Presence
	log           zerolog.Logger

	actions chan func()
	done    chan struct{}
	started chan struct{}
	tasks   sync.WaitGroup

	// loop-owned
	ctx       context.Context
	state     State
	identity  string
	gen       uint64
	messages  []model.Message
	text      string
	staged    *StagedFile
	uploading bool
	conn      Conn
	unsubs    []func()
}

func New(cfg Config) *Controller {
	return &Controller{
		store:         cfg.Store,
		backend:       cfg.Backend,
		dial:          cfg.Dial,
		alerts:        cfg.Alerts,
		renderer:      cfg.Renderer,
		notifications: cfg.Notifications,
		presence:      cfg.Presence,
		log:           cfg.Log,
		actions:       make(chan func(), 64),
		done:          make(chan struct{}),
		started:       make(chan struct{}),
	}
}

// Run applies operations and socket events until ctx is cancelled, then
// closes the socket and waits for background work to finish.
func (c *Controller) Run(ctx context.Context) {
	c.ctx = ctx
	close(c.started)
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-ctx.Done():
			close(c.done)
			c.shutdown()
			return
		}
	}
}

func (c *Controller) shutdown() {
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close socket")
		}
		c.conn = nil
	}
	c.tasks.Wait()
}

// do runs fn on the loop and waits for it. It returns false if the loop has
// stopped.
func (c *Controller) do(fn func()) bool {
	select {
	case <-c.started:
	case <-c.done:
		return false
	}
	finished := make(chan struct{})
	select {
	case c.actions <- func() { defer close(finished); fn() }:
	case <-c.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

// post queues fn on the loop without waiting.
func (c *Controller) post(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.done:
	}
}

// spawn runs fn off the loop; Run waits for it on shutdown.
func (c *Controller) spawn(fn func(ctx context.Context)) {
	ctx := c.ctx
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		fn(ctx)
	}()
}

// SavedIdentity returns the identity an earlier session left in storage.
func (c *Controller) SavedIdentity() (string, bool, error) {
	email, ok, err := c.store.Get(storage.KeyEmail)
	if err != nil {
		return "", false, errors.Wrap(err, "read saved identity")
	}
	if !ok || strings.TrimSpace(email) == "" {
		return "", false, nil
	}
	return email, true, nil
}

// Resume enters the chat if an identity was saved by an earlier session.
func (c *Controller) Resume() (bool, error) {
	email, ok, err := c.SavedIdentity()
	if err != nil || !ok {
		return false, err
	}
	resumed := false
	c.do(func() {
		if c.state == InChat {
			return
		}
		c.enterChat(email)
		resumed = true
	})
	return resumed, nil
}

// Login saves name as the session identity and enters the chat.
func (c *Controller) Login(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		c.alerts.Alert("Enter a name")
		return ErrEmptyName
	}
	var err error
	c.do(func() {
		if c.state == InChat {
			err = ErrAlreadyInChat
			return
		}
		if err = c.store.Set(storage.KeyEmail, name); err != nil {
			return
		}
		if err = c.store.Set(storage.KeyName, name); err != nil {
			return
		}
		c.enterChat(name)
	})
	return err
}

func (c *Controller) enterChat(identity string) {
	c.state = InChat
	c.identity = identity
	c.messages = nil
	c.gen++
	gen := c.gen
	log := c.log.With().Str("email", identity).Logger()

	if c.presence != nil {
		c.presence.SetForeground(true)
	}
	if c.notifications != nil {
		baseURL := c.backend.BaseURL()
		c.spawn(func(ctx context.Context) {
			if _, err := c.notifications.RequestAndRegister(ctx, identity, baseURL); err != nil {
				log.Warn().Err(err).Msg("push registration failed")
			}
		})
	}

	conn, err := c.dial(c.ctx, c.backend.BaseURL())
	if err != nil {
		log.Error().Err(err).Msg("open socket")
	} else {
		c.conn = conn
		c.subscribe(conn, gen)
		c.emitJoin()
	}

	c.spawn(func(ctx context.Context) {
		history, err := c.backend.FetchMessages(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load messages")
			return
		}
		c.post(func() {
			if c.gen != gen {
				return
			}
			c.seed(history)
			c.render()
			c.renderer.ScrollToEnd()
		})
	})
	c.render()
}

func (c *Controller) subscribe(conn Conn, gen uint64) {
	c.unsubs = append(c.unsubs,
		conn.On(model.EventMessage, func(data json.RawMessage) {
			var m model.Message
			if err := json.Unmarshal(data, &m); err != nil {
				c.log.Warn().Err(err).Msg("malformed message event")
				return
			}
			c.post(func() {
				if c.gen != gen {
					return
				}
				c.messages = append(c.messages, m)
				c.render()
			})
		}),
		conn.On(model.EventMessageDeleted, func(data json.RawMessage) {
			id := eventID(data)
			c.post(func() {
				if c.gen != gen {
					return
				}
				if c.remove(id) {
					c.render()
				}
			})
		}),
		conn.On(model.EventReconnect, func(json.RawMessage) {
			c.post(func() {
				if c.gen == gen {
					c.emitJoin()
				}
			})
		}),
	)
}

// eventID reads a deleted message id sent either as a JSON string or bare.
func eventID(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id
	}
	return strings.Trim(strings.TrimSpace(string(data)), `"`)
}

func (c *Controller) emitJoin() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Emit(model.EventJoin, model.JoinRequest{Email: c.identity}); err != nil {
		c.log.Warn().Err(err).Msg("emit join")
	}
}

// seed puts history first, keeping live messages that arrived before it.
func (c *Controller) seed(history []model.Message) {
	seen := make(map[string]struct{}, len(history))
	merged := make([]model.Message, 0, len(history)+len(c.messages))
	for _, m := range history {
		merged = append(merged, m)
		seen[m.ID] = struct{}{}
	}
	for _, m := range c.messages {
		if _, ok := seen[m.ID]; !ok {
			merged = append(merged, m)
		}
	}
	c.messages = merged
}

func (c *Controller) remove(id string) bool {
	kept := c.messages[:0]
	removed := false
	for _, m := range c.messages {
		if m.ID == id {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
	return removed
}

func (c *Controller) render() {
	if c.state != InChat || c.renderer == nil {
		return
	}
	staged := ""
	if c.staged != nil {
		staged = c.staged.Name
	}
	c.renderer.Render(ui.NewView(c.identity, c.messages, c.uploading, staged))
}

// SetText sets the text of the next message.
func (c *Controller) SetText(text string) {
	c.do(func() { c.text = text })
}

// SelectFile stages path for the next message. Files over MaxUploadSize are
// rejected and leave the current attachment in place.
func (c *Controller) SelectFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		c.alerts.Alert("Cannot read file: " + err.Error())
		return errors.Wrap(err, "select file")
	}
	if info.IsDir() {
		c.alerts.Alert(path + " is a directory")
		return errors.Errorf("select file: %s is a directory", path)
	}
	if info.Size() > MaxUploadSize {
		c.alerts.Alert("max 5MB is allowed")
		return ErrFileTooLarge
	}
	err = ErrNotInChat
	c.do(func() {
		if c.state != InChat {
			return
		}
		c.staged = &StagedFile{Path: path, Name: filepath.Base(path), Size: info.Size()}
		err = nil
		c.render()
	})
	return err
}

// Send uploads the staged file, if any, and emits the message. The text
// and attachment are cleared whether or not it worked. The message shows up
// in the list once the server echoes it back.
func (c *Controller) Send(ctx context.Context) error {
	var (
		from, text string
		staged     *StagedFile
		conn       Conn
		skip       bool
		err        error
	)
	c.do(func() {
		switch {
		case c.state != InChat:
			err = ErrNotInChat
		case c.uploading, c.text == "" && c.staged == nil:
			skip = true
		default:
			from, text, staged, conn = c.identity, c.text, c.staged, c.conn
			if staged != nil {
				c.uploading = true
				c.render()
			}
		}
	})
	if err != nil || skip {
		return err
	}

	var image *string
	if staged != nil {
		var u string
		if u, err = c.upload(ctx, staged); err == nil {
			image = &u
		}
	}
	if err == nil {
		if conn == nil {
			err = ErrNotConnected
		} else {
			err = conn.Emit(model.EventMessage, model.OutgoingMessage{From: from, Text: text, Image: image})
		}
	}

	c.do(func() {
		c.text = ""
		c.staged = nil
		c.uploading = false
		c.render()
	})

	if err != nil {
		c.log.Error().Err(err).Msg("send error")
		c.alerts.Alert("Upload/send failed: " + err.Error())
	}
	return err
}

func (c *Controller) upload(ctx context.Context, f *StagedFile) (string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return "", errors.Wrap(err, "open attachment")
	}
	defer file.Close()
	return c.backend.Upload(ctx, f.Name, file)
}

// Delete removes one of the user's own messages after confirmation. Other
// clients learn about it from the server's messageDeleted event.
func (c *Controller) Delete(ctx context.Context, id string) error {
	var err error
	c.do(func() {
		if c.state != InChat {
			err = ErrNotInChat
			return
		}
		for _, m := range c.messages {
			if m.ID == id {
				if m.From != c.identity {
					err = ErrNotOwner
				}
				return
			}
		}
		err = errors.Errorf("chat: no message %s", id)
	})
	if err != nil {
		c.alerts.Alert(err.Error())
		return err
	}

	if !c.alerts.Confirm("Delete this message?") {
		return nil
	}
	if err := c.backend.DeleteMessage(ctx, id); err != nil {
		c.log.Error().Err(err).Str("id", id).Msg("delete error")
		c.alerts.Alert("Delete failed")
		return err
	}
	c.do(func() {
		if c.remove(id) {
			c.render()
		}
	})
	return nil
}

// Logout forgets the identity, clears the list and closes the socket.
func (c *Controller) Logout() error {
	var (
		conn Conn
		err  error
	)
	c.do(func() {
		for _, u := range c.unsubs {
			u()
		}
		c.unsubs = nil
		conn, c.conn = c.conn, nil

		c.gen++
		c.state = Unauthenticated
		c.identity = ""
		c.messages = nil
		c.text = ""
		c.staged = nil
		c.uploading = false
		if c.presence != nil {
			c.presence.SetForeground(false)
		}
		if e := c.store.Delete(storage.KeyEmail); e != nil {
			err = e
		}
		if e := c.store.Delete(storage.KeyName); e != nil && err == nil {
			err = e
		}
	})
	if conn != nil {
		if e := conn.Close(); e != nil {
			c.log.Warn().Err(e).Msg("close socket")
		}
	}
	return err
}

func (c *Controller) State() State {
	s := Unauthenticated
	c.do(func() { s = c.state })
	return s
}

func (c *Controller) Identity() string {
	var id string
	c.do(func() { id = c.identity })
	return id
}

// Messages returns a copy of the current list.
func (c *Controller) Messages() []model.Message {
	var out []model.Message
	c.do(func() { out = append([]model.Message(nil), c.messages...) })
	return out
}

func (c *Controller) Text() string {
	var t string
	c.do(func() { t = c.text })
	return t
}

func (c *Controller) Staged() *StagedFile {
	var f *StagedFile
	c.do(func() {
		if c.staged != nil {
			cp := *c.staged
			f = &cp
		}
	})
	return f
}

func (c *Controller) Uploading() bool {
	var u bool
	c.do(func() { u = c.uploading })
	return u
}

// Refresh redraws the chat screen.
func (c *Controller) Refresh() {
	c.do(func() {
		c.render()
		if c.renderer != nil && c.state == InChat {
			c.renderer.ScrollToEnd()
		}
	})
}

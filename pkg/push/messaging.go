package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/snowflake"
	"github.com/mahaj/groupchat/pkg/storage"
)

// AppConfig is the push provider project the client belongs to.
type AppConfig struct {
	APIKey            string
	AuthDomain        string
	ProjectID         string
	StorageBucket     string
	MessagingSenderID string
	AppID             string

	// Endpoint is the base URL of the local stand-in provider that issues
	// delivery tokens.
	Endpoint string
}

type GetTokenOptions struct {
	// VapidKey is the public key the token is scoped by.
	VapidKey string
	// Scope is the worker scope deliveries are meant for.
	Scope string
}

// Handler receives a push payload.
type Handler func(model.PushPayload)

type handlerEntry struct {
	id uint64
	h  Handler
}

// Messaging is the client side of the push provider: it obtains a delivery
// token for this installation and dispatches incoming payloads to foreground
// handlers while the chat is visible and to background handlers otherwise.
type Messaging struct {
	app       AppConfig
	transport Transport
	store     storage.Store
	http      *http.Client
	ids       *snowflake.Node
	log       zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	visible atomic.Bool

	mu         sync.Mutex
	nextID     uint64
	foreground []handlerEntry
	background []handlerEntry
	detach     func()
	token      string
}

type Option func(*Messaging)

func WithHTTPClient(hc *http.Client) Option {
	return func(m *Messaging) { m.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Messaging) { m.log = l }
}

func WithIDs(n *snowflake.Node) Option {
	return func(m *Messaging) { m.ids = n }
}

// NewMessaging builds a client for app. transport may be nil, in which case
// tokens can still be obtained but nothing is delivered.
func NewMessaging(app AppConfig, transport Transport, store storage.Store, opts ...Option) *Messaging {
	m := &Messaging{
		app:       app,
		transport: transport,
		store:     store,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.ids == nil {
		m.ids = snowflake.NodeFor(app.AppID)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// InstallationID returns the persisted installation id, creating it on first use.
func (m *Messaging) InstallationID() (string, error) {
	fid, ok, err := m.store.Get(storage.KeyInstallationID)
	if err != nil {
		return "", err
	}
	if ok && fid != "" {
		return fid, nil
	}
	fid = m.ids.String()
	if err := m.store.Set(storage.KeyInstallationID, fid); err != nil {
		return "", err
	}
	return fid, nil
}

type registrationRequest struct {
	FID      string `json:"fid"`
	AppID    string `json:"appId"`
	VapidKey string `json:"vapidKey"`
	Scope    string `json:"scope,omitempty"`
}

type registrationResponse struct {
	Token string `json:"token"`
}

// GetToken registers this installation with the provider and returns the
// delivery token. An empty token with a nil error means the provider
// declined to issue one. On success deliveries for the token are attached.
//
// The provider is a local stand-in reached at AppConfig.Endpoint
// (CHAT_PUSH_ENDPOINT), not a hosted push service: it takes
// POST /v1/projects/<project>/registrations with a bearer from
// SignInstallation and answers {"token": ...}. Deliveries then travel over
// the configured Transport.
func (m *Messaging) GetToken(ctx context.Context, opts GetTokenOptions) (string, error) {
	if opts.VapidKey == "" {
		return "", errors.New("push: vapid key is required")
	}
	if m.app.ProjectID == "" || m.app.Endpoint == "" {
		return "", errors.New("push: project id and endpoint are required")
	}
	fid, err := m.InstallationID()
	if err != nil {
		return "", errors.Wrap(err, "installation id")
	}
	bearer, err := SignInstallation(m.app, fid, m.now())
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(registrationRequest{FID: fid, AppID: m.app.AppID, VapidKey: opts.VapidKey, Scope: opts.Scope})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/v1/projects/%s/registrations", strings.TrimRight(m.app.Endpoint, "/"), url.PathEscape(m.app.ProjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "push registration")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("push registration: %s", resp.Status)
	}
	var out registrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode push registration")
	}
	if out.Token == "" {
		return "", nil
	}

	if err := m.store.Set(storage.KeyPushToken, out.Token); err != nil {
		m.log.Warn().Err(err).Msg("cache push token")
	}
	if err := m.Attach(out.Token); err != nil {
		return out.Token, err
	}
	return out.Token, nil
}

// Attach starts receiving deliveries for token, replacing any earlier token.
func (m *Messaging) Attach(token string) error {
	if m.transport == nil {
		return nil
	}
	m.mu.Lock()
	if m.token == token && m.detach != nil {
		m.mu.Unlock()
		return nil
	}
	prev := m.detach
	m.detach, m.token = nil, ""
	m.mu.Unlock()
	if prev != nil {
		prev()
	}

	detach, err := m.transport.Subscribe(m.ctx, token, m.deliver)
	if err != nil {
		return errors.Wrap(err, "attach push deliveries")
	}
	m.mu.Lock()
	m.detach, m.token = detach, token
	m.mu.Unlock()
	m.log.Debug().Msg("push deliveries attached")
	return nil
}

// SetForeground marks whether the chat is currently visible to the user.
func (m *Messaging) SetForeground(v bool) {
	m.visible.Store(v)
}

// OnMessage registers a handler for payloads arriving while in the foreground.
func (m *Messaging) OnMessage(h Handler) func() {
	return m.add(&m.foreground, h)
}

// OnBackgroundMessage registers a handler for payloads arriving while the
// chat is not visible.
func (m *Messaging) OnBackgroundMessage(h Handler) func() {
	return m.add(&m.background, h)
}

func (m *Messaging) add(list *[]handlerEntry, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	*list = append(*list, handlerEntry{id: id, h: h})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

func (m *Messaging) deliver(p model.PushPayload) {
	m.mu.Lock()
	var targets []handlerEntry
	if m.visible.Load() && len(m.foreground) > 0 {
		targets = append(targets, m.foreground...)
	} else {
		targets = append(targets, m.background...)
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		m.log.Debug().Msg("push payload with no handler")
		return
	}
	for _, e := range targets {
		e.h(p)
	}
}

// Close detaches deliveries. The transport is owned by the caller.
func (m *Messaging) Close() error {
	m.cancel()
	m.mu.Lock()
	detach := m.detach
	m.detach, m.token = nil, ""
	m.mu.Unlock()
	if detach != nil {
		detach()
	}
	return nil
}

package notify

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mahaj/groupchat/pkg/api"
	"github.com/mahaj/groupchat/pkg/push"
)

// TokenSink stores a push token on the chat backend.
type TokenSink interface {
	RegisterToken(ctx context.Context, email, token string) error
}

// Messaging is the part of the push client the registrar drives.
type Messaging interface {
	GetToken(ctx context.Context, opts push.GetTokenOptions) (string, error)
	OnMessage(h push.Handler) func()
	OnBackgroundMessage(h push.Handler) func()
}

// Registrar wires this process into push notifications. Exactly one
// Registrar should exist per process: it is the lifecycle object that
// guarantees the push client is configured only once.
type Registrar struct {
	nc           Capability
	workers      *Workers
	vapidKey     string
	newMessaging func() Messaging
	newSink      func(backendBaseURL string) TokenSink
	log          zerolog.Logger

	initOnce  sync.Once
	messaging Messaging

	bgOnce sync.Once
	mu     sync.Mutex
	unsubs []func()
}

type RegistrarConfig struct {
	Capability Capability
	Workers    *Workers
	VapidKey   string
	// NewMessaging is called once, on first initialization.
	NewMessaging func() Messaging
	// NewSink builds the backend client for a base URL; defaults to api.New.
	NewSink func(backendBaseURL string) TokenSink
	Log     zerolog.Logger
}

func NewRegistrar(cfg RegistrarConfig) *Registrar {
	r := &Registrar{
		nc:           cfg.Capability,
		workers:      cfg.Workers,
		vapidKey:     cfg.VapidKey,
		newMessaging: cfg.NewMessaging,
		newSink:      cfg.NewSink,
		log:          cfg.Log,
	}
	if r.newSink == nil {
		r.newSink = func(base string) TokenSink { return api.New(base) }
	}
	return r
}

// Initialize configures the push client and subscribes the foreground
// handler. Only the first call has any effect.
func (r *Registrar) Initialize() {
	r.initOnce.Do(func() {
		r.messaging = r.newMessaging()
		r.track(r.messaging.OnMessage(ForegroundHandler(r.nc, r.workers, r.log)))
		r.log.Debug().Msg("push client initialized")
	})
}

// RequestAndRegister asks for notification permission, registers the
// background worker, obtains a delivery token and hands it to the backend.
// A denied permission is not an error: it returns an empty token.
func (r *Registrar) RequestAndRegister(ctx context.Context, identity, backendBaseURL string) (string, error) {
	r.Initialize()

	if r.nc.PermissionState() != PermissionGranted {
		p, err := r.nc.RequestPermission(ctx)
		if err != nil {
			return "", errors.Wrap(err, "request notification permission")
		}
		if p != PermissionGranted {
			r.log.Warn().Msg("Notifications blocked.")
			return "", nil
		}
	}

	reg, err := r.workers.Register(ctx, ServiceWorkerPath)
	if err != nil {
		return "", errors.Wrap(err, "register worker")
	}
	r.bgOnce.Do(func() {
		r.track(r.messaging.OnBackgroundMessage(BackgroundHandler(reg, r.log)))
	})

	token, err := r.messaging.GetToken(ctx, push.GetTokenOptions{VapidKey: r.vapidKey, Scope: reg.Scope})
	if err != nil {
		return "", errors.Wrap(err, "get push token")
	}
	if token == "" {
		r.log.Warn().Msg("No push token received")
		return "", nil
	}

	if err := r.newSink(backendBaseURL).RegisterToken(ctx, identity, token); err != nil {
		return token, errors.Wrap(err, "save push token")
	}
	r.log.Info().Str("email", identity).Msg("push token saved on server")
	return token, nil
}

func (r *Registrar) track(unsub func()) {
	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsub)
	r.mu.Unlock()
}

// Close removes every handler the registrar subscribed.
func (r *Registrar) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/groupchat/pkg/model"
	"github.com/mahaj/groupchat/pkg/push"
	"github.com/mahaj/groupchat/pkg/snowflake"
	"github.com/mahaj/groupchat/pkg/storage"
)

var ctx = context.Background()

type shown struct {
	Title string
	Opts  Options
}

type fakeCapability struct {
	mu        sync.Mutex
	state     Permission
	answer    Permission
	requested int
	shown     []shown
}

func (f *fakeCapability) PermissionState() Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCapability) RequestPermission(context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested++
	f.state = f.answer
	return f.answer, nil
}

func (f *fakeCapability) ShowNotification(_ context.Context, title string, opts Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, shown{title, opts})
	return nil
}

type fakeMessaging struct {
	token      string
	tokenErr   error
	vapid      string
	foreground []push.Handler
	background []push.Handler
}

func (f *fakeMessaging) GetToken(_ context.Context, opts push.GetTokenOptions) (string, error) {
	f.vapid = opts.VapidKey
	return f.token, f.tokenErr
}

func (f *fakeMessaging) OnMessage(h push.Handler) func() {
	f.foreground = append(f.foreground, h)
	return func() { f.foreground = nil }
}

func (f *fakeMessaging) OnBackgroundMessage(h push.Handler) func() {
	f.background = append(f.background, h)
	return func() { f.background = nil }
}

type fakeSink struct {
	calls []model.TokenRegistration
	err   error
}

func (f *fakeSink) RegisterToken(_ context.Context, email, token string) error {
	f.calls = append(f.calls, model.TokenRegistration{Email: email, Token: token})
	return f.err
}

func ids() *snowflake.Node { return snowflake.NodeFor("test") }

func newRegistrar(nc Capability, m *fakeMessaging, sink *fakeSink) (*Registrar, *int) {
	created := 0
	r := NewRegistrar(RegistrarConfig{
		Capability:   nc,
		Workers:      NewWorkers(nc, ids(), ServiceWorkerPath),
		VapidKey:     "vapid",
		NewMessaging: func() Messaging { created++; return m },
		NewSink:      func(string) TokenSink { return sink },
		Log:          zerolog.Nop(),
	})
	return r, &created
}

func TestRegistrar_Initialize(t *testing.T) {
	m := &fakeMessaging{}
	r, created := newRegistrar(&fakeCapability{state: PermissionGranted}, m, &fakeSink{})
	r.Initialize()
	r.Initialize()
	r.Initialize()
	assert.Equal(t, 1, *created)
	assert.Len(t, m.foreground, 1)
}

func TestRegistrar_RequestAndRegister(t *testing.T) {
	t.Run("granted", func(t *testing.T) {
		nc := &fakeCapability{state: PermissionDefault, answer: PermissionGranted}
		m := &fakeMessaging{token: "tok-1"}
		sink := &fakeSink{}
		r, _ := newRegistrar(nc, m, sink)

		token, err := r.RequestAndRegister(ctx, "alice", "http://backend")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)
		assert.Equal(t, 1, nc.requested)
		assert.Equal(t, "vapid", m.vapid)
		assert.Equal(t, []model.TokenRegistration{{Email: "alice", Token: "tok-1"}}, sink.calls)
		assert.Len(t, m.background, 1)

		// a second registration does not subscribe the background handler again
		_, err = r.RequestAndRegister(ctx, "alice", "http://backend")
		require.NoError(t, err)
		assert.Len(t, m.background, 1)
		assert.Len(t, m.foreground, 1)

		r.Close()
		assert.Empty(t, m.background)
		assert.Empty(t, m.foreground)
	})

	t.Run("denied is a silent no-op", func(t *testing.T) {
		nc := &fakeCapability{state: PermissionDefault, answer: PermissionDenied}
		m := &fakeMessaging{token: "tok-1"}
		sink := &fakeSink{}
		r, _ := newRegistrar(nc, m, sink)

		token, err := r.RequestAndRegister(ctx, "alice", "http://backend")
		require.NoError(t, err)
		assert.Empty(t, token)
		assert.Empty(t, sink.calls)
		assert.Empty(t, m.background)
	})

	t.Run("already granted does not prompt", func(t *testing.T) {
		nc := &fakeCapability{state: PermissionGranted}
		r, _ := newRegistrar(nc, &fakeMessaging{token: "t"}, &fakeSink{})
		_, err := r.RequestAndRegister(ctx, "alice", "http://backend")
		require.NoError(t, err)
		assert.Zero(t, nc.requested)
	})

	t.Run("no token", func(t *testing.T) {
		sink := &fakeSink{}
		r, _ := newRegistrar(&fakeCapability{state: PermissionGranted}, &fakeMessaging{}, sink)
		token, err := r.RequestAndRegister(ctx, "alice", "http://backend")
		require.NoError(t, err)
		assert.Empty(t, token)
		assert.Empty(t, sink.calls)
	})

	t.Run("backend failure is returned, not retried", func(t *testing.T) {
		sink := &fakeSink{err: assert.AnError}
		r, _ := newRegistrar(&fakeCapability{state: PermissionGranted}, &fakeMessaging{token: "t"}, sink)
		token, err := r.RequestAndRegister(ctx, "alice", "http://backend")
		assert.Error(t, err)
		assert.Equal(t, "t", token)
		assert.Len(t, sink.calls, 1)
	})
}

func TestForegroundHandler(t *testing.T) {
	payload := model.PushPayload{
		Notification: &model.PushNotification{Title: "bob", Body: "hi"},
		Data:         map[string]string{"id": "1"},
	}

	t.Run("permission not granted", func(t *testing.T) {
		nc := &fakeCapability{state: PermissionDenied}
		ForegroundHandler(nc, NewWorkers(nc, ids(), ServiceWorkerPath), zerolog.Nop())(payload)
		assert.Empty(t, nc.shown)
	})

	t.Run("direct notification without registration", func(t *testing.T) {
		nc := &fakeCapability{state: PermissionGranted}
		ForegroundHandler(nc, NewWorkers(nc, ids(), ServiceWorkerPath), zerolog.Nop())(payload)
		require.Len(t, nc.shown, 1)
		assert.Equal(t, "bob", nc.shown[0].Title)
		assert.Equal(t, "hi", nc.shown[0].Opts.Body)
		assert.Equal(t, map[string]string{"id": "1"}, nc.shown[0].Opts.Data)
		assert.Empty(t, nc.shown[0].Opts.Tag)
	})

	t.Run("through registration", func(t *testing.T) {
		nc := &fakeCapability{state: PermissionGranted}
		w := NewWorkers(nc, ids(), ServiceWorkerPath)
		_, err := w.Register(ctx, ServiceWorkerPath)
		require.NoError(t, err)

		ForegroundHandler(nc, w, zerolog.Nop())(model.PushPayload{})
		require.Len(t, nc.shown, 1)
		assert.NotEmpty(t, nc.shown[0].Opts.Tag)
		assert.Equal(t, map[string]string{}, nc.shown[0].Opts.Data)
	})
}

func TestBackgroundHandler(t *testing.T) {
	nc := &fakeCapability{state: PermissionGranted}
	w := NewWorkers(nc, ids(), ServiceWorkerPath)
	reg, err := w.Register(ctx, ServiceWorkerPath)
	require.NoError(t, err)
	h := BackgroundHandler(reg, zerolog.Nop())

	h(model.PushPayload{})
	h(model.PushPayload{Notification: &model.PushNotification{Title: "bob"}})
	h(model.PushPayload{Notification: &model.PushNotification{Title: "bob", Body: "hi"}})

	require.Len(t, nc.shown, 3)
	assert.Equal(t, shown{"New Message", Options{Body: "You have a new message.", Tag: nc.shown[0].Opts.Tag}}, nc.shown[0])
	assert.Equal(t, "bob", nc.shown[1].Title)
	assert.Equal(t, "You have a new message.", nc.shown[1].Opts.Body)
	assert.Equal(t, "hi", nc.shown[2].Opts.Body)
}

func TestWorkers(t *testing.T) {
	nc := &fakeCapability{}
	w := NewWorkers(nc, ids(), ServiceWorkerPath)

	_, ok := w.GetRegistration()
	assert.False(t, ok)

	_, err := w.Register(ctx, "/other.js")
	assert.Error(t, err)

	a, err := w.Register(ctx, ServiceWorkerPath)
	require.NoError(t, err)
	b, err := w.Register(ctx, ServiceWorkerPath)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "/", a.Scope)

	got, ok := w.GetRegistration()
	assert.True(t, ok)
	assert.Same(t, a, got)
}

type answer bool

func (a answer) ConfirmContext(context.Context, string) bool { return bool(a) }

func TestTerminalCapability(t *testing.T) {
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	c := NewTerminalCapability(store, answer(true), &out, false)
	assert.Equal(t, PermissionDefault, c.PermissionState())

	p, err := c.RequestPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, p)
	assert.Equal(t, PermissionGranted, c.PermissionState())

	// once decided, the prompt is not shown again
	c2 := NewTerminalCapability(store, answer(false), &out, false)
	p, err = c2.RequestPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, p)

	require.NoError(t, c.Preset(PermissionDenied))
	assert.Equal(t, PermissionDenied, c.PermissionState())

	require.NoError(t, c.ShowNotification(ctx, "bob", Options{Body: "hi"}))
	assert.Contains(t, out.String(), "bob")
	assert.Contains(t, out.String(), "hi")
}

// End to end: provider issues a token, the backend stores it, and a
// published payload reaches the background handler.
func TestRegistrar_WithPushClient(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-e2e"})
	}))
	defer provider.Close()

	var saved model.TokenRegistration
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/token", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
	}))
	defer backend.Close()

	store, err := storage.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	tr := push.NewMemoryTransport()
	msg := push.NewMessaging(push.AppConfig{
		APIKey: "k", ProjectID: "p", AppID: "a", Endpoint: provider.URL,
	}, tr, store)
	defer msg.Close()

	nc := &fakeCapability{state: PermissionGranted}
	r := NewRegistrar(RegistrarConfig{
		Capability:   nc,
		Workers:      NewWorkers(nc, ids(), ServiceWorkerPath),
		VapidKey:     "vapid",
		NewMessaging: func() Messaging { return msg },
		Log:          zerolog.Nop(),
	})
	defer r.Close()

	token, err := r.RequestAndRegister(ctx, "alice", backend.URL)
	require.NoError(t, err)
	assert.Equal(t, "tok-e2e", token)
	assert.Equal(t, model.TokenRegistration{Email: "alice", Token: "tok-e2e"}, saved)

	require.NoError(t, tr.Publish(ctx, "tok-e2e", model.PushPayload{Notification: &model.PushNotification{Title: "bob", Body: "yo"}}))
	require.Len(t, nc.shown, 1)
	assert.Equal(t, "bob", nc.shown[0].Title)

	msg.SetForeground(true)
	require.NoError(t, tr.Publish(ctx, "tok-e2e", model.PushPayload{Notification: &model.PushNotification{Title: "carol"}}))
	require.Len(t, nc.shown, 2)
	assert.Equal(t, "carol", nc.shown[1].Title)
}

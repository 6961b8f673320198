package notify

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/mahaj/groupchat/pkg/snowflake"
)

// ServiceWorkerPath is the well-known script the push provider expects the
// background handler to be registered under.
const ServiceWorkerPath = "/firebase-messaging-sw.js"

const rootScope = "/"

// Registration is an active background worker. Notifications shown through
// it are tagged so repeated deliveries can be told apart.
type Registration struct {
	ScriptURL string
	Scope     string

	nc  Capability
	ids *snowflake.Node
}

func (r *Registration) ShowNotification(ctx context.Context, title string, opts Options) error {
	if opts.Tag == "" {
		opts.Tag = r.ids.String()
	}
	return r.nc.ShowNotification(ctx, title, opts)
}

// Workers keeps the worker registrations of this client.
type Workers struct {
	nc      Capability
	ids     *snowflake.Node
	scripts map[string]struct{}

	mu   sync.Mutex
	regs map[string]*Registration
}

// NewWorkers accepts registrations for the given scripts only.
func NewWorkers(nc Capability, ids *snowflake.Node, scripts ...string) *Workers {
	w := &Workers{
		nc:      nc,
		ids:     ids,
		scripts: make(map[string]struct{}, len(scripts)),
		regs:    make(map[string]*Registration),
	}
	for _, s := range scripts {
		w.scripts[s] = struct{}{}
	}
	return w
}

// Register installs the worker script at the root scope. Registering the
// same script again returns the existing registration.
func (w *Workers) Register(ctx context.Context, scriptURL string) (*Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := w.scripts[scriptURL]; !ok {
		return nil, errors.Errorf("no worker script at %s", scriptURL)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, ok := w.regs[rootScope]; ok && r.ScriptURL == scriptURL {
		return r, nil
	}
	r := &Registration{ScriptURL: scriptURL, Scope: rootScope, nc: w.nc, ids: w.ids}
	w.regs[rootScope] = r
	return r, nil
}

// GetRegistration returns the active root-scope registration, if any.
func (w *Workers) GetRegistration() (*Registration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.regs[rootScope]
	return r, ok
}

package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/logrusorgru/aurora"

	"github.com/mahaj/groupchat/pkg/storage"
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Options accompany a shown notification.
type Options struct {
	Body string
	Data map[string]string
	Tag  string
}

// Capability is the platform's ability to show notifications to the user.
type Capability interface {
	PermissionState() Permission
	// RequestPermission asks the user when the state is undetermined and
	// returns the resulting state.
	RequestPermission(ctx context.Context) (Permission, error)
	ShowNotification(ctx context.Context, title string, opts Options) error
}

// Prompter asks the user a yes/no question.
type Prompter interface {
	ConfirmContext(ctx context.Context, question string) bool
}

// TerminalCapability shows notifications as highlighted lines with a bell.
// The permission decision is remembered in the store.
type TerminalCapability struct {
	store  storage.Store
	prompt Prompter
	au     aurora.Aurora

	mu  sync.Mutex
	out io.Writer
}

func NewTerminalCapability(store storage.Store, prompt Prompter, out io.Writer, colors bool) *TerminalCapability {
	return &TerminalCapability{store: store, prompt: prompt, out: out, au: aurora.NewAurora(colors)}
}

// Preset stores a permission decision without asking, used for the
// --notifications flag.
func (c *TerminalCapability) Preset(p Permission) error {
	return c.store.Set(storage.KeyNotificationPermission, string(p))
}

func (c *TerminalCapability) PermissionState() Permission {
	v, ok, err := c.store.Get(storage.KeyNotificationPermission)
	if err != nil || !ok {
		return PermissionDefault
	}
	switch p := Permission(v); p {
	case PermissionGranted, PermissionDenied:
		return p
	default:
		return PermissionDefault
	}
}

func (c *TerminalCapability) RequestPermission(ctx context.Context) (Permission, error) {
	if p := c.PermissionState(); p != PermissionDefault {
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return PermissionDefault, err
	}
	p := PermissionDenied
	if c.prompt != nil && c.prompt.ConfirmContext(ctx, "Allow notifications for new messages?") {
		p = PermissionGranted
	}
	if err := c.store.Set(storage.KeyNotificationPermission, string(p)); err != nil {
		return p, err
	}
	return p, nil
}

func (c *TerminalCapability) ShowNotification(_ context.Context, title string, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := fmt.Sprintf("\a%s %s", c.au.Bold(c.au.Yellow("* "+title)), opts.Body)
	_, err := fmt.Fprintln(c.out, line)
	return err
}

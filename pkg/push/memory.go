package push

import (
	"context"
	"sync"

	"github.com/mahaj/groupchat/pkg/model"
)

// MemoryTransport delivers payloads within the process. Publish calls
// subscribers synchronously.
type MemoryTransport struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]func(model.PushPayload)
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[int]func(model.PushPayload))}
}

func (t *MemoryTransport) Subscribe(_ context.Context, token string, fn func(model.PushPayload)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs[token] == nil {
		t.subs[token] = make(map[int]func(model.PushPayload))
	}
	t.next++
	id := t.next
	t.subs[token][id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[token], id)
	}, nil
}

func (t *MemoryTransport) Publish(_ context.Context, token string, p model.PushPayload) error {
	t.mu.Lock()
	fns := make([]func(model.PushPayload), 0, len(t.subs[token]))
	for _, fn := range t.subs[token] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
	return nil
}

// Subscribers reports how many subscriptions token has.
func (t *MemoryTransport) Subscribers(token string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[token])
}

func (t *MemoryTransport) Close() error { return nil }

package kv

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const watchBuffer = 32

// Memory is an in-process store shared by any number of contexts opened with Open.
// Each context behaves like a browser tab: writes are visible everywhere and announced to
// every other context's watchers.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[string]map[chan Change]struct{}
	log      *slog.Logger
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryLogger sets the logger used to report overflowing watchers.
func WithMemoryLogger(log *slog.Logger) MemoryOption {
	return func(m *Memory) {
		if log != nil {
			m.log = log
		}
	}
}

// NewMemory creates an empty shared store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data:     make(map[string]string),
		watchers: make(map[string]map[chan Change]struct{}),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns a new execution context over the shared store.
func (m *Memory) Open() *MemoryContext {
	return &MemoryContext{store: m, origin: uuid.NewString()}
}

// MemoryContext is one execution context of a Memory store.
type MemoryContext struct {
	store  *Memory
	origin string
}

var (
	_ Backend = (*MemoryContext)(nil)
	_ Watcher = (*MemoryContext)(nil)
)

// Origin identifies the context in emitted changes.
func (c *MemoryContext) Origin() string {
	return c.origin
}

// Get returns the value stored under key.
func (c *MemoryContext) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	value, ok := c.store.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores value under key and notifies other contexts.
func (c *MemoryContext) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.store.mu.Lock()
	c.store.data[key] = value
	c.store.mu.Unlock()

	c.store.broadcast(Change{Key: key, Origin: c.origin})
	return nil
}

// Delete removes key and notifies other contexts.
func (c *MemoryContext) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.store.mu.Lock()
	delete(c.store.data, key)
	c.store.mu.Unlock()

	c.store.broadcast(Change{Key: key, Origin: c.origin})
	return nil
}

// Watch subscribes to changes made by other contexts.
func (c *MemoryContext) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)

	c.store.mu.Lock()
	if c.store.watchers[c.origin] == nil {
		c.store.watchers[c.origin] = make(map[chan Change]struct{})
	}
	c.store.watchers[c.origin][ch] = struct{}{}
	c.store.mu.Unlock()

	go func() {
		<-ctx.Done()

		c.store.mu.Lock()
		delete(c.store.watchers[c.origin], ch)
		if len(c.store.watchers[c.origin]) == 0 {
			delete(c.store.watchers, c.origin)
		}
		close(ch)
		c.store.mu.Unlock()
	}()

	return ch, nil
}

// broadcast delivers change to every watcher outside its origin without blocking writers.
// A full watcher loses its oldest pending change and receives change marked Resync, so it
// still reloads after the latest write.
func (m *Memory) broadcast(change Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for origin, chans := range m.watchers {
		if origin == change.Origin {
			continue
		}
		for ch := range chans {
			select {
			case ch <- change:
				continue
			default:
			}

			select {
			case <-ch:
			default:
			}

			resync := change
			resync.Resync = true
			select {
			case ch <- resync:
				m.log.Warn("change watcher overflowed, requesting resync",
					slog.String("key", change.Key), slog.String("watcher", origin))
			default:
				m.log.Error("change watcher overflowed, change dropped",
					slog.String("key", change.Key), slog.String("watcher", origin))
			}
		}
	}
}

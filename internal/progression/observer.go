package progression

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fineu/fineu-core/internal/level"
)

// Event is delivered to observers after every change. PreviousKey and NewKey are empty
// unless the change is a level transition.
type Event struct {
	Level       level.Definition
	Experience  int64
	PreviousKey string
	NewKey      string
}

// IsTransition reports whether the event carries a level change.
func (ev Event) IsTransition() bool {
	return ev.NewKey != ""
}

// Observer reacts to engine changes. A returned error is logged and otherwise ignored.
type Observer func(ctx context.Context, ev Event) error

// Subscription identifies a registered observer.
type Subscription struct {
	id   uint64
	list *observerList
}

// Unsubscribe removes the observer. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.list == nil {
		return
	}
	s.list.remove(s.id)
}

type registration struct {
	id       uint64
	observer Observer
}

type observerList struct {
	mu      sync.Mutex
	nextID  uint64
	entries []registration
}

func (l *observerList) add(obs Observer) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.entries = append(l.entries, registration{id: l.nextID, observer: obs})
	return &Subscription{id: l.nextID, list: l}
}

func (l *observerList) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.entries {
		if entry.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *observerList) snapshot() []registration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]registration(nil), l.entries...)
}

// OnChange registers obs. Observers run synchronously in registration order on the
// goroutine that made the change.
func (e *Engine) OnChange(obs Observer) *Subscription {
	if obs == nil {
		return &Subscription{}
	}
	return e.observers.add(obs)
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	for _, entry := range e.observers.snapshot() {
		if err := invoke(ctx, entry.observer, ev); err != nil {
			e.log.Error("level observer failed",
				slog.Uint64("observer", entry.id),
				slog.String("level", ev.Level.Key),
				slog.Any("error", err))
		}
	}
}

func invoke(ctx context.Context, obs Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return obs(ctx, ev)
}

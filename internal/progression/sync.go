package progression

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fineu/fineu-core/internal/kv"
)

// Sync reloads the session and re-notifies observers whenever another execution context
// writes the session or a user record. It blocks until ctx is cancelled or the watcher stops.
func (e *Engine) Sync(ctx context.Context, watcher kv.Watcher) error {
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch backend: %w", err)
	}

	for change := range changes {
		if !change.Resync && !kv.IsSessionKey(change.Key) {
			continue
		}

		if err := e.reload(ctx); err != nil {
			e.log.Warn("failed to reload session after external change",
				slog.String("key", change.Key), slog.Any("error", err))
			continue
		}

		e.log.Debug("session reloaded after external change",
			slog.String("key", change.Key), slog.String("origin", change.Origin))
		e.notify(ctx, e.refreshEvent())
	}

	e.log.Info("progression sync stopped")
	return nil
}

func (e *Engine) reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.session.Reload(ctx); err != nil {
		return err
	}
	return e.normalizeLocked(ctx)
}

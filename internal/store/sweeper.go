package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSweepInterval is how often the active record is checked.
const DefaultSweepInterval = 30 * time.Second

// Sweeper runs CheckIntegrity on a fixed interval.
type Sweeper struct {
	store    *Store
	clock    clockwork.Clock
	log      *slog.Logger
	interval time.Duration
}

// NewSweeper constructs a Sweeper. It shares the store's clock.
func NewSweeper(store *Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	var clock clockwork.Clock = clockwork.NewRealClock()
	if store != nil {
		clock = store.clock
	}

	return &Sweeper{
		store:    store,
		clock:    clock,
		log:      log,
		interval: interval,
	}
}

// Run checks the active record every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	if w == nil || w.store == nil {
		return
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("integrity sweeper stopped", slog.Any("reason", ctx.Err()))
			return
		case <-ticker.Chan():
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	reset, err := w.store.CheckIntegrity(ctx)
	if err != nil {
		w.log.Error("integrity sweep failed", slog.Any("error", err))
		return
	}
	if reset {
		w.log.Info("integrity sweep reset the active record")
	}
}

// Package idempotency runs an operation at most once per key, replaying the stored
// outcome to later callers.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fineu/fineu-core/internal/kv"
)

// Marker statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// lockTTL bounds how long a processing marker blocks other callers.
const lockTTL = 5 * time.Minute

var ErrRequestInProgress = errors.New("request with this key is already in progress")

type Operation func(ctx context.Context) (any, error)

type Result struct {
	Response  json.RawMessage
	FromCache bool
}

// Record is the marker persisted under fineu_idem_<key>.
type Record struct {
	Status    string          `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Manager guards operations with markers kept in a key-value backend. Markers are
// checked and written without a backend transaction, so two contexts racing on the
// same key may both run the operation.
type Manager struct {
	backend kv.Backend
	clock   clockwork.Clock
	log     *slog.Logger
}

// NewManager creates a Manager. clock may be nil.
func NewManager(backend kv.Backend, clock clockwork.Clock, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Manager{
		backend: backend,
		clock:   clock,
		log:     log,
	}
}

// Execute runs fn unless key already completed within ttl, in which case the stored
// response is returned with FromCache set. A failed fn leaves no marker behind.
func (m *Manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	record, err := m.get(ctx, key)
	if err != nil {
		return nil, err
	}

	if record != nil {
		age := m.clock.Since(record.UpdatedAt)
		switch {
		case record.Status == StatusCompleted && (ttl <= 0 || age < ttl):
			return &Result{Response: record.Response, FromCache: true}, nil
		case record.Status == StatusProcessing && age < lockTTL:
			return nil, ErrRequestInProgress
		}
		m.log.Debug("idempotency marker expired", slog.String("key", key), slog.String("status", record.Status))
	}

	if err := m.put(ctx, key, Record{Status: StatusProcessing}); err != nil {
		return nil, err
	}

	result, err := fn(ctx)
	if err != nil {
		if derr := m.backend.Delete(ctx, markerKey(key)); derr != nil {
			m.log.Warn("failed to release idempotency marker", slog.String("key", key), slog.Any("error", derr))
		}
		return nil, err
	}

	response, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode idempotent response: %w", err)
	}

	if err := m.put(ctx, key, Record{Status: StatusCompleted, Response: response}); err != nil {
		return nil, err
	}

	return &Result{Response: response}, nil
}

// Forget removes the marker for key.
func (m *Manager) Forget(ctx context.Context, key string) error {
	return m.backend.Delete(ctx, markerKey(key))
}

func (m *Manager) get(ctx context.Context, key string) (*Record, error) {
	raw, err := m.backend.Get(ctx, markerKey(key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		m.log.Error("failed to fetch idempotency record", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		// An unreadable marker does not block the operation.
		m.log.Warn("ignoring malformed idempotency record", slog.String("key", key), slog.Any("error", err))
		return nil, nil
	}
	return &record, nil
}

func (m *Manager) put(ctx context.Context, key string, record Record) error {
	record.UpdatedAt = m.clock.Now().UTC()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	if err := m.backend.Set(ctx, markerKey(key), string(payload)); err != nil {
		m.log.Error("failed to store idempotency record", slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

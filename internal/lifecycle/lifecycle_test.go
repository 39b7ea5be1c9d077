package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type readyFunc func(ctx context.Context) error

func (f readyFunc) Healthy(ctx context.Context) error { return f(ctx) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdown_RunsAllHooksInReverse(t *testing.T) {
	s := NewShutdown(testLogger())

	var ran atomic.Int32
	var order []string
	s.Register("backend", func(context.Context) error { ran.Add(1); order = append(order, "backend"); return nil })
	s.Register("sync", func(context.Context) error { ran.Add(1); order = append(order, "sync"); return errors.New("stuck") })
	s.Register("sweeper", func(context.Context) error { ran.Add(1); order = append(order, "sweeper"); return nil })
	s.Register("nil", nil)

	err := s.Execute(context.Background())
	assert.EqualError(t, err, "sync: stuck")
	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, []string{"sweeper", "sync", "backend"}, order)

	assert.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, int32(3), ran.Load())
}

func TestProbes(t *testing.T) {
	p := NewProbes(testLogger(), nil)
	assert.NoError(t, p.Liveness(context.Background()))
	assert.NoError(t, p.Readiness(context.Background()))

	failing := NewProbes(nil, readyFunc(func(context.Context) error { return errors.New("redis: down") }))
	assert.EqualError(t, failing.Readiness(context.Background()), "redis: down")
}

package lifecycle

import (
	"context"
	"log/slog"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// ReadinessCheck reports whether dependencies are usable.
type ReadinessCheck interface {
	Healthy(ctx context.Context) error
}

// Probes implements HealthChecker on top of a ReadinessCheck.
type Probes struct {
	log   *slog.Logger
	ready ReadinessCheck
}

// NewProbes creates a new Probes instance. ready may be nil, in which case readiness always succeeds.
func NewProbes(log *slog.Logger, ready ReadinessCheck) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, ready: ready}
}

// Liveness reports success while the process runs.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness reports whether every dependency check passes.
func (p *Probes) Readiness(ctx context.Context) error {
	p.log.Debug("readiness probe called")
	if p.ready == nil {
		return nil
	}
	return p.ready.Healthy(ctx)
}

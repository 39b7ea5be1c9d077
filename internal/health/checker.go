package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/fineu/fineu-core/internal/kv"
)

// StatusOK is reported for healthy components.
const StatusOK = "OK"

const probeKey = "fineu_health_probe"

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// Checker aggregates health checks for multiple components.
type Checker struct {
	log    *slog.Logger
	checks map[string]Checkable
}

// NewChecker instantiates a Checker with the provided logger.
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}

	return &Checker{
		log:    log,
		checks: make(map[string]Checkable),
	}
}

// AddCheck registers a checkable component by name.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}
	c.checks[name] = check
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all registered health checks and returns their statuses.
func (c *Checker) Check(ctx context.Context) map[string]string {
	results := make(map[string]string, len(c.checks))

	for name, check := range c.checks {
		if err := check.HealthCheck(ctx); err != nil {
			results[name] = err.Error()
			c.log.Error("health check failed", slog.String("component", name), slog.Any("error", err))
			continue
		}

		results[name] = StatusOK
	}

	return results
}

// Healthy runs every check and returns an error naming the failing components.
func (c *Checker) Healthy(ctx context.Context) error {
	results := c.Check(ctx)

	var errs []error
	for _, name := range c.Names() {
		if status := results[name]; status != StatusOK {
			errs = append(errs, fmt.Errorf("%s: %s", name, status))
		}
	}
	return errors.Join(errs...)
}

// DBChecker verifies connectivity to the SQLite database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker constructs a DBChecker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database to ensure it is reachable.
func (c *DBChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return sql.ErrConnDone
	}
	return c.db.PingContext(ctx)
}

// Pinger abstracts the subset of redis.Client used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker verifies connectivity to a Redis instance.
type RedisChecker struct {
	pinger Pinger
}

// NewRedisChecker constructs a RedisChecker.
func NewRedisChecker(pinger Pinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

// HealthCheck issues a PING command against Redis.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}

// BackendChecker verifies that a key-value backend answers reads.
type BackendChecker struct {
	backend kv.Backend
}

// NewBackendChecker constructs a BackendChecker.
func NewBackendChecker(backend kv.Backend) *BackendChecker {
	return &BackendChecker{backend: backend}
}

// HealthCheck reads a probe key; a missing key counts as healthy.
func (c *BackendChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.backend == nil {
		return errors.New("key-value backend is not configured")
	}
	if _, err := c.backend.Get(ctx, probeKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	return nil
}

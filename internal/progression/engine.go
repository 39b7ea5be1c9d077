// Package progression drives the level/experience state of the active session.
package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/fineu/fineu-core/internal/domain"
	"github.com/fineu/fineu-core/internal/level"
	"github.com/fineu/fineu-core/internal/session"
)

var (
	// ErrNoSession is returned by mutations when nobody is signed in.
	ErrNoSession = session.ErrNoSession
	// ErrNegativeExperience rejects experience grants below zero.
	ErrNegativeExperience = errors.New("experience delta must not be negative")
	// ErrUnknownLevel rejects level keys missing from the table.
	ErrUnknownLevel = errors.New("unknown level")
)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe level transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

var grantRecorder = func(delta int64) {}

// RegisterGrantRecorder allows external packages to observe granted experience.
func RegisterGrantRecorder(recorder func(delta int64)) {
	if recorder == nil {
		grantRecorder = func(int64) {}
		return
	}

	grantRecorder = recorder
}

// RecordStore is the subset of store.Store used to mirror progression into the user record.
type RecordStore interface {
	Load(ctx context.Context, userID string) (domain.UserRecord, error)
	Save(ctx context.Context, userID string, rec domain.UserRecord) error
}

// Result describes the outcome of GrantExperience.
type Result struct {
	LeveledUp  bool
	Previous   level.Definition
	Next       level.Definition
	Experience int64
	// Unlocked lists the capabilities that became available, for presentation.
	Unlocked []string
}

// Engine is the level/experience state machine of one execution context.
type Engine struct {
	// mu serializes mutations so the session and the user record move together.
	mu        sync.Mutex
	table     *level.Table
	session   *session.Session
	records   RecordStore
	log       *slog.Logger
	observers observerList
}

// NewEngine creates an Engine. records may be nil, in which case only the session is updated.
func NewEngine(table *level.Table, sess *session.Session, records RecordStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if table == nil {
		table = level.Default()
	}

	return &Engine{
		table:   table,
		session: sess,
		records: records,
		log:     log,
	}
}

// Init loads the persisted session and re-derives a level that does not match its
// experience, as written by another context or an older front-end.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.session.Init(ctx); err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	return e.normalizeLocked(ctx)
}

// Table returns the ladder the engine buckets against.
func (e *Engine) Table() *level.Table {
	return e.table
}

// CurrentLevel returns the active tier, or the lowest tier without a session.
func (e *Engine) CurrentLevel() level.Definition {
	rec, ok := e.session.Snapshot()
	if !ok {
		return e.table.Lowest()
	}
	return e.table.DefinitionFor(rec.Level)
}

// CurrentExperience returns the active experience, or 0 without a session.
func (e *Engine) CurrentExperience() int64 {
	rec, ok := e.session.Snapshot()
	if !ok {
		return 0
	}
	return rec.Experience
}

// GrantExperience adds delta and re-buckets. Crossing into another tier is a transition.
func (e *Engine) GrantExperience(ctx context.Context, delta int64) (Result, error) {
	if delta < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeExperience, delta)
	}

	e.mu.Lock()
	before, after, err := e.commit(ctx, func(rec *domain.UserRecord) {
		rec.Experience = addExperience(rec.Experience, delta)
		rec.Level = e.table.BucketFor(rec.Experience).Key
	})
	e.mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("grant experience: %w", err)
	}
	grantRecorder(delta)

	previous := e.levelOf(before)
	next := e.table.DefinitionFor(after.Level)
	result := Result{
		Previous:   previous,
		Next:       next,
		Experience: after.Experience,
	}

	if previous.Key == next.Key {
		e.notify(ctx, Event{Level: next, Experience: after.Experience})
		return result, nil
	}

	result.LeveledUp = true
	result.Unlocked = e.table.UnlockDiff(previous.Key, next.Key)

	e.log.Info("level transition",
		slog.String("user_id", after.ID),
		slog.String("from", previous.Key),
		slog.String("to", next.Key),
		slog.Int64("experience", after.Experience))
	transitionRecorder(previous.Key, next.Key)

	e.notify(ctx, Event{Level: next, Experience: after.Experience, PreviousKey: previous.Key, NewKey: next.Key})
	return result, nil
}

// SetLevel moves the session to key and resets experience to the tier floor.
func (e *Engine) SetLevel(ctx context.Context, key string) error {
	def, ok := e.table.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLevel, key)
	}

	e.mu.Lock()
	before, after, err := e.commit(ctx, func(rec *domain.UserRecord) {
		rec.Level = def.Key
		rec.Experience = def.Floor
	})
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}

	previous := e.levelOf(before)
	transitionRecorder(previous.Key, def.Key)
	e.notify(ctx, Event{Level: def, Experience: after.Experience, PreviousKey: previous.Key, NewKey: def.Key})
	return nil
}

// ForceReplaceSession swaps in rec as the active session, as after a sign-in.
// A level that does not match the experience is re-derived from it.
func (e *Engine) ForceReplaceSession(ctx context.Context, rec domain.UserRecord) error {
	if rec.Experience < 0 {
		rec.Experience = 0
	}
	if def, ok := e.table.Lookup(rec.Level); !ok || !def.Contains(rec.Experience) {
		rec.Level = e.table.BucketFor(rec.Experience).Key
	}

	e.mu.Lock()
	err := e.session.Replace(ctx, rec)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("force replace session: %w", err)
	}

	e.notify(ctx, e.refreshEvent())
	return nil
}

// Logout clears the active session.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	err := e.session.Clear(ctx)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	e.log.Info("user logged out")
	e.notify(ctx, e.refreshEvent())
	return nil
}

// AvailableCapabilities lists what the active tier unlocks.
func (e *Engine) AvailableCapabilities() []string {
	return append([]string(nil), e.CurrentLevel().Capabilities...)
}

// IsUnlocked reports whether the active tier grants capability.
func (e *Engine) IsUnlocked(capability string) bool {
	return e.CurrentLevel().Unlocks(capability)
}

// RequiredLevelFor returns the lowest tier granting capability.
func (e *Engine) RequiredLevelFor(capability string) (level.Definition, bool) {
	return e.table.RequiredLevelFor(capability)
}

// HasLevelAccess reports whether the active tier is at or above required. Always false
// without a session.
func (e *Engine) HasLevelAccess(required string) bool {
	rec, ok := e.session.Snapshot()
	if !ok {
		return false
	}
	return e.table.HasAccess(rec.Level, required)
}

// commit applies fn to a copy of the active session, writes the result to the user record
// and only then to the session. When either write fails neither changes. Callers hold e.mu.
func (e *Engine) commit(ctx context.Context, fn func(rec *domain.UserRecord)) (before, after domain.UserRecord, err error) {
	before, ok := e.session.Snapshot()
	if !ok {
		return domain.UserRecord{}, domain.UserRecord{}, ErrNoSession
	}

	next := before.Clone()
	fn(&next)

	previous, err := e.mirror(ctx, next)
	if err != nil {
		return before, before, err
	}

	_, after, err = e.session.Update(ctx, func(rec *domain.UserRecord) {
		rec.Level = next.Level
		rec.Experience = next.Experience
	})
	if err != nil {
		e.restore(ctx, previous)
		return before, before, err
	}
	return before, after, nil
}

// mirror copies level and experience into the persisted user record and returns the
// record as it was before.
func (e *Engine) mirror(ctx context.Context, rec domain.UserRecord) (*domain.UserRecord, error) {
	if e.records == nil {
		return nil, nil
	}

	stored, err := e.records.Load(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load user record: %w", err)
	}
	previous := stored.Clone()

	stored.Level = rec.Level
	stored.Experience = rec.Experience
	if err := e.records.Save(ctx, rec.ID, stored); err != nil {
		return nil, fmt.Errorf("save user record: %w", err)
	}
	return &previous, nil
}

func (e *Engine) restore(ctx context.Context, previous *domain.UserRecord) {
	if previous == nil {
		return
	}
	if err := e.records.Save(ctx, previous.ID, *previous); err != nil {
		e.log.Error("failed to restore user record after session write failed",
			slog.String("user_id", previous.ID), slog.Any("error", err))
	}
}

// normalizeLocked re-buckets a session whose level is unknown or does not contain its
// experience. Callers hold e.mu.
func (e *Engine) normalizeLocked(ctx context.Context) error {
	rec, ok := e.session.Snapshot()
	if !ok {
		return nil
	}

	def := e.levelOf(rec)
	if def.Key == rec.Level && rec.Experience >= 0 {
		return nil
	}

	e.log.Warn("stored session level does not match its experience, re-deriving",
		slog.String("user_id", rec.ID),
		slog.String("level", rec.Level),
		slog.Int64("experience", rec.Experience),
		slog.String("derived", def.Key))

	_, _, err := e.session.Update(ctx, func(r *domain.UserRecord) {
		r.Level = def.Key
		r.Experience = max(r.Experience, 0)
	})
	if err != nil {
		return fmt.Errorf("normalize session: %w", err)
	}
	return nil
}

// levelOf returns rec's tier, derived from experience when the stored key disagrees.
func (e *Engine) levelOf(rec domain.UserRecord) level.Definition {
	if def, ok := e.table.Lookup(rec.Level); ok && def.Contains(rec.Experience) {
		return def
	}
	return e.table.BucketFor(rec.Experience)
}

func (e *Engine) refreshEvent() Event {
	return Event{Level: e.CurrentLevel(), Experience: e.CurrentExperience()}
}

func addExperience(current, delta int64) int64 {
	if current < 0 {
		current = 0
	}
	if delta > math.MaxInt64-1-current {
		return math.MaxInt64 - 1
	}
	return current + delta
}

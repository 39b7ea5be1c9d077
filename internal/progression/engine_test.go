package progression

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fineu/fineu-core/internal/domain"
	"github.com/fineu/fineu-core/internal/integrity"
	"github.com/fineu/fineu-core/internal/kv"
	"github.com/fineu/fineu-core/internal/level"
	"github.com/fineu/fineu-core/internal/session"
	"github.com/fineu/fineu-core/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	engine  *Engine
	session *session.Session
	store   *store.Store
	backend *kv.MemoryContext
}

func newHarness(t *testing.T, mem *kv.Memory) *harness {
	t.Helper()

	backend := mem.Open()
	h := buildHarness(t, backend)
	h.backend = backend
	return h
}

func buildHarness(t *testing.T, backend kv.Backend) *harness {
	t.Helper()

	codec, err := integrity.NewObfuscator(integrity.DefaultObfuscationKey)
	require.NoError(t, err)

	sess := session.New(backend, testLogger())
	st := store.New(backend, sess, level.Default(), codec, store.Options{
		Clock: clockwork.NewFakeClock(),
	}, testLogger())

	engine := NewEngine(level.Default(), sess, st, testLogger())
	require.NoError(t, engine.Init(context.Background()))

	return &harness{
		engine:  engine,
		session: sess,
		store:   st,
	}
}

// failingBackend rejects writes to keys with prefix while fail is set.
type failingBackend struct {
	kv.Backend
	prefix string
	fail   atomic.Bool
}

var errBackendDown = errors.New("backend unavailable")

func (b *failingBackend) Set(ctx context.Context, key, value string) error {
	if b.fail.Load() && strings.HasPrefix(key, b.prefix) {
		return errBackendDown
	}
	return b.Backend.Set(ctx, key, value)
}

func (h *harness) login(t *testing.T, id string, exp int64) {
	t.Helper()
	require.NoError(t, h.engine.ForceReplaceSession(context.Background(), domain.UserRecord{ID: id, Experience: exp}))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestEngine_DefaultsWithoutSession(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	ctx := context.Background()

	assert.Equal(t, level.Yellow, h.engine.CurrentLevel().Key)
	assert.Equal(t, int64(0), h.engine.CurrentExperience())
	assert.False(t, h.engine.HasLevelAccess(level.Yellow))

	_, err := h.engine.GrantExperience(ctx, 10)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, h.engine.SetLevel(ctx, level.Red), ErrNoSession)
}

func TestEngine_GrantCrossesBoundary(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	ctx := context.Background()
	h.login(t, "alice", 2999)

	rec := &recorder{}
	h.engine.OnChange(rec.observe)

	var transitions [][2]string
	RegisterTransitionRecorder(func(from, to string) { transitions = append(transitions, [2]string{from, to}) })
	defer RegisterTransitionRecorder(nil)

	result, err := h.engine.GrantExperience(ctx, 1)
	require.NoError(t, err)

	assert.True(t, result.LeveledUp)
	assert.Equal(t, level.Yellow, result.Previous.Key)
	assert.Equal(t, level.Orange, result.Next.Key)
	assert.Equal(t, int64(3000), result.Experience)
	assert.Equal(t, []string{level.CapMarketTrade}, result.Unlocked)

	events := rec.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].IsTransition())
	assert.Equal(t, level.Yellow, events[0].PreviousKey)
	assert.Equal(t, level.Orange, events[0].NewKey)
	assert.Equal(t, int64(3000), events[0].Experience)
	assert.Equal(t, [][2]string{{level.Yellow, level.Orange}}, transitions)

	assert.Equal(t, level.Orange, h.engine.CurrentLevel().Key)
	assert.True(t, h.engine.IsUnlocked(level.CapMarketTrade))

	stored, err := h.store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, level.Orange, stored.Level)
	assert.Equal(t, int64(3000), stored.Experience)
	assert.Equal(t, float64(store.DefaultStartingCash), stored.Cash)
}

func TestEngine_GrantWithinTier(t *testing.T) {
	testCases := []struct {
		name  string
		start int64
		delta int64
	}{
		{name: "zero delta", start: 2999, delta: 0},
		{name: "zero at boundary", start: 3000, delta: 0},
		{name: "stays in tier", start: 100, delta: 250},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, kv.NewMemory())
			h.login(t, "alice", tc.start)
			before := h.engine.CurrentLevel().Key

			rec := &recorder{}
			h.engine.OnChange(rec.observe)

			result, err := h.engine.GrantExperience(context.Background(), tc.delta)
			require.NoError(t, err)

			assert.False(t, result.LeveledUp)
			assert.Empty(t, result.Unlocked)
			assert.Equal(t, tc.start+tc.delta, result.Experience)
			assert.Equal(t, before, h.engine.CurrentLevel().Key)

			events := rec.all()
			require.Len(t, events, 1)
			assert.False(t, events[0].IsTransition())
			assert.Empty(t, events[0].PreviousKey)
		})
	}
}

func TestEngine_GrantRejectsNegative(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	h.login(t, "alice", 10)

	_, err := h.engine.GrantExperience(context.Background(), -1)
	assert.ErrorIs(t, err, ErrNegativeExperience)
	assert.Equal(t, int64(10), h.engine.CurrentExperience())
}

func TestEngine_GrantJumpsSeveralTiers(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	h.login(t, "alice", 0)

	result, err := h.engine.GrantExperience(context.Background(), 12000)
	require.NoError(t, err)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, level.Blue, result.Next.Key)
	assert.Equal(t, []string{level.CapMarketMargin}, result.Unlocked)
}

func TestEngine_SetLevel(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	ctx := context.Background()
	h.login(t, "alice", 4000)

	rec := &recorder{}
	h.engine.OnChange(rec.observe)

	assert.ErrorIs(t, h.engine.SetLevel(ctx, "purple"), ErrUnknownLevel)

	require.NoError(t, h.engine.SetLevel(ctx, level.Black))
	assert.Equal(t, level.Black, h.engine.CurrentLevel().Key)
	assert.Equal(t, int64(25000), h.engine.CurrentExperience())

	require.NoError(t, h.engine.SetLevel(ctx, level.Black))

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, level.Orange, events[0].PreviousKey)
	assert.Equal(t, level.Black, events[0].NewKey)
	assert.Equal(t, level.Black, events[1].PreviousKey)
	assert.True(t, events[1].IsTransition())
}

func TestEngine_ForceReplaceSessionNormalizesLevel(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	ctx := context.Background()

	rec := &recorder{}
	h.engine.OnChange(rec.observe)

	require.NoError(t, h.engine.ForceReplaceSession(ctx, domain.UserRecord{ID: "alice", Level: level.Red, Experience: 7000}))
	assert.Equal(t, level.Green, h.engine.CurrentLevel().Key)

	events := rec.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].IsTransition())
	assert.Equal(t, level.Green, events[0].Level.Key)

	assert.Error(t, h.engine.ForceReplaceSession(ctx, domain.UserRecord{}))
}

func TestEngine_ForceReplaceSessionRejectsInvalidID(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	ctx := context.Background()
	h.login(t, "alice", 3000)

	err := h.engine.ForceReplaceSession(ctx, domain.UserRecord{ID: "김철수"})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
	assert.Equal(t, "alice", h.session.UserID())

	stored, err := h.session.Stored(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.ID)
}

func TestEngine_FailedWriteLeavesStateUnchanged(t *testing.T) {
	testCases := []struct {
		name   string
		prefix string
		mutate func(ctx context.Context, e *Engine) error
	}{
		{
			name:   "grant with record write failing",
			prefix: kv.UserKeyPrefix,
			mutate: func(ctx context.Context, e *Engine) error {
				_, err := e.GrantExperience(ctx, 1)
				return err
			},
		},
		{
			name:   "grant with session write failing",
			prefix: kv.CurrentUserKey,
			mutate: func(ctx context.Context, e *Engine) error {
				_, err := e.GrantExperience(ctx, 1)
				return err
			},
		},
		{
			name:   "set level with record write failing",
			prefix: kv.UserKeyPrefix,
			mutate: func(ctx context.Context, e *Engine) error {
				return e.SetLevel(ctx, level.Red)
			},
		},
		{
			name:   "set level with session write failing",
			prefix: kv.CurrentUserKey,
			mutate: func(ctx context.Context, e *Engine) error {
				return e.SetLevel(ctx, level.Red)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			backend := &failingBackend{Backend: kv.NewMemory().Open(), prefix: tc.prefix}
			h := buildHarness(t, backend)
			h.login(t, "alice", 2998)

			_, err := h.engine.GrantExperience(ctx, 1)
			require.NoError(t, err)

			rec := &recorder{}
			h.engine.OnChange(rec.observe)

			backend.fail.Store(true)
			for range 3 {
				assert.ErrorIs(t, tc.mutate(ctx, h.engine), errBackendDown)
			}
			assert.Empty(t, rec.all())

			assert.Equal(t, level.Yellow, h.engine.CurrentLevel().Key)
			assert.Equal(t, int64(2999), h.engine.CurrentExperience())

			stored, err := h.session.Stored(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2999), stored.Experience)
			assert.Equal(t, level.Yellow, stored.Level)

			record, err := h.store.Load(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, int64(2999), record.Experience)
			assert.Equal(t, level.Yellow, record.Level)

			backend.fail.Store(false)
			result, err := h.engine.GrantExperience(ctx, 1)
			require.NoError(t, err)
			assert.True(t, result.LeveledUp)
			assert.Equal(t, level.Orange, h.engine.CurrentLevel().Key)
		})
	}
}

func TestEngine_InitNormalizesStoredSession(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	require.NoError(t, mem.Open().Set(ctx, kv.CurrentUserKey, `{"id":"alice","level":"red","exp":0}`))

	h := newHarness(t, mem)
	assert.Equal(t, level.Yellow, h.engine.CurrentLevel().Key)

	stored, err := h.session.Stored(ctx)
	require.NoError(t, err)
	assert.Equal(t, level.Yellow, stored.Level)

	rec := &recorder{}
	h.engine.OnChange(rec.observe)

	result, err := h.engine.GrantExperience(ctx, 0)
	require.NoError(t, err)
	assert.False(t, result.LeveledUp)
	assert.Equal(t, level.Yellow, result.Previous.Key)
	assert.Equal(t, level.Yellow, result.Next.Key)

	events := rec.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].IsTransition())
}

func TestEngine_SyncNormalizesExternalSession(t *testing.T) {
	mem := kv.NewMemory()
	h := newHarness(t, mem)
	other := mem.Open()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.engine.Sync(ctx, h.backend) }()

	require.Eventually(t, func() bool {
		if err := other.Set(context.Background(), kv.CurrentUserKey, `{"id":"bob","level":"red","exp":4000}`); err != nil {
			return false
		}
		snap, ok := h.session.Snapshot()
		return ok && snap.ID == "bob" && snap.Level == level.Orange
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not stop")
	}
}

func TestEngine_Logout(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	ctx := context.Background()
	h.login(t, "alice", 9000)

	require.NoError(t, h.engine.Logout(ctx))
	assert.Equal(t, level.Yellow, h.engine.CurrentLevel().Key)
	assert.False(t, h.session.Active())

	_, err := h.backend.Get(ctx, kv.CurrentUserKey)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestEngine_CapabilityQueries(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	h.login(t, "alice", 6500)

	assert.Equal(t, []string{
		level.CapPortfolioView, level.CapMarketQuotes, level.CapMarketTrade, level.CapReportsMonthly,
	}, h.engine.AvailableCapabilities())
	assert.False(t, h.engine.IsUnlocked(level.CapReportsTax))

	def, ok := h.engine.RequiredLevelFor(level.CapReportsTax)
	require.True(t, ok)
	assert.Equal(t, level.Brown, def.Key)

	assert.True(t, h.engine.HasLevelAccess(level.Orange))
	assert.True(t, h.engine.HasLevelAccess(level.Green))
	assert.False(t, h.engine.HasLevelAccess(level.Blue))
}

func TestEngine_ObserversAreIsolatedAndOrdered(t *testing.T) {
	h := newHarness(t, kv.NewMemory())
	h.login(t, "alice", 0)

	var order []string
	h.engine.OnChange(func(context.Context, Event) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	h.engine.OnChange(func(context.Context, Event) error {
		order = append(order, "second")
		panic("kaboom")
	})
	third := h.engine.OnChange(func(context.Context, Event) error {
		order = append(order, "third")
		return nil
	})
	h.engine.OnChange(nil)

	_, err := h.engine.GrantExperience(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)

	third.Unsubscribe()
	third.Unsubscribe()
	order = nil

	_, err = h.engine.GrantExperience(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEngine_SyncAcrossContexts(t *testing.T) {
	mem := kv.NewMemory()
	tabA := newHarness(t, mem)
	tabB := newHarness(t, mem)

	tabA.login(t, "alice", 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 16)
	tabB.engine.OnChange(func(_ context.Context, ev Event) error {
		select {
		case events <- ev:
		default:
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- tabB.engine.Sync(ctx, tabB.backend) }()

	// Sync subscribes asynchronously; keep writing until tab B has caught up.
	require.Eventually(t, func() bool {
		if _, err := tabA.engine.GrantExperience(context.Background(), 3000); err != nil {
			return false
		}
		return tabB.engine.CurrentLevel().Key != level.Yellow
	}, 2*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return tabB.engine.CurrentExperience() == tabA.engine.CurrentExperience()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "alice", tabB.session.UserID())

	select {
	case ev := <-events:
		assert.False(t, ev.IsTransition())
	case <-time.After(time.Second):
		t.Fatal("no refresh event")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not stop")
	}
}

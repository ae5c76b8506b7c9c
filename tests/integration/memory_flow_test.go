package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/drift"
	"github.com/stratahq/strata/forecast"
	"github.com/stratahq/strata/session"
	"github.com/stratahq/strata/store"
	"github.com/stratahq/strata/tracker"
	"github.com/stratahq/strata/types"
	"github.com/stratahq/strata/warmer"
)

// clock is a shared, advanceable test clock injected into every
// component.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stack struct {
	clock    *clock
	manager  *session.Manager
	tracker  *tracker.Tracker
	store    *store.TieredStore
	warmer   *warmer.Warmer
	detector *drift.Detector
}

func newStack(t *testing.T, preserve session.PreserveFunc) *stack {
	t.Helper()
	ck := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	tr, err := tracker.New(tracker.Config{BaseDir: t.TempDir(), Now: ck.Now}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	st, err := store.New(store.Config{BaseDir: t.TempDir(), Now: ck.Now}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wm := warmer.New(tr, st, warmer.NewMemoryFragmentCache(ck.Now), nil, warmer.Config{Now: ck.Now}, nil)

	fc, err := forecast.New(nil, forecast.Config{Now: ck.Now}, nil)
	require.NoError(t, err)

	dt := drift.New(drift.Config{Now: ck.Now}, nil)

	mgr, err := session.NewManager(session.Components{
		Tracker:    tr,
		Store:      st,
		Warmer:     wm,
		Forecaster: fc,
		Detector:   dt,
	}, session.Config{Preserve: preserve}, nil)
	require.NoError(t, err)

	return &stack{clock: ck, manager: mgr, tracker: tr, store: st, warmer: wm, detector: dt}
}

// TestMemoryFlow_TierLifecycle walks an item set through the full tier
// lifecycle: hot placement, aging into warm, and promotion back to hot
// under repeated access.
func TestMemoryFlow_TierLifecycle(t *testing.T) {
	t.Parallel()

	s := newStack(t, nil)
	ctx := context.Background()

	paths := []string{"core/overview", "core/decisions", "notes/scratch"}
	for _, p := range paths {
		require.NoError(t, s.manager.Put(ctx, p, "content for "+p, "coder", ""))
		tier, ok := s.store.TierOf(p)
		require.True(t, ok)
		require.Equal(t, types.TierHot, tier)
	}

	// A week of silence ages everything out of the hot tier.
	s.clock.Advance(8 * 24 * time.Hour)
	res, err := s.manager.RunMigrationNow(ctx)
	require.NoError(t, err)
	require.Equal(t, len(paths), res.HotToWarm)
	require.Empty(t, res.Errors)

	for _, p := range paths {
		tier, ok := s.store.TierOf(p)
		require.True(t, ok)
		require.Equal(t, types.TierWarm, tier)
	}

	// Five accesses inside the promotion window pull an item back up.
	for i := 0; i < 5; i++ {
		s.clock.Advance(time.Hour)
		content, err := s.manager.Touch(ctx, "core/overview", "coder", "")
		require.NoError(t, err)
		require.Equal(t, "content for core/overview", content)
	}
	tier, ok := s.store.TierOf("core/overview")
	require.True(t, ok)
	require.Equal(t, types.TierHot, tier)

	// The untouched sibling stays warm.
	tier, ok = s.store.TierOf("notes/scratch")
	require.True(t, ok)
	require.Equal(t, types.TierWarm, tier)
}

// TestMemoryFlow_WarmingServesTouches verifies that an agent
// activation pre-loads that agent's working set and that subsequent
// touches are served from the fragment buffer.
func TestMemoryFlow_WarmingServesTouches(t *testing.T) {
	t.Parallel()

	s := newStack(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p := fmt.Sprintf("notes/item%d", i)
		require.NoError(t, s.manager.Put(ctx, p, "warmable", "coder", ""))
		_, err := s.manager.Touch(ctx, p, "coder", "")
		require.NoError(t, err)
	}

	res := s.manager.ActivateAgent(ctx, "coder")
	require.Equal(t, 3, res.ItemsWarmed)
	require.Empty(t, res.Errors)
	require.Equal(t, 3, s.warmer.GetStats(ctx).FragmentCount)

	entryBefore, ok := s.store.Entry("notes/item0")
	require.True(t, ok)

	content, err := s.manager.Touch(ctx, "notes/item0", "coder", "")
	require.NoError(t, err)
	require.Equal(t, "warmable", content)

	// Served from the fragment buffer: tier access count unchanged.
	entryAfter, ok := s.store.Entry("notes/item0")
	require.True(t, ok)
	require.Equal(t, entryBefore.AccessCount, entryAfter.AccessCount)

	// The tracker still saw the touch.
	patterns := s.tracker.GetTopPatterns(10)
	require.NotEmpty(t, patterns)
}

// TestMemoryFlow_DriftDrivenClear drives a session into heavy drift,
// confirms Evaluate demands a clear, and verifies Clear preserves
// through the hook and resets detection state.
func TestMemoryFlow_DriftDrivenClear(t *testing.T) {
	t.Parallel()

	preserved := 0
	s := newStack(t, func(_ context.Context, currentTokens int, _ types.LastToucher) (int, error) {
		preserved = currentTokens / 10_000
		return preserved, nil
	})
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		s.manager.RecordMessage()
	}
	for i := 0; i < 9; i++ {
		s.manager.StartTask(fmt.Sprintf("task-%d", i))
	}

	a, err := s.manager.Evaluate(ctx, forecast.Metrics{
		CurrentTokens:    60_000,
		TokensPerMessage: 700,
		TaskComplexity:   forecast.ComplexityMedium,
	})
	require.NoError(t, err)
	require.Equal(t, session.ActionClearNow, a.Action)
	require.True(t, a.Drift.ShouldClearContext)

	n, err := s.manager.Clear(ctx, 60_000, "coder")
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, preserved, n)

	a, err = s.manager.Evaluate(ctx, forecast.Metrics{
		CurrentTokens:    5_000,
		TokensPerMessage: 700,
		TaskComplexity:   forecast.ComplexityMedium,
	})
	require.NoError(t, err)
	require.Equal(t, session.ActionContinue, a.Action)
}

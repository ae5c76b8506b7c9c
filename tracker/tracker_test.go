package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/stratahq/strata/types"
)

func newTestTracker(t *testing.T, now *time.Time) *Tracker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return *now }
	tr, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRecordAccess_AverageInterval(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	for i := 0; i < 10; i++ {
		tr.RecordAccess("team/notes", "agent-1", types.OpView, "")
		now = now.Add(24 * time.Hour)
	}
	tr.RecordAccess("team/other", "agent-1", types.OpView, "")

	top := tr.GetTopPatterns(1)
	require.Len(t, top, 1)
	require.Equal(t, "team/notes", top[0].Path)
	require.Equal(t, 10, top[0].AccessCount)
	require.InDelta(t, float64(24*time.Hour), float64(top[0].AvgAccessInterval), float64(time.Minute))
}

func TestGetTopPatterns_FavorsRecentUse(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	// Heavily used long ago.
	for i := 0; i < 8; i++ {
		tr.RecordAccess("old/heavy", "a", types.OpView, "")
		now = now.Add(time.Minute)
	}
	now = now.Add(40 * 24 * time.Hour)

	// Lightly used just now.
	for i := 0; i < 4; i++ {
		tr.RecordAccess("new/light", "a", types.OpView, "")
		now = now.Add(time.Minute)
	}

	top := tr.GetTopPatterns(2)
	require.Len(t, top, 2)
	require.Equal(t, "new/light", top[0].Path)
}

func TestGetPatternsByAgent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	tr.RecordAccess("a/one", "agent-a", types.OpCreate, "")
	tr.RecordAccess("b/one", "agent-b", types.OpCreate, "")
	// Most recent toucher wins.
	tr.RecordAccess("a/one", "agent-b", types.OpUpdate, "")

	require.Empty(t, tr.GetPatternsByAgent("agent-a"))
	require.Len(t, tr.GetPatternsByAgent("agent-b"), 2)
}

func TestPredictNextPatterns(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	// Regular hourly cadence; last access one hour ago puts the next
	// access inside the expected window.
	for i := 0; i < 6; i++ {
		tr.RecordAccess("cadence/item", "agent-a", types.OpView, "")
		now = now.Add(time.Hour)
	}

	preds := tr.PredictNextPatterns("agent-a")
	require.NotEmpty(t, preds)
	require.Equal(t, "cadence/item", preds[0].Pattern.Path)
	require.Greater(t, preds[0].Score, 20.0)

	// A single stale touch scores below the cutoff.
	tr.RecordAccess("stale/item", "agent-b", types.OpView, "")
	now = now.Add(45 * 24 * time.Hour)
	for _, p := range tr.PredictNextPatterns("agent-a") {
		require.NotEqual(t, "stale/item", p.Pattern.Path)
	}
}

func TestCleanup_PurgesStalePatterns(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	tr.RecordAccess("stale/item", "a", types.OpView, "")
	now = now.Add(91 * 24 * time.Hour)
	tr.RecordAccess("fresh/item", "a", types.OpView, "")

	require.Equal(t, 1, tr.Cleanup(90*24*time.Hour))
	require.Equal(t, 1, tr.GetStats().PatternCount)
}

func TestPersistence_Restart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()
	cfg.BaseDir = dir
	cfg.Now = func() time.Time { return now }

	tr, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	tr.RecordAccess("persist/me", "agent-a", types.OpCreate, "")
	tr.RecordAccess("persist/me", "agent-a", types.OpView, "")
	require.NoError(t, tr.Close())

	tr2, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer tr2.Close()

	top := tr2.GetTopPatterns(1)
	require.Len(t, top, 1)
	require.Equal(t, "persist/me", top[0].Path)
	require.Equal(t, 2, top[0].AccessCount)
	require.Equal(t, 2, tr2.GetStats().EventCount)
}

func TestEventRing_DropsOldest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.MaxEvents = 5
	cfg.Now = func() time.Time { return now }

	tr, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer tr.Close()

	for i := 0; i < 8; i++ {
		tr.RecordAccess("ring/item", "a", types.OpView, "")
		now = now.Add(time.Second)
	}

	events := tr.Events()
	require.Len(t, events, 5)
	// Oldest surviving event is the fourth recorded.
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 3, 0, time.UTC), events[0].Timestamp)
}

func TestAccessAccounting_Monotonic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		cfg := DefaultConfig()
		cfg.Now = func() time.Time { return now }
		tr, err := New(cfg, zap.NewNop())
		require.NoError(rt, err)
		defer tr.Close()

		paths := []string{"a/x", "a/y", "b/z"}
		steps := rapid.IntRange(1, 200).Draw(rt, "steps")
		lastCount := make(map[string]int)

		for i := 0; i < steps; i++ {
			path := paths[rapid.IntRange(0, len(paths)-1).Draw(rt, "path")]
			tr.RecordAccess(path, "a", types.OpView, "")
			now = now.Add(time.Duration(rapid.Int64Range(0, int64(48*time.Hour)).Draw(rt, "gap")))

			for _, p := range tr.GetTopPatterns(0) {
				if p.AccessCount < lastCount[p.Path] {
					rt.Fatalf("access count decreased for %s: %d -> %d", p.Path, lastCount[p.Path], p.AccessCount)
				}
				lastCount[p.Path] = p.AccessCount
				if p.RecentAccessCount > p.AccessCount {
					rt.Fatalf("recent count %d exceeds total %d for %s", p.RecentAccessCount, p.AccessCount, p.Path)
				}
				if p.RecentAccessCount < 0 {
					rt.Fatalf("negative recent count for %s", p.Path)
				}
			}
		}
	})
}

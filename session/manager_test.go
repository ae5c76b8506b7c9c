package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/drift"
	"github.com/stratahq/strata/forecast"
	"github.com/stratahq/strata/store"
	"github.com/stratahq/strata/tracker"
	"github.com/stratahq/strata/types"
	"github.com/stratahq/strata/warmer"
)

type harness struct {
	manager  *Manager
	tracker  *tracker.Tracker
	store    *store.TieredStore
	warmer   *warmer.Warmer
	detector *drift.Detector
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	tr, err := tracker.New(tracker.Config{BaseDir: t.TempDir(), Now: now}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	st, err := store.New(store.Config{BaseDir: t.TempDir(), Now: now}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wm := warmer.New(tr, st, warmer.NewMemoryFragmentCache(now), nil, warmer.Config{Now: now}, nil)

	fc, err := forecast.New(nil, forecast.Config{Now: now}, nil)
	require.NoError(t, err)

	dt := drift.New(drift.Config{Now: now}, nil)

	mgr, err := NewManager(Components{
		Tracker:    tr,
		Store:      st,
		Warmer:     wm,
		Forecaster: fc,
		Detector:   dt,
	}, config, nil)
	require.NoError(t, err)

	return &harness{manager: mgr, tracker: tr, store: st, warmer: wm, detector: dt}
}

func TestNewManagerRequiresComponents(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Components{}, Config{}, nil)
	require.Error(t, err)
}

func TestPutAndTouchFanOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.manager.Put(ctx, "core/readme", "project overview", "coder", "initial import"))

	content, err := h.manager.Touch(ctx, "core/readme", "coder", "")
	require.NoError(t, err)
	require.Equal(t, "project overview", content)

	patterns := h.tracker.GetTopPatterns(10)
	require.Len(t, patterns, 1)
	// One create plus one view.
	require.Equal(t, 2, patterns[0].AccessCount)

	entry, ok := h.store.Entry("core/readme")
	require.True(t, ok)
	require.Equal(t, 1, entry.AccessCount)
}

func TestPutRecordsUpdateForExistingPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.manager.Put(ctx, "notes/a", "v1", "coder", ""))
	require.NoError(t, h.manager.Put(ctx, "notes/a", "v2", "coder", ""))

	events := h.tracker.Events()
	require.Len(t, events, 2)
	require.Equal(t, types.OpCreate, events[0].Operation)
	require.Equal(t, types.OpUpdate, events[1].Operation)
}

func TestTouchMissingItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	_, err := h.manager.Touch(context.Background(), "ghost/item", "coder", "")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestEvaluateContinue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	a, err := h.manager.Evaluate(context.Background(), forecast.Metrics{
		CurrentTokens:    10_000,
		TokensPerMessage: 500,
		TaskComplexity:   forecast.ComplexitySimple,
	})
	require.NoError(t, err)
	require.Equal(t, ActionContinue, a.Action)
	require.Equal(t, forecast.RecommendContinue, a.Forecast.Recommendation)
	require.False(t, a.Drift.ShouldClearContext)
}

func TestEvaluateDriftForcesClear(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	for i := 0; i < 300; i++ {
		h.manager.RecordMessage()
	}

	a, err := h.manager.Evaluate(context.Background(), forecast.Metrics{
		CurrentTokens:    30_000,
		TokensPerMessage: 500,
		TaskComplexity:   forecast.ComplexitySimple,
	})
	require.NoError(t, err)
	require.Equal(t, ActionClearNow, a.Action)
}

func TestEvaluateDriftWithTokenPressure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	for i := 0; i < 300; i++ {
		h.manager.RecordMessage()
	}

	a, err := h.manager.Evaluate(context.Background(), forecast.Metrics{
		CurrentTokens:    192_000,
		TokensPerMessage: 800,
		TaskComplexity:   forecast.ComplexityComplex,
	})
	require.NoError(t, err)
	require.Equal(t, ActionExtractThenClear, a.Action)
}

func TestClearRunsPreserveAndResets(t *testing.T) {
	t.Parallel()

	preserveCalls := 0
	h := newHarness(t, Config{
		Preserve: func(_ context.Context, currentTokens int, agentID types.LastToucher) (int, error) {
			preserveCalls++
			require.Equal(t, 50_000, currentTokens)
			require.Equal(t, types.LastToucher("coder"), agentID)
			return 7, nil
		},
	})
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		h.manager.RecordMessage()
	}

	preserved, err := h.manager.Clear(ctx, 50_000, "coder")
	require.NoError(t, err)
	require.Equal(t, 7, preserved)
	require.Equal(t, 1, preserveCalls)

	report := h.detector.Detect(50_000)
	require.False(t, report.ShouldClearContext)

	stats := h.warmer.GetStats(ctx)
	require.Zero(t, stats.FragmentCount)
}

func TestClearAbortsOnPreserveFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{
		Preserve: func(context.Context, int, types.LastToucher) (int, error) {
			return 0, errors.New("extraction backend down")
		},
	})
	for i := 0; i < 300; i++ {
		h.manager.RecordMessage()
	}

	_, err := h.manager.Clear(context.Background(), 10_000, "coder")
	require.Error(t, err)
	// Drift state survives an aborted clear.
	require.True(t, h.detector.Detect(10_000).ShouldClearContext)
}

func TestActivateAgentWarmsWorkingSet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		path := fmt.Sprintf("notes/item%d", i)
		require.NoError(t, h.manager.Put(ctx, path, "content", "coder", ""))
		_, err := h.manager.Touch(ctx, path, "coder", "")
		require.NoError(t, err)
	}

	res := h.manager.ActivateAgent(ctx, "coder")
	require.Equal(t, 3, res.ItemsWarmed)
	require.Empty(t, res.Errors)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MigrationSchedule: "not a schedule"})
	require.Error(t, h.manager.Start())
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	require.NoError(t, h.manager.Start())
	require.NoError(t, h.manager.Start())
	h.manager.Stop()
	h.manager.Stop()
}

type recordedDrift struct {
	score    int
	severity types.DriftSeverity
}

// fakeRecorder captures observations handed to the session metrics
// surface.
type fakeRecorder struct {
	drifts    []recordedDrift
	forecasts []string
	clears    []int
	warmItems []int
}

func (r *fakeRecorder) RecordDrift(score int, severity types.DriftSeverity) {
	r.drifts = append(r.drifts, recordedDrift{score: score, severity: severity})
}

func (r *fakeRecorder) RecordForecast(recommendation string) {
	r.forecasts = append(r.forecasts, recommendation)
}

func (r *fakeRecorder) RecordClear(itemsPreserved int) {
	r.clears = append(r.clears, itemsPreserved)
}

func (r *fakeRecorder) RecordWarmPass(items, tokens int, elapsed time.Duration) {
	r.warmItems = append(r.warmItems, items)
}

func TestMetricsRecorderObservesLifecycle(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	h := newHarness(t, Config{
		Metrics: rec,
		Preserve: func(ctx context.Context, currentTokens int, agentID types.LastToucher) (int, error) {
			return 4, nil
		},
	})
	ctx := context.Background()

	_, err := h.manager.Evaluate(ctx, forecast.Metrics{
		CurrentTokens:    10_000,
		TokensPerMessage: 500,
		TaskComplexity:   forecast.ComplexitySimple,
	})
	require.NoError(t, err)
	require.Len(t, rec.drifts, 1)
	require.Equal(t, 0, rec.drifts[0].score)
	require.Equal(t, types.SeverityNone, rec.drifts[0].severity)
	require.Equal(t, []string{string(forecast.RecommendContinue)}, rec.forecasts)

	preserved, err := h.manager.Clear(ctx, 10_000, "coder")
	require.NoError(t, err)
	require.Equal(t, 4, preserved)
	require.Equal(t, []int{4}, rec.clears)

	h.manager.runWarm()
	require.Len(t, rec.warmItems, 1)
}

func TestMetricsRecorderOptional(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.manager.Evaluate(ctx, forecast.Metrics{CurrentTokens: 1_000})
	require.NoError(t, err)
	_, err = h.manager.Clear(ctx, 1_000, "coder")
	require.NoError(t, err)
	h.manager.runWarm()
}

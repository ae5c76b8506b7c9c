package forecast

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestForecastEmergencyPastLimit(t *testing.T) {
	t.Parallel()

	f, err := New(nil, Config{Now: fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))}, nil)
	require.NoError(t, err)

	res := f.Forecast(Metrics{
		CurrentTokens:       192_000, // 96% of the default 200k limit
		TokensPerMessage:    800,
		TaskComplexity:      ComplexityComplex,
		AvgToolResultTokens: 400,
	})

	require.Equal(t, RecommendEmergency, res.Recommendation)
	require.Equal(t, 0, res.MessagesUntil85Pct)
	require.Equal(t, 0, res.MessagesUntil95Pct)
	require.Zero(t, res.EstimatedMinutes)
}

func TestForecastRecommendationBands(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f, err := New(nil, Config{Now: fixedClock(now)}, nil)
	require.NoError(t, err)

	cases := []struct {
		name string
		m    Metrics
		want Recommendation
	}{
		{
			name: "plenty of headroom",
			m:    Metrics{CurrentTokens: 10_000, TokensPerMessage: 500, TaskComplexity: ComplexitySimple, AvgToolResultTokens: 200},
			want: RecommendContinue,
		},
		{
			name: "crosses 85 within ten messages",
			m:    Metrics{CurrentTokens: 150_000, TokensPerMessage: 5_000, TaskComplexity: ComplexitySimple, AvgToolResultTokens: 200},
			want: RecommendExtractSoon,
		},
		{
			name: "crosses 95 within five messages",
			m:    Metrics{CurrentTokens: 165_000, TokensPerMessage: 13_000, TaskComplexity: ComplexitySimple, AvgToolResultTokens: 200},
			want: RecommendExtractNow,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := f.Forecast(tc.m)
			require.Equal(t, tc.want, res.Recommendation, res.Reasoning)
		})
	}
}

func TestForecastMonotonicHorizons(t *testing.T) {
	t.Parallel()

	f, err := New(nil, Config{Now: fixedClock(time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC))}, nil)
	require.NoError(t, err)

	res := f.Forecast(Metrics{
		CurrentTokens:       40_000,
		TokensPerMessage:    1_200,
		TaskComplexity:      ComplexityMedium,
		AvgToolResultTokens: 600,
	})

	require.Greater(t, res.PredictedTokensIn5, 40_000)
	require.Greater(t, res.PredictedTokensIn10, res.PredictedTokensIn5)
	require.GreaterOrEqual(t, res.MessagesUntil95Pct, res.MessagesUntil85Pct)
	require.InDelta(t, float64(res.MessagesUntil85Pct), res.EstimatedMinutes, 0.01)
}

func TestForecastCustomTokenLimit(t *testing.T) {
	t.Parallel()

	f, err := New(nil, Config{Now: fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))}, nil)
	require.NoError(t, err)

	res := f.Forecast(Metrics{
		CurrentTokens:    9_700,
		TokenLimit:       10_000,
		TokensPerMessage: 100,
		TaskComplexity:   ComplexitySimple,
	})
	require.Equal(t, RecommendEmergency, res.Recommendation)
}

func TestRecordOutcomeGrowsConfidence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f, err := New(nil, Config{Now: fixedClock(now)}, nil)
	require.NoError(t, err)

	base := f.Forecast(Metrics{CurrentTokens: 20_000, TokensPerMessage: 500, TaskComplexity: ComplexitySimple}).Confidence

	complexities := []Complexity{ComplexitySimple, ComplexityMedium, ComplexityComplex}
	for i := 0; i < 8; i++ {
		m := Metrics{
			CurrentTokens:       20_000 + i*1_000,
			TokensPerMessage:    400 + float64(i)*150,
			TaskComplexity:      complexities[i%3],
			AvgToolResultTokens: 100 + float64((i*i)%5)*80,
		}
		require.NoError(t, f.RecordOutcome(m, m.CurrentTokens+2_500, m.CurrentTokens+5_000))
	}

	require.Equal(t, 8, f.SampleCount())
	after := f.Forecast(Metrics{CurrentTokens: 20_000, TokensPerMessage: 500, TaskComplexity: ComplexitySimple}).Confidence
	require.Greater(t, after, base)
}

func TestDegenerateHistoryKeepsPriors(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f, err := New(nil, Config{Now: fixedClock(now)}, nil)
	require.NoError(t, err)

	// Identical feature rows make the normal equations rank deficient;
	// the fit must fall back to the configured priors.
	m := Metrics{CurrentTokens: 10_000, TokensPerMessage: 500, TaskComplexity: ComplexitySimple, AvgToolResultTokens: 200}
	for i := 0; i < 6; i++ {
		require.NoError(t, f.RecordOutcome(m, 12_000, 14_000))
	}

	res := f.Forecast(m)
	require.Equal(t, RecommendContinue, res.Recommendation)
	require.Greater(t, res.PredictedTokensIn5, m.CurrentTokens)
}

func TestForecasterReloadsHistory(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "training.db")
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store, err := OpenTrainingStore(dbPath)
	require.NoError(t, err)

	f, err := New(store, Config{Now: fixedClock(now)}, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		m := Metrics{CurrentTokens: 5_000 * (i + 1), TokensPerMessage: 300 + float64(i)*100, TaskComplexity: ComplexityMedium}
		require.NoError(t, f.RecordOutcome(m, m.CurrentTokens+1_500, m.CurrentTokens+3_000))
	}
	require.NoError(t, store.Close())

	reopened, err := OpenTrainingStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	f2, err := New(reopened, Config{Now: fixedClock(now)}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, f2.SampleCount())
}

func TestTrainingStorePrune(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "training.db")
	store, err := OpenTrainingStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	old := &TrainingPoint{CurrentTokens: 1_000, TokensPerMessage: 100, CreatedAt: now.Add(-120 * 24 * time.Hour)}
	fresh := &TrainingPoint{CurrentTokens: 2_000, TokensPerMessage: 200, CreatedAt: now}
	require.NoError(t, store.Add(old))
	require.NoError(t, store.Add(fresh))

	removed, err := store.Prune(now.Add(-90 * 24 * time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	count, err := store.Count()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	points, err := store.All()
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 2_000, points[0].CurrentTokens)
}

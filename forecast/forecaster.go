package forecast

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Complexity grades the current task.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Multiplier returns the growth multiplier for a complexity grade.
func (c Complexity) Multiplier() float64 {
	switch c {
	case ComplexityComplex:
		return 2.0
	case ComplexityMedium:
		return 1.5
	default:
		return 1.0
	}
}

// Recommendation tells the host what to do about context growth.
type Recommendation string

const (
	RecommendContinue    Recommendation = "continue"
	RecommendExtractSoon Recommendation = "extract_soon"
	RecommendExtractNow  Recommendation = "extract_now"
	RecommendEmergency   Recommendation = "emergency"
)

// Metrics are the conversation features supplied by the host.
type Metrics struct {
	CurrentTokens       int        `json:"current_tokens"`
	TokenLimit          int        `json:"token_limit,omitempty"` // 0 uses the configured limit
	TokensPerMessage    float64    `json:"tokens_per_message"`
	TaskComplexity      Complexity `json:"task_complexity"`
	AvgToolResultTokens float64    `json:"avg_tool_result_tokens"`
}

// Result is a growth forecast. Forecasting with no history still
// returns a result; sparse data lowers Confidence instead of failing.
type Result struct {
	PredictedTokensIn5  int            `json:"predicted_tokens_in_5"`
	PredictedTokensIn10 int            `json:"predicted_tokens_in_10"`
	MessagesUntil85Pct  int            `json:"messages_until_85pct"`
	MessagesUntil95Pct  int            `json:"messages_until_95pct"`
	EstimatedMinutes    float64        `json:"estimated_minutes_until_threshold"`
	Confidence          float64        `json:"confidence"`
	Recommendation      Recommendation `json:"recommendation"`
	Reasoning           string         `json:"reasoning"`
}

// Config configures the forecaster.
type Config struct {
	// TokenLimit is the hard context-window capacity.
	TokenLimit int `yaml:"token_limit" json:"token_limit"`

	// Retention prunes training points older than this.
	Retention time.Duration `yaml:"retention" json:"retention"`

	// MinSamples is the history size below which the prior
	// coefficients are used instead of a fit.
	MinSamples int `yaml:"min_samples" json:"min_samples"`

	// SecondsPerMessage converts message horizons to wall time.
	SecondsPerMessage float64 `yaml:"seconds_per_message" json:"seconds_per_message"`

	// PriorCoefficients seed the model before enough history exists.
	PriorCoefficients [4]float64 `yaml:"prior_coefficients" json:"prior_coefficients"`

	// Now overrides the clock, for tests.
	Now func() time.Time `yaml:"-" json:"-"`
}

// featureWeights fix the relative influence of the four features:
// tokens-per-message, complexity, tool-result size, time of day.
var featureWeights = [4]float64{0.4, 0.3, 0.2, 0.1}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TokenLimit:        200_000,
		Retention:         90 * 24 * time.Hour,
		MinSamples:        5,
		SecondsPerMessage: 60,
		PriorCoefficients: [4]float64{1, 300, 1, 200},
	}
}

// Forecaster predicts token growth from conversation features.
type Forecaster struct {
	config Config
	store  *TrainingStore // optional
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	points []TrainingPoint
	coeffs [4]float64
}

// New creates a Forecaster, reloading training history from store when
// one is supplied. store may be nil for a memory-only forecaster.
func New(store *TrainingStore, config Config, logger *zap.Logger) (*Forecaster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.TokenLimit <= 0 {
		config.TokenLimit = def.TokenLimit
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if config.MinSamples <= 0 {
		config.MinSamples = def.MinSamples
	}
	if config.SecondsPerMessage <= 0 {
		config.SecondsPerMessage = def.SecondsPerMessage
	}
	if config.PriorCoefficients == ([4]float64{}) {
		config.PriorCoefficients = def.PriorCoefficients
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	f := &Forecaster{
		config: config,
		store:  store,
		logger: logger.With(zap.String("component", "forecaster")),
		now:    nowFn,
		coeffs: config.PriorCoefficients,
	}

	if store != nil {
		points, err := store.All()
		if err != nil {
			return nil, err
		}
		f.points = points
		f.refitLocked()
	}
	return f, nil
}

// Forecast predicts growth from the supplied metrics.
func (f *Forecaster) Forecast(m Metrics) Result {
	now := f.now()
	limit := m.TokenLimit
	if limit <= 0 {
		limit = f.config.TokenLimit
	}

	f.mu.RLock()
	coeffs := f.coeffs
	samples := len(f.points)
	f.mu.RUnlock()

	features := featureVector(m, now)
	perTurn := 0.0
	for i := range features {
		perTurn += featureWeights[i] * coeffs[i] * features[i]
	}
	if perTurn < 1 {
		perTurn = 1
	}

	pred5 := m.CurrentTokens + int(5*perTurn)
	pred10 := m.CurrentTokens + int(10*perTurn)

	msgs85 := messagesUntil(m.CurrentTokens, 0.85, limit, perTurn)
	msgs95 := messagesUntil(m.CurrentTokens, 0.95, limit, perTurn)

	res := Result{
		PredictedTokensIn5:  pred5,
		PredictedTokensIn10: pred10,
		MessagesUntil85Pct:  msgs85,
		MessagesUntil95Pct:  msgs95,
		EstimatedMinutes:    float64(msgs85) * f.config.SecondsPerMessage / 60,
		Confidence:          confidence(samples),
	}

	limit85 := int(0.85 * float64(limit))
	limit95 := int(0.95 * float64(limit))
	switch {
	case m.CurrentTokens >= limit95:
		res.Recommendation = RecommendEmergency
		res.Reasoning = fmt.Sprintf("already past 95%% of the %d-token limit", limit)
	case pred5 >= limit95:
		res.Recommendation = RecommendExtractNow
		res.Reasoning = fmt.Sprintf("projected to cross 95%% within 5 messages at ~%.0f tokens/message", perTurn)
	case pred10 >= limit85:
		res.Recommendation = RecommendExtractSoon
		res.Reasoning = fmt.Sprintf("projected into the 85-95%% band within 10 messages at ~%.0f tokens/message", perTurn)
	default:
		res.Recommendation = RecommendContinue
		res.Reasoning = fmt.Sprintf("%d tokens of headroom before 85%%", limit85-m.CurrentTokens)
	}
	return res
}

// RecordOutcome supplies an observed (after-5, after-10) pair for a
// past forecast and refits the coefficients.
func (f *Forecaster) RecordOutcome(m Metrics, actualAfter5, actualAfter10 int) error {
	now := f.now()
	features := featureVector(m, now)
	point := TrainingPoint{
		CurrentTokens:       m.CurrentTokens,
		TokensPerMessage:    features[0],
		ComplexityFactor:    features[1],
		ToolResultTokens:    features[2],
		TimeOfDayFactor:     features[3],
		ActualTokensAfter5:  actualAfter5,
		ActualTokensAfter10: actualAfter10,
		CreatedAt:           now,
	}

	if f.store != nil {
		if err := f.store.Add(&point); err != nil {
			return err
		}
		if _, err := f.store.Prune(now.Add(-f.config.Retention)); err != nil {
			f.logger.Warn("training prune failed", zap.Error(err))
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, point)
	cutoff := now.Add(-f.config.Retention)
	kept := f.points[:0]
	for _, p := range f.points {
		if !p.CreatedAt.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	f.points = kept
	f.refitLocked()
	return nil
}

// SampleCount returns the retained training history size.
func (f *Forecaster) SampleCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.points)
}

// refitLocked refits coefficients by ordinary least squares on the
// per-turn growth observed in training history. Degenerate systems
// keep the current coefficients.
func (f *Forecaster) refitLocked() {
	if len(f.points) < f.config.MinSamples {
		f.coeffs = f.config.PriorCoefficients
		return
	}

	var ata [4][4]float64
	var atb [4]float64
	for _, p := range f.points {
		x := [4]float64{
			featureWeights[0] * p.TokensPerMessage,
			featureWeights[1] * p.ComplexityFactor,
			featureWeights[2] * p.ToolResultTokens,
			featureWeights[3] * p.TimeOfDayFactor,
		}
		// Average the 5- and 10-turn horizons into one per-turn target.
		y := (float64(p.ActualTokensAfter5-p.CurrentTokens)/5 +
			float64(p.ActualTokensAfter10-p.CurrentTokens)/10) / 2
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				ata[i][j] += x[i] * x[j]
			}
			atb[i] += x[i] * y
		}
	}

	coeffs, ok := solveLinear(ata, atb)
	if !ok {
		f.logger.Debug("least-squares fit degenerate, keeping coefficients")
		return
	}
	f.coeffs = coeffs
}

// solveLinear solves a 4x4 system by Gaussian elimination with partial
// pivoting. Returns false for singular systems.
func solveLinear(a [4][4]float64, b [4]float64) ([4]float64, bool) {
	const n = 4
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [4]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	var x [4]float64
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, true
}

func featureVector(m Metrics, now time.Time) [4]float64 {
	return [4]float64{
		m.TokensPerMessage,
		m.TaskComplexity.Multiplier(),
		m.AvgToolResultTokens,
		timeOfDayFactor(now),
	}
}

// timeOfDayFactor is a smooth multiplier capturing that sessions
// starting earlier in a work period tend to run longer.
func timeOfDayFactor(now time.Time) float64 {
	hour := float64(now.Hour()) + float64(now.Minute())/60
	return 1.25 - 0.5*hour/24
}

// confidence grows with training-sample count and caps at 0.9.
func confidence(samples int) float64 {
	if samples > 50 {
		samples = 50
	}
	return 0.3 + float64(samples)/50*0.6
}

func messagesUntil(current int, fraction float64, limit int, perTurn float64) int {
	threshold := fraction * float64(limit)
	if float64(current) >= threshold {
		return 0
	}
	return int(math.Ceil((threshold - float64(current)) / perTurn))
}

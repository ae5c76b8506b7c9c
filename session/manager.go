package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stratahq/strata/drift"
	"github.com/stratahq/strata/forecast"
	"github.com/stratahq/strata/store"
	"github.com/stratahq/strata/tracker"
	"github.com/stratahq/strata/types"
	"github.com/stratahq/strata/warmer"
)

// Action is the context decision produced by Evaluate.
type Action string

const (
	// ActionContinue means the session has headroom and no drift worth
	// acting on.
	ActionContinue Action = "continue"

	// ActionExtractThenClear means valuable context should be
	// preserved to the store before the window is cleared.
	ActionExtractThenClear Action = "extract_then_clear"

	// ActionClearNow means the context is mostly drift and can be
	// cleared without an extraction pass.
	ActionClearNow Action = "clear_now"
)

// Assessment combines the token forecast and drift report into one
// decision.
type Assessment struct {
	Forecast forecast.Result `json:"forecast"`
	Drift    drift.Report    `json:"drift"`
	Action   Action          `json:"action"`
	Reason   string          `json:"reason"`
}

// PreserveFunc extracts valuable context into durable storage before a
// clear. It returns the number of items preserved.
type PreserveFunc func(ctx context.Context, currentTokens int, agentID types.LastToucher) (int, error)

// Recorder receives session-level observations. *metrics.Collector
// satisfies it; a nil recorder disables recording.
type Recorder interface {
	RecordDrift(score int, severity types.DriftSeverity)
	RecordForecast(recommendation string)
	RecordClear(itemsPreserved int)
	RecordWarmPass(items, tokens int, elapsed time.Duration)
}

// Components are the injected memory subsystems.
type Components struct {
	Tracker    *tracker.Tracker
	Store      *store.TieredStore
	Warmer     *warmer.Warmer
	Forecaster *forecast.Forecaster
	Detector   *drift.Detector
}

// Config configures a Manager.
type Config struct {
	// MigrationSchedule is the cron cadence for tier migration sweeps.
	MigrationSchedule string `yaml:"migration_schedule" json:"migration_schedule"`

	// WarmSchedule is the cron cadence for background cache warming.
	WarmSchedule string `yaml:"warm_schedule" json:"warm_schedule"`

	// DefaultAgentID is the agent identity used by scheduled warming.
	DefaultAgentID types.LastToucher `yaml:"default_agent_id" json:"default_agent_id"`

	// Preserve runs before a context clear. Nil skips extraction.
	Preserve PreserveFunc `yaml:"-" json:"-"`

	// Metrics receives drift, forecast, clear and warm-pass
	// observations. Nil disables recording.
	Metrics Recorder `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MigrationSchedule: "@hourly",
		WarmSchedule:      "@every 15m",
	}
}

// Manager coordinates the tracker, store, warmer, forecaster and
// drift detector for one session scope.
type Manager struct {
	config Config
	comps  Components
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	started bool
}

// NewManager wires the injected components together. All five
// components are required.
func NewManager(comps Components, config Config, logger *zap.Logger) (*Manager, error) {
	if comps.Tracker == nil || comps.Store == nil || comps.Warmer == nil ||
		comps.Forecaster == nil || comps.Detector == nil {
		return nil, fmt.Errorf("session: all components are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MigrationSchedule == "" {
		config.MigrationSchedule = def.MigrationSchedule
	}
	if config.WarmSchedule == "" {
		config.WarmSchedule = def.WarmSchedule
	}

	return &Manager{
		config: config,
		comps:  comps,
		logger: logger.With(zap.String("component", "session")),
	}, nil
}

// Put stores a knowledge item and records the touch with the tracker
// and the drift detector. An existing path is recorded as an update.
func (m *Manager) Put(ctx context.Context, path, content string, agentID types.LastToucher, note string) error {
	op := types.OpCreate
	if _, ok := m.comps.Store.Entry(path); ok {
		op = types.OpUpdate
	}
	if err := m.comps.Store.Store(ctx, path, content, agentID); err != nil {
		return err
	}
	m.comps.Tracker.RecordAccess(path, agentID, op, note)
	m.comps.Detector.TrackFileAccess(path)
	return nil
}

// Touch retrieves a knowledge item, recording the access with the
// tracker's pattern history and the drift detector's file table. A
// warmed fragment satisfies the read without touching tier state;
// otherwise the store serves it and counts the access toward
// promotion.
func (m *Manager) Touch(ctx context.Context, path string, agentID types.LastToucher, note string) (string, error) {
	m.comps.Tracker.RecordAccess(path, agentID, types.OpView, note)
	m.comps.Detector.TrackFileAccess(path)

	if frag, ok := m.comps.Warmer.GetFragment(ctx, path); ok {
		return frag.Content, nil
	}
	return m.comps.Store.Retrieve(ctx, path)
}

// Delete removes a knowledge item from all tiers.
func (m *Manager) Delete(ctx context.Context, path string) (bool, error) {
	if err := m.comps.Warmer.Invalidate(ctx, path); err != nil {
		m.logger.Warn("fragment invalidate failed", zap.String("path", path), zap.Error(err))
	}
	return m.comps.Store.Delete(ctx, path)
}

// RecordMessage counts one conversation turn for drift detection.
func (m *Manager) RecordMessage() {
	m.comps.Detector.TrackMessage()
}

// StartTask records a task switch for drift detection.
func (m *Manager) StartTask(taskID string) {
	m.comps.Detector.TrackTask(taskID)
}

// ActivateAgent records the agent handoff and warms the cache with
// that agent's working set.
func (m *Manager) ActivateAgent(ctx context.Context, agentID types.LastToucher) warmer.Result {
	m.comps.Detector.TrackAgentActivation(string(agentID))
	return m.comps.Warmer.WarmForAgent(ctx, agentID)
}

// RecordOutcome feeds an observed growth outcome back to the
// forecaster's training store.
func (m *Manager) RecordOutcome(metrics forecast.Metrics, actualAfter5, actualAfter10 int) error {
	return m.comps.Forecaster.RecordOutcome(metrics, actualAfter5, actualAfter10)
}

// Evaluate runs the growth forecast and the drift detection
// concurrently and folds both into a single context decision.
func (m *Manager) Evaluate(ctx context.Context, metrics forecast.Metrics) (Assessment, error) {
	var (
		fc forecast.Result
		dr drift.Report
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fc = m.comps.Forecaster.Forecast(metrics)
		return ctx.Err()
	})
	g.Go(func() error {
		dr = m.comps.Detector.Detect(metrics.CurrentTokens)
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Assessment{}, err
	}
	if m.config.Metrics != nil {
		m.config.Metrics.RecordDrift(dr.DriftScore, dr.OverallSeverity)
		m.config.Metrics.RecordForecast(string(fc.Recommendation))
	}

	a := Assessment{Forecast: fc, Drift: dr}
	switch {
	case dr.ShouldClearContext && pressured(fc.Recommendation):
		a.Action = ActionExtractThenClear
		a.Reason = fmt.Sprintf("drift score %d with token pressure (%s)", dr.DriftScore, fc.Recommendation)
	case dr.ShouldClearContext:
		a.Action = ActionClearNow
		a.Reason = fmt.Sprintf("drift score %d, severity %s", dr.DriftScore, dr.OverallSeverity)
	case pressured(fc.Recommendation):
		a.Action = ActionExtractThenClear
		a.Reason = fc.Reasoning
	default:
		a.Action = ActionContinue
		a.Reason = fc.Reasoning
	}
	return a, nil
}

func pressured(r forecast.Recommendation) bool {
	return r == forecast.RecommendExtractNow || r == forecast.RecommendEmergency
}

// Clear runs the preserve hook, resets drift tracking and drops all
// warmed fragments. It returns the number of items preserved. A
// failing preserve hook aborts the clear.
func (m *Manager) Clear(ctx context.Context, currentTokens int, agentID types.LastToucher) (int, error) {
	preserved := 0
	if m.config.Preserve != nil {
		n, err := m.config.Preserve(ctx, currentTokens, agentID)
		if err != nil {
			return 0, fmt.Errorf("preserve before clear: %w", err)
		}
		preserved = n
	}

	m.comps.Detector.Reset()
	if err := m.comps.Warmer.Reset(ctx); err != nil {
		m.logger.Warn("fragment flush failed", zap.Error(err))
	}
	if m.config.Metrics != nil {
		m.config.Metrics.RecordClear(preserved)
	}
	m.logger.Info("context cleared",
		zap.Int("items_preserved", preserved),
		zap.String("agent_id", string(agentID)))
	return preserved, nil
}

// Start begins the background cadence: tier migration sweeps and
// scheduled cache warming.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.config.MigrationSchedule, m.runMigration); err != nil {
		return fmt.Errorf("migration schedule: %w", err)
	}
	if _, err := c.AddFunc(m.config.WarmSchedule, m.runWarm); err != nil {
		return fmt.Errorf("warm schedule: %w", err)
	}
	c.Start()

	m.cron = c
	m.started = true
	m.logger.Info("session cadence started",
		zap.String("migration_schedule", m.config.MigrationSchedule),
		zap.String("warm_schedule", m.config.WarmSchedule))
	return nil
}

// Stop halts the background cadence, waiting for a running job.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	<-m.cron.Stop().Done()
	m.started = false
	m.logger.Info("session cadence stopped")
}

// RunMigrationNow triggers one tier migration sweep outside the
// schedule.
func (m *Manager) RunMigrationNow(ctx context.Context) (store.MigrationResult, error) {
	return m.comps.Store.RunMigration(ctx)
}

func (m *Manager) runMigration() {
	res, err := m.comps.Store.RunMigration(context.Background())
	if err != nil {
		m.logger.Error("scheduled migration failed", zap.Error(err))
		return
	}
	m.logger.Info("scheduled migration complete",
		zap.Int("hot_to_warm", res.HotToWarm),
		zap.Int("warm_to_cold", res.WarmToCold),
		zap.Int("cold_to_warm", res.ColdToWarm),
		zap.Int("errors", len(res.Errors)))
}

func (m *Manager) runWarm() {
	res := m.comps.Warmer.Warm(context.Background(), m.config.DefaultAgentID)
	if m.config.Metrics != nil {
		m.config.Metrics.RecordWarmPass(res.ItemsWarmed, res.TotalTokens, res.Elapsed)
	}
	m.logger.Info("scheduled warm complete",
		zap.Int("items_warmed", res.ItemsWarmed),
		zap.Int("total_tokens", res.TotalTokens),
		zap.Duration("elapsed", res.Elapsed))
}

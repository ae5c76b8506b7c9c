package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stratahq/strata/types"
)

const stateFileName = "tracker_state.json"

// Config configures the access tracker.
type Config struct {
	// BaseDir is the directory holding persisted tracker state. Empty
	// disables persistence.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// MaxEvents caps the event ring buffer.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// FlushThreshold is the number of recorded events between persisted
	// snapshots.
	FlushThreshold int `yaml:"flush_threshold" json:"flush_threshold"`

	// FlushInterval bounds how long recorded events may stay unpersisted.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`

	// RecentWindow is the trailing window for recent-access counts.
	RecentWindow time.Duration `yaml:"recent_window" json:"recent_window"`

	// Now overrides the clock, for tests.
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents:      1000,
		FlushThreshold: 10,
		FlushInterval:  30 * time.Second,
		RecentWindow:   7 * 24 * time.Hour,
	}
}

// Tracker records knowledge-item touches and maintains per-path access
// patterns.
type Tracker struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	patterns map[string]*types.AccessPattern
	ring     *eventRing
	pending  int
	closed   bool

	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	limiter *rate.Limiter
}

// New creates a Tracker, reloading any persisted state from
// Config.BaseDir. Absence of prior state is a normal cold start.
func New(config Config, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxEvents <= 0 {
		config.MaxEvents = def.MaxEvents
	}
	if config.FlushThreshold <= 0 {
		config.FlushThreshold = def.FlushThreshold
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	if config.RecentWindow <= 0 {
		config.RecentWindow = def.RecentWindow
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	t := &Tracker{
		config:   config,
		logger:   logger.With(zap.String("component", "tracker")),
		now:      nowFn,
		patterns: make(map[string]*types.AccessPattern),
		ring:     newEventRing(config.MaxEvents),
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}

	if config.BaseDir != "" {
		if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create tracker dir: %w", err)
		}
		if err := t.loadState(); err != nil {
			// Degraded mode: tracking continues unpersisted.
			t.logger.Warn("failed to load tracker state", zap.Error(err))
		}
		t.wg.Add(1)
		go t.flushLoop()
	}

	return t, nil
}

// RecordAccess records a touch on path. It never fails: persistence
// problems are logged, not surfaced, so tracking cannot block the
// caller's primary operation.
func (t *Tracker) RecordAccess(path string, agentID types.LastToucher, op types.Operation, contextNote string) {
	now := t.now()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	p, ok := t.patterns[path]
	if !ok {
		p = &types.AccessPattern{
			Path:          path,
			FirstAccessed: now,
		}
		t.patterns[path] = p
	} else {
		interval := now.Sub(p.LastAccessed)
		gaps := p.AccessCount // gaps observed after this access
		p.AvgAccessInterval = time.Duration(
			(int64(p.AvgAccessInterval)*int64(gaps-1) + int64(interval)) / int64(gaps),
		)
	}
	p.AccessCount++
	p.LastAccessed = now
	if agentID != "" {
		p.AgentID = agentID
	}

	t.ring.append(types.AccessEvent{
		ID:        uuid.New().String(),
		Path:      path,
		Timestamp: now,
		AgentID:   agentID,
		Operation: op,
		Context:   contextNote,
	})
	t.refreshRecentLocked(now)

	t.pending++
	requestFlush := t.pending >= t.config.FlushThreshold
	if requestFlush {
		t.pending = 0
	}
	t.mu.Unlock()

	if requestFlush && t.config.BaseDir != "" {
		select {
		case t.flushCh <- struct{}{}:
		default: // a flush is already queued
		}
	}
}

// refreshRecentLocked recomputes recent-access counts for all patterns
// from the event log. Counts are clamped to AccessCount so the
// invariant AccessCount >= RecentAccessCount survives partial state
// reloads.
func (t *Tracker) refreshRecentLocked(now time.Time) {
	counts := t.ring.countsSince(now.Add(-t.config.RecentWindow))
	for path, p := range t.patterns {
		c := counts[path]
		if c > p.AccessCount {
			c = p.AccessCount
		}
		p.RecentAccessCount = c
	}
}

// GetTopPatterns returns up to limit patterns ordered by composite
// score, favoring recent repeated use over lifetime frequency.
func (t *Tracker) GetTopPatterns(limit int) []types.AccessPattern {
	now := t.now()

	t.mu.Lock()
	t.refreshRecentLocked(now)
	out := make([]types.AccessPattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		out = append(out, *p)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CompositeScore(now) > out[j].CompositeScore(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetPatternsByAgent returns the patterns last touched by agentID,
// ordered by access count descending.
func (t *Tracker) GetPatternsByAgent(agentID types.LastToucher) []types.AccessPattern {
	t.mu.RLock()
	out := make([]types.AccessPattern, 0)
	for _, p := range t.patterns {
		if p.AgentID == agentID {
			out = append(out, *p)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].AccessCount > out[j].AccessCount
	})
	return out
}

// GetRecentPatterns returns patterns accessed within the last N days,
// most recent first.
func (t *Tracker) GetRecentPatterns(days int) []types.AccessPattern {
	cutoff := t.now().Add(-time.Duration(days) * 24 * time.Hour)

	t.mu.RLock()
	out := make([]types.AccessPattern, 0)
	for _, p := range t.patterns {
		if !p.LastAccessed.Before(cutoff) {
			out = append(out, *p)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out
}

// Prediction pairs a pattern with its predicted-need score.
type Prediction struct {
	Pattern types.AccessPattern `json:"pattern"`
	Score   float64             `json:"score"`
}

// predictionWindow is the tolerance around a pattern's historical
// average interval within which the next access is considered due.
const predictionWindow = 2 * time.Hour

// PredictNextPatterns ranks patterns by how likely they are to be
// needed next: 40% recent-access density, 30% expected-next-access
// proximity, 20% same-agent match, 10% sub-hour freshness. Only
// patterns scoring above 20 are returned, capped at 10.
func (t *Tracker) PredictNextPatterns(currentAgent types.LastToucher) []Prediction {
	now := t.now()

	t.mu.Lock()
	t.refreshRecentLocked(now)
	preds := make([]Prediction, 0, len(t.patterns))
	for _, p := range t.patterns {
		score := predictScore(p, currentAgent, now)
		if score > 20 {
			preds = append(preds, Prediction{Pattern: *p, Score: score})
		}
	}
	t.mu.Unlock()

	sort.Slice(preds, func(i, j int) bool {
		return preds[i].Score > preds[j].Score
	})
	if len(preds) > 10 {
		preds = preds[:10]
	}
	return preds
}

func predictScore(p *types.AccessPattern, currentAgent types.LastToucher, now time.Time) float64 {
	density := float64(p.RecentAccessCount)
	if density > 10 {
		density = 10
	}
	score := density / 10 * 40

	if p.AvgAccessInterval > 0 {
		sinceLast := now.Sub(p.LastAccessed)
		diff := sinceLast - p.AvgAccessInterval
		if diff < 0 {
			diff = -diff
		}
		if diff <= predictionWindow {
			score += 30
		}
	}
	if currentAgent != "" && p.AgentID == currentAgent {
		score += 20
	}
	if now.Sub(p.LastAccessed) < time.Hour {
		score += 10
	}
	return score
}

// Cleanup purges patterns untouched for longer than maxAge and returns
// the number removed.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)

	t.mu.Lock()
	removed := 0
	for path, p := range t.patterns {
		if p.LastAccessed.Before(cutoff) {
			delete(t.patterns, path)
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.requestFlush()
	}
	return removed
}

// RecentCounts returns per-path access counts within the trailing
// window, computed from the event log.
func (t *Tracker) RecentCounts(window time.Duration) map[string]int {
	cutoff := t.now().Add(-window)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ring.countsSince(cutoff)
}

// Events returns a chronological snapshot of the event log.
func (t *Tracker) Events() []types.AccessEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ring.snapshot()
}

// Stats summarizes tracker state.
type Stats struct {
	PatternCount int `json:"pattern_count"`
	EventCount   int `json:"event_count"`
}

// GetStats returns tracker statistics.
func (t *Tracker) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		PatternCount: len(t.patterns),
		EventCount:   t.ring.size,
	}
}

// Close flushes pending state and stops the background flusher.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.config.BaseDir != "" {
		close(t.stopCh)
		t.wg.Wait()
		return t.saveState()
	}
	return nil
}

func (t *Tracker) requestFlush() {
	if t.config.BaseDir == "" {
		return
	}
	select {
	case t.flushCh <- struct{}{}:
	default:
	}
}

// flushLoop persists state on demand or on interval, rate-limited to
// bound disk I/O. Skipped or delayed flushes only degrade statistics
// freshness, never correctness.
func (t *Tracker) flushLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.flushCh:
			if t.limiter.Allow() {
				t.persist()
			}
		case <-ticker.C:
			t.persist()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) persist() {
	if err := t.saveState(); err != nil {
		t.logger.Warn("failed to persist tracker state", zap.Error(err))
	}
}

type trackerState struct {
	Patterns map[string]*types.AccessPattern `json:"patterns"`
	Events   []types.AccessEvent             `json:"events"`
}

func (t *Tracker) saveState() error {
	t.mu.RLock()
	state := trackerState{
		Patterns: make(map[string]*types.AccessPattern, len(t.patterns)),
		Events:   t.ring.snapshot(),
	}
	for path, p := range t.patterns {
		cp := *p
		state.Patterns[path] = &cp
	}
	t.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: temp file then rename.
	statePath := filepath.Join(t.config.BaseDir, stateFileName)
	tempPath := statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, statePath)
}

func (t *Tracker) loadState() error {
	data, err := os.ReadFile(filepath.Join(t.config.BaseDir, stateFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var state trackerState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Patterns != nil {
		t.patterns = state.Patterns
	}
	t.ring.load(state.Events)
	return nil
}

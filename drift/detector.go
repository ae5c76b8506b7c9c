package drift

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratahq/strata/types"
)

// recentWindow caps the task and agent histories handed to checks.
const recentWindow = 10

// Report is the aggregate drift assessment for a session.
type Report struct {
	OverallSeverity    types.DriftSeverity `json:"overall_severity"`
	DriftScore         int                 `json:"drift_score"` // 0-100
	Indicators         []Indicator         `json:"indicators"`
	Recommendations    []string            `json:"recommendations"`
	ShouldClearContext bool                `json:"should_clear_context"`
	TokenWasteEstimate int                 `json:"token_waste_estimate"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

// Config configures a Detector.
type Config struct {
	// ClearScoreThreshold is the drift score at or above which the
	// detector recommends clearing context.
	ClearScoreThreshold int `yaml:"clear_score_threshold" json:"clear_score_threshold"`

	// Now overrides the clock, for tests.
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{ClearScoreThreshold: 70}
}

// Detector accumulates session activity and scores context drift.
type Detector struct {
	config Config
	checks []Check
	logger *zap.Logger
	now    func() time.Time

	mu               sync.Mutex
	messageCount     int
	fileFirstTouched map[string]int
	fileLastTouched  map[string]int
	recentTasks      []string
	recentAgents     []string
}

// New creates a Detector with the built-in check set.
func New(config Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ClearScoreThreshold <= 0 {
		config.ClearScoreThreshold = DefaultConfig().ClearScoreThreshold
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Detector{
		config:           config,
		checks:           DefaultChecks(),
		logger:           logger.With(zap.String("component", "drift_detector")),
		now:              nowFn,
		fileFirstTouched: make(map[string]int),
		fileLastTouched:  make(map[string]int),
	}
}

// Register adds a custom check to the detector.
func (d *Detector) Register(c Check) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks = append(d.checks, c)
}

// TrackMessage records one conversation turn.
func (d *Detector) TrackMessage() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageCount++
}

// TrackFileAccess records that a file entered or re-entered context.
func (d *Detector) TrackFileAccess(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fileFirstTouched[path]; !ok {
		d.fileFirstTouched[path] = d.messageCount
	}
	d.fileLastTouched[path] = d.messageCount
}

// TrackTask records a task the session started working on.
func (d *Detector) TrackTask(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recentTasks = appendCapped(d.recentTasks, taskID, recentWindow)
}

// TrackAgentActivation records an agent taking over the session.
func (d *Detector) TrackAgentActivation(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recentAgents = appendCapped(d.recentAgents, agentID, recentWindow)
}

// Detect runs every check against the current session state and
// aggregates the indicators into a report.
func (d *Detector) Detect(currentTokens int) Report {
	d.mu.Lock()
	snapshot := d.snapshotLocked(currentTokens)
	checks := d.checks
	d.mu.Unlock()

	report := Report{
		GeneratedAt: d.now(),
	}

	critical := false
	for _, check := range checks {
		for _, ind := range check.Evaluate(snapshot) {
			report.Indicators = append(report.Indicators, ind)
			report.DriftScore += ind.Severity.Points()
			if ind.Severity == types.SeverityCritical {
				critical = true
			}
			report.TokenWasteEstimate += wasteEstimate(ind, currentTokens)
			if rec := recommendationFor(ind.Type); rec != "" {
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
	}
	if report.DriftScore > 100 {
		report.DriftScore = 100
	}

	// The overall grade follows the aggregate score, not the worst
	// indicator; a lone critical indicator still forces a clear.
	report.OverallSeverity = severityForScore(report.DriftScore)
	report.ShouldClearContext = report.DriftScore >= d.config.ClearScoreThreshold || critical
	if report.ShouldClearContext {
		d.logger.Info("context drift detected",
			zap.Int("drift_score", report.DriftScore),
			zap.String("severity", string(report.OverallSeverity)),
			zap.Int("waste_estimate", report.TokenWasteEstimate))
	}
	return report
}

// Reset clears all tracked session state. Safe to call repeatedly.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageCount = 0
	d.fileFirstTouched = make(map[string]int)
	d.fileLastTouched = make(map[string]int)
	d.recentTasks = nil
	d.recentAgents = nil
}

func (d *Detector) snapshotLocked(currentTokens int) *Snapshot {
	s := &Snapshot{
		MessageCount:     d.messageCount,
		CurrentTokens:    currentTokens,
		FileFirstTouched: make(map[string]int, len(d.fileFirstTouched)),
		FileLastTouched:  make(map[string]int, len(d.fileLastTouched)),
		RecentTasks:      append([]string(nil), d.recentTasks...),
		RecentAgents:     append([]string(nil), d.recentAgents...),
	}
	for k, v := range d.fileFirstTouched {
		s.FileFirstTouched[k] = v
	}
	for k, v := range d.fileLastTouched {
		s.FileLastTouched[k] = v
	}
	return s
}

// severityForScore maps the aggregate drift score onto an overall
// severity grade.
func severityForScore(score int) types.DriftSeverity {
	switch {
	case score >= 80:
		return types.SeverityCritical
	case score >= 60:
		return types.SeverityHigh
	case score >= 30:
		return types.SeverityMedium
	case score >= 10:
		return types.SeverityLow
	default:
		return types.SeverityNone
	}
}

// wasteEstimate approximates how many context tokens an indicator
// represents: a flat per-file cost for stale references, and a share
// of the live context for behavioral symptoms.
func wasteEstimate(ind Indicator, currentTokens int) int {
	switch ind.Type {
	case "file_staleness":
		return 500 * len(ind.Evidence)
	case "abandoned_files":
		return 300 * len(ind.Evidence)
	case "task_switching":
		return currentTokens / 10
	case "conversation_depth":
		return currentTokens / 4
	case "agent_switching":
		return currentTokens / 20
	default:
		return 0
	}
}

func recommendationFor(indicatorType string) string {
	switch indicatorType {
	case "file_staleness":
		return "drop stale file references before continuing"
	case "abandoned_files":
		return "remove files that were only relevant to the opening task"
	case "task_switching":
		return "extract completed task outcomes and narrow focus to the current task"
	case "conversation_depth":
		return "summarize the conversation and start from the summary"
	case "agent_switching":
		return "consolidate agent handoffs; retain only the active agent's working set"
	default:
		return ""
	}
}

func appendCapped(items []string, item string, limit int) []string {
	items = append(items, item)
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}

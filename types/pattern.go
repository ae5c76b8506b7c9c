package types

import "time"

// Operation classifies a touch on a knowledge item.
type Operation string

const (
	OpView   Operation = "view"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// LastToucher is the ID of the most recent agent to touch a pattern.
// It is a single value overwritten on every access, not a set of
// contributors. Downstream ranking assumes a single value; widen to a
// contributor set only if multi-agent attribution becomes a requirement.
type LastToucher string

// AccessPattern is the rolled-up access statistics for one
// knowledge-item path. It is a derived, mutable rollup; the event log
// is the source of truth for recency windows.
//
// Invariants: AccessCount >= RecentAccessCount >= 0 and
// LastAccessed >= FirstAccessed.
type AccessPattern struct {
	Path              string        `json:"path"`
	AccessCount       int           `json:"access_count"`
	FirstAccessed     time.Time     `json:"first_accessed"`
	LastAccessed      time.Time     `json:"last_accessed"`
	AvgAccessInterval time.Duration `json:"avg_access_interval"`
	RecentAccessCount int           `json:"recent_access_count"`
	AgentID           LastToucher   `json:"agent_id,omitempty"`
}

// RecencyScore maps the age of the last access onto a step function:
// 100 if under an hour, 80 under a day, 50 under a week, 20 under 30
// days, else 0.
func (p *AccessPattern) RecencyScore(now time.Time) float64 {
	age := now.Sub(p.LastAccessed)
	switch {
	case age < time.Hour:
		return 100
	case age < 24*time.Hour:
		return 80
	case age < 7*24*time.Hour:
		return 50
	case age < 30*24*time.Hour:
		return 20
	default:
		return 0
	}
}

// CompositeScore ranks a pattern for working-context relevance. Recent
// repeated use is weighted over raw lifetime frequency because working
// relevance decays faster than archival relevance.
func (p *AccessPattern) CompositeScore(now time.Time) float64 {
	return 0.6*float64(p.RecentAccessCount) +
		0.3*float64(p.AccessCount) +
		0.1*p.RecencyScore(now)
}

// AccessEvent is an immutable log entry for a single touch. Events are
// held in an append-only ring buffer; the oldest entries drop first.
type AccessEvent struct {
	ID        string      `json:"id"`
	Path      string      `json:"path"`
	Timestamp time.Time   `json:"timestamp"`
	AgentID   LastToucher `json:"agent_id,omitempty"`
	Operation Operation   `json:"operation"`
	Context   string      `json:"context,omitempty"`
}

// DriftSeverity grades a drift indicator or an overall drift result.
type DriftSeverity string

const (
	SeverityNone     DriftSeverity = "none"
	SeverityLow      DriftSeverity = "low"
	SeverityMedium   DriftSeverity = "medium"
	SeverityHigh     DriftSeverity = "high"
	SeverityCritical DriftSeverity = "critical"
)

// Points returns an indicator's contribution to the aggregate drift
// score.
func (s DriftSeverity) Points() int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 25
	case SeverityMedium:
		return 15
	case SeverityLow:
		return 5
	default:
		return 0
	}
}

// atLeast orders severities for comparisons.
var severityRank = map[DriftSeverity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as other.
func (s DriftSeverity) AtLeast(other DriftSeverity) bool {
	return severityRank[s] >= severityRank[other]
}

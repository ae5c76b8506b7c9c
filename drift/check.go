package drift

import (
	"fmt"

	"github.com/stratahq/strata/types"
)

// Indicator is one detected drift symptom.
type Indicator struct {
	Type        string              `json:"type"`
	Severity    types.DriftSeverity `json:"severity"`
	Description string              `json:"description"`
	Evidence    []string            `json:"evidence,omitempty"`
}

// Snapshot is an immutable copy of session state handed to checks.
type Snapshot struct {
	MessageCount     int
	CurrentTokens    int
	FileFirstTouched map[string]int // path -> message index of first access
	FileLastTouched  map[string]int // path -> message index of last access
	RecentTasks      []string       // most recent last
	RecentAgents     []string       // most recent last
}

// Check evaluates one drift symptom against a session snapshot.
// Additional checks can be registered on the Detector to extend
// detection without touching the aggregation logic.
type Check interface {
	Name() string
	Evaluate(s *Snapshot) []Indicator
}

// staleWindowMessages is how long a file reference may sit untouched
// before it counts as stale.
const staleWindowMessages = 50

// fileStalenessCheck flags files that were pulled into context but
// have not been touched for a long stretch of conversation.
type fileStalenessCheck struct{}

func (fileStalenessCheck) Name() string { return "file_staleness" }

func (fileStalenessCheck) Evaluate(s *Snapshot) []Indicator {
	var stale []string
	for path, last := range s.FileLastTouched {
		if s.MessageCount-last >= staleWindowMessages {
			stale = append(stale, path)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	severity := types.SeverityLow
	switch {
	case len(stale) > 10:
		severity = types.SeverityHigh
	case len(stale) > 5:
		severity = types.SeverityMedium
	}
	return []Indicator{{
		Type:        "file_staleness",
		Severity:    severity,
		Description: fmt.Sprintf("%d file references untouched for %d+ messages", len(stale), staleWindowMessages),
		Evidence:    stale,
	}}
}

// taskSwitchCheck flags sessions cycling through many distinct tasks.
type taskSwitchCheck struct{}

func (taskSwitchCheck) Name() string { return "task_switching" }

func (taskSwitchCheck) Evaluate(s *Snapshot) []Indicator {
	distinct := distinctCount(s.RecentTasks)
	if distinct < 5 {
		return nil
	}

	severity := types.SeverityLow
	switch {
	case distinct > 8:
		severity = types.SeverityHigh
	case distinct > 5:
		severity = types.SeverityMedium
	}
	return []Indicator{{
		Type:        "task_switching",
		Severity:    severity,
		Description: fmt.Sprintf("%d distinct tasks across the last %d task events", distinct, len(s.RecentTasks)),
	}}
}

// conversationDepthCheck flags very long conversations, where early
// context is usually no longer relevant.
type conversationDepthCheck struct{}

func (conversationDepthCheck) Name() string { return "conversation_depth" }

func (conversationDepthCheck) Evaluate(s *Snapshot) []Indicator {
	if s.MessageCount < 200 {
		return nil
	}

	severity := types.SeverityMedium
	switch {
	case s.MessageCount >= 300:
		severity = types.SeverityCritical
	case s.MessageCount >= 250:
		severity = types.SeverityHigh
	}
	return []Indicator{{
		Type:        "conversation_depth",
		Severity:    severity,
		Description: fmt.Sprintf("conversation is %d messages deep", s.MessageCount),
	}}
}

// agentSwitchCheck flags heavy churn between agents, since each
// activation drags its own working set into context.
type agentSwitchCheck struct{}

func (agentSwitchCheck) Name() string { return "agent_switching" }

func (agentSwitchCheck) Evaluate(s *Snapshot) []Indicator {
	distinct := distinctCount(s.RecentAgents)
	if distinct < 4 {
		return nil
	}

	severity := types.SeverityMedium
	if distinct >= 7 {
		severity = types.SeverityHigh
	}
	return []Indicator{{
		Type:        "agent_switching",
		Severity:    severity,
		Description: fmt.Sprintf("%d distinct agents across the last %d activations", distinct, len(s.RecentAgents)),
	}}
}

// abandonedFilesCheck flags files touched only in the opening stretch
// of a long session and never revisited.
type abandonedFilesCheck struct{}

func (abandonedFilesCheck) Name() string { return "abandoned_files" }

func (abandonedFilesCheck) Evaluate(s *Snapshot) []Indicator {
	if s.MessageCount < 100 {
		return nil
	}

	var abandoned []string
	for path, first := range s.FileFirstTouched {
		if first < 20 && s.FileLastTouched[path] == first {
			abandoned = append(abandoned, path)
		}
	}
	if len(abandoned) < 3 {
		return nil
	}
	return []Indicator{{
		Type:        "abandoned_files",
		Severity:    types.SeverityLow,
		Description: fmt.Sprintf("%d files touched only in the first 20 messages", len(abandoned)),
		Evidence:    abandoned,
	}}
}

// obsoletePatternsCheck is a reserved slot for flagging context whose
// access pattern has gone obsolete. It currently reports nothing; it
// stays registered so the slot keeps its name and ordering when a
// heuristic lands.
type obsoletePatternsCheck struct{}

func (obsoletePatternsCheck) Name() string { return "obsolete_patterns" }

func (obsoletePatternsCheck) Evaluate(*Snapshot) []Indicator { return nil }

// DefaultChecks returns the built-in check set.
func DefaultChecks() []Check {
	return []Check{
		fileStalenessCheck{},
		taskSwitchCheck{},
		conversationDepthCheck{},
		agentSwitchCheck{},
		obsoletePatternsCheck{},
		abandonedFilesCheck{},
	}
}

func distinctCount(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it] = struct{}{}
	}
	return len(seen)
}

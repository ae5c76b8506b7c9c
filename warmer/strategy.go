package warmer

import (
	"strings"
	"time"

	"github.com/stratahq/strata/types"
)

// Candidate is a warming candidate: a tracker pattern plus the
// event-log access count for the trailing 24 hours.
type Candidate struct {
	Pattern     types.AccessPattern
	DayAccesses int
}

// Strategy decides whether a candidate is worth pre-loading. A
// candidate's score is the sum of the priorities of every strategy that
// matches it.
type Strategy struct {
	Name     string
	Priority int
	Matches  func(c Candidate, agentID types.LastToucher, now time.Time) bool
}

// DefaultStrategies returns the built-in strategy set, highest priority
// first. corePrefix marks reserved core-knowledge paths that are always
// worth keeping warm.
func DefaultStrategies(corePrefix string) []Strategy {
	return []Strategy{
		{
			Name:     "high_frequency",
			Priority: 10,
			Matches: func(c Candidate, _ types.LastToucher, _ time.Time) bool {
				return c.Pattern.RecentAccessCount >= 10
			},
		},
		{
			Name:     "recent_hot",
			Priority: 9,
			Matches: func(c Candidate, _ types.LastToucher, _ time.Time) bool {
				return c.DayAccesses >= 3
			},
		},
		{
			Name:     "agent_specific",
			Priority: 8,
			Matches: func(c Candidate, agentID types.LastToucher, now time.Time) bool {
				return agentID != "" && c.Pattern.AgentID == agentID &&
					now.Sub(c.Pattern.LastAccessed) <= 14*24*time.Hour
			},
		},
		{
			Name:     "session_continuation",
			Priority: 7,
			Matches: func(c Candidate, _ types.LastToucher, now time.Time) bool {
				return now.Sub(c.Pattern.LastAccessed) <= 4*time.Hour
			},
		},
		{
			Name:     "project_essentials",
			Priority: 6,
			Matches: func(c Candidate, _ types.LastToucher, _ time.Time) bool {
				return corePrefix != "" && strings.HasPrefix(c.Pattern.Path, corePrefix)
			},
		},
	}
}

// agentBonus is added to a candidate's score when its last toucher is
// the agent requesting the warm pass.
const agentBonus = 5

// scoreCandidate sums the priorities of all matching strategies.
func scoreCandidate(strategies []Strategy, c Candidate, agentID types.LastToucher, now time.Time) int {
	score := 0
	for _, st := range strategies {
		if st.Matches(c, agentID, now) {
			score += st.Priority
		}
	}
	if score > 0 && agentID != "" && c.Pattern.AgentID == agentID {
		score += agentBonus
	}
	return score
}

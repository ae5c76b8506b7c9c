package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/stratahq/strata/types"
)

// Entry is the per-item bookkeeping record. Content is materialized in
// memory only for hot entries; warm and cold content lives on disk.
type Entry struct {
	Path         string      `json:"path"`
	Tier         types.Tier  `json:"tier"`
	CreatedAt    time.Time   `json:"created_at"`
	LastAccessed time.Time   `json:"last_accessed"`
	AccessCount  int         `json:"access_count"`
	SizeBytes    int64       `json:"size_bytes"`
	AgentID      types.LastToucher `json:"agent_id,omitempty"`

	// RecentAccesses holds the timestamps backing the promotion
	// predicates (3-in-24h, 5-in-7d). Pruned past seven days.
	RecentAccesses []time.Time `json:"recent_accesses,omitempty"`
}

// touch records an access and prunes the recent-access window.
func (e *Entry) touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
	e.RecentAccesses = append(e.RecentAccesses, now)
	e.pruneRecent(now)
}

func (e *Entry) pruneRecent(now time.Time) {
	cutoff := now.Add(-7 * 24 * time.Hour)
	kept := e.RecentAccesses[:0]
	for _, ts := range e.RecentAccesses {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.RecentAccesses = kept
}

// accessesWithin counts recent accesses inside the trailing window.
func (e *Entry) accessesWithin(window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, ts := range e.RecentAccesses {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// contentFileName derives the on-disk file name for a path. Paths are
// namespace-scoped and may contain separators, so they are hashed.
func contentFileName(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:8])
}

package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/stratahq/strata/types"
)

// MigrationResult reports a migration sweep. Per-item failures are
// collected in Errors and never abort sibling items.
type MigrationResult struct {
	HotToWarm  int      `json:"hot_to_warm"`
	WarmToCold int      `json:"warm_to_cold"`
	ColdToWarm int      `json:"cold_to_warm"`
	Errors     []string `json:"errors,omitempty"`
}

// RunMigration applies age-based demotion to every entry and re-warms
// cold entries with recent accesses. Each item move is atomic relative
// to that item; the sweep as a whole is best-effort and interruptible.
func (s *TieredStore) RunMigration(ctx context.Context) (MigrationResult, error) {
	ctx, span := s.tracer.Start(ctx, "store.migration")
	defer span.End()

	now := s.now()
	var result MigrationResult

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return result, types.ErrStoreClosed
	}

	// Snapshot paths so moves during the sweep cannot skew iteration.
	paths := make([]string, 0, len(s.entries))
	for path := range s.entries {
		paths = append(paths, path)
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			break // interrupted: every completed move already landed
		}
		e, ok := s.entries[path]
		if !ok {
			continue
		}
		age := now.Sub(e.LastAccessed)

		switch e.Tier {
		case types.TierHot:
			if age > s.config.HotMaxAge {
				if err := s.demoteLocked(e, types.TierWarm); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				result.HotToWarm++
			}

		case types.TierWarm:
			if age > s.config.WarmMaxAge {
				if err := s.demoteLocked(e, types.TierCold); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				result.WarmToCold++
			}

		case types.TierCold:
			// Re-warm cold entries that have seen any recent access so
			// the next retrieval avoids the decompression path.
			if e.accessesWithin(s.config.WarmPromoteWindow, now) > 0 {
				if err := s.promoteColdLocked(e, types.TierWarm); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				result.ColdToWarm++
			}
		}
	}

	s.saveIndexLocked()
	span.SetAttributes(
		attribute.Int("migration.hot_to_warm", result.HotToWarm),
		attribute.Int("migration.warm_to_cold", result.WarmToCold),
		attribute.Int("migration.cold_to_warm", result.ColdToWarm),
	)
	s.logger.Debug("migration sweep completed",
		zap.Int("hot_to_warm", result.HotToWarm),
		zap.Int("warm_to_cold", result.WarmToCold),
		zap.Int("cold_to_warm", result.ColdToWarm),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// demoteLocked moves an entry down one tier, sourcing content from the
// entry's current tier.
func (s *TieredStore) demoteLocked(e *Entry, to types.Tier) error {
	content, err := s.currentContentLocked(e)
	if err != nil {
		return err
	}
	return s.moveTierLocked(e, to, content)
}

// promoteColdLocked lifts a cold entry, decompressing its content.
func (s *TieredStore) promoteColdLocked(e *Entry, to types.Tier) error {
	content, err := s.currentContentLocked(e)
	if err != nil {
		return err
	}
	return s.moveTierLocked(e, to, content)
}

// currentContentLocked reads the authoritative content for an entry
// from its current tier, decompressing cold data.
func (s *TieredStore) currentContentLocked(e *Entry) (string, error) {
	if e.Tier == types.TierHot {
		return s.hot[e.Path], nil
	}
	data, err := s.readContent(e)
	if err != nil {
		return "", err
	}
	if e.Tier == types.TierCold {
		raw, err := s.codec.decompress(data)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return string(data), nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stratahq/strata/types"
)

const indexFileName = "tier_index.json"

// TieBreak selects how LRU eviction ties are broken when the hot tier
// is over budget. The default prefers evicting the entry with the
// lowest access count.
type TieBreak string

const (
	TieBreakAccessCount TieBreak = "access_count"
	TieBreakOldest      TieBreak = "created_at"
)

// Recorder receives placement observations. Implementations must be
// cheap; calls happen under the store lock.
type Recorder interface {
	TierHit(tier types.Tier)
	TierMiss()
	TierMove(from, to types.Tier)
}

// Config configures the tiered store.
type Config struct {
	// BaseDir is the root directory for tier content and the index.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// HotMaxAge demotes hot entries untouched this long to warm.
	HotMaxAge time.Duration `yaml:"hot_max_age" json:"hot_max_age"`

	// WarmMaxAge demotes warm entries untouched this long to cold.
	WarmMaxAge time.Duration `yaml:"warm_max_age" json:"warm_max_age"`

	// HotMaxSizeBytes is the hot tier byte budget; exceeding it evicts
	// least-recently-used hot entries to warm.
	HotMaxSizeBytes int64 `yaml:"hot_max_size_bytes" json:"hot_max_size_bytes"`

	// ColdPromoteAccesses within ColdPromoteWindow promotes a cold
	// entry straight to hot on retrieval.
	ColdPromoteAccesses int           `yaml:"cold_promote_accesses" json:"cold_promote_accesses"`
	ColdPromoteWindow   time.Duration `yaml:"cold_promote_window" json:"cold_promote_window"`

	// WarmPromoteAccesses within WarmPromoteWindow promotes a warm
	// entry to hot on retrieval.
	WarmPromoteAccesses int           `yaml:"warm_promote_accesses" json:"warm_promote_accesses"`
	WarmPromoteWindow   time.Duration `yaml:"warm_promote_window" json:"warm_promote_window"`

	// EvictionTieBreak breaks LRU ties during hot-tier eviction.
	EvictionTieBreak TieBreak `yaml:"eviction_tie_break" json:"eviction_tie_break"`

	// Metrics optionally receives placement observations.
	Metrics Recorder `yaml:"-" json:"-"`

	// Now overrides the clock, for tests.
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HotMaxAge:           7 * 24 * time.Hour,
		WarmMaxAge:          30 * 24 * time.Hour,
		HotMaxSizeBytes:     64 << 20,
		ColdPromoteAccesses: 3,
		ColdPromoteWindow:   24 * time.Hour,
		WarmPromoteAccesses: 5,
		WarmPromoteWindow:   7 * 24 * time.Hour,
		EvictionTieBreak:    TieBreakAccessCount,
	}
}

// TieredStore places knowledge items across hot, warm, and cold tiers.
type TieredStore struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	codec  *codec

	mu       sync.RWMutex
	entries  map[string]*Entry
	hot      map[string]string // materialized hot content
	hotBytes int64
	closed   bool
}

// New creates a TieredStore rooted at Config.BaseDir, reloading the
// tier index and hot content from a previous run.
func New(config Config, logger *zap.Logger) (*TieredStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.BaseDir == "" {
		return nil, types.NewError(types.ErrCodeInvalidInput, "store base dir is required")
	}
	if config.HotMaxAge <= 0 {
		config.HotMaxAge = def.HotMaxAge
	}
	if config.WarmMaxAge <= 0 {
		config.WarmMaxAge = def.WarmMaxAge
	}
	if config.HotMaxSizeBytes <= 0 {
		config.HotMaxSizeBytes = def.HotMaxSizeBytes
	}
	if config.ColdPromoteAccesses <= 0 {
		config.ColdPromoteAccesses = def.ColdPromoteAccesses
	}
	if config.ColdPromoteWindow <= 0 {
		config.ColdPromoteWindow = def.ColdPromoteWindow
	}
	if config.WarmPromoteAccesses <= 0 {
		config.WarmPromoteAccesses = def.WarmPromoteAccesses
	}
	if config.WarmPromoteWindow <= 0 {
		config.WarmPromoteWindow = def.WarmPromoteWindow
	}
	if config.EvictionTieBreak == "" {
		config.EvictionTieBreak = def.EvictionTieBreak
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	for _, tier := range types.Tiers() {
		if err := os.MkdirAll(filepath.Join(config.BaseDir, string(tier)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s tier dir: %w", tier, err)
		}
	}

	c, err := newCodec()
	if err != nil {
		return nil, err
	}

	s := &TieredStore{
		config:  config,
		logger:  logger.With(zap.String("component", "tiered_store")),
		tracer:  otel.Tracer("strata/store"),
		now:     nowFn,
		codec:   c,
		entries: make(map[string]*Entry),
		hot:     make(map[string]string),
	}

	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("load tier index: %w", err)
	}
	return s, nil
}

// Store writes content for path. New and updated content always lands
// in the hot tier; the hot tier is trimmed to budget afterwards.
func (s *TieredStore) Store(ctx context.Context, path, content string, agentID types.LastToucher) error {
	_, span := s.tracer.Start(ctx, "store.store",
		trace.WithAttributes(attribute.String("knowledge.path", path)))
	defer span.End()

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStoreClosed
	}

	e, exists := s.entries[path]
	if exists {
		// Remove the previous authoritative copy before the hot write
		// so the item is never present in two tiers.
		switch e.Tier {
		case types.TierHot:
			s.hotBytes -= e.SizeBytes
			delete(s.hot, path)
		case types.TierWarm, types.TierCold:
			s.removeContent(e)
		}
	} else {
		e = &Entry{Path: path, CreatedAt: now}
		s.entries[path] = e
	}

	e.Tier = types.TierHot
	e.SizeBytes = int64(len(content))
	e.AgentID = agentID
	// Placement is not an access: AccessCount tracks retrievals, so a
	// freshly stored item reads back with a count of exactly one.
	e.LastAccessed = now

	if err := s.writeContent(e, content); err != nil {
		delete(s.entries, path)
		return types.NewError(types.ErrCodePersistence, "write hot content").WithPath(path).WithCause(err)
	}
	s.hot[path] = content
	s.hotBytes += e.SizeBytes

	s.evictOverBudgetLocked(path)
	s.saveIndexLocked()
	return nil
}

// Retrieve returns the content for path, promoting warm and cold hits
// that satisfy the frequency predicates. Missing paths return
// types.ErrNotFound.
func (s *TieredStore) Retrieve(ctx context.Context, path string) (string, error) {
	_, span := s.tracer.Start(ctx, "store.retrieve",
		trace.WithAttributes(attribute.String("knowledge.path", path)))
	defer span.End()

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", types.ErrStoreClosed
	}

	e, ok := s.entries[path]
	if !ok {
		s.recordMiss()
		return "", types.ErrNotFound
	}

	// Touch before evaluating promotion so the predicate sees the
	// access that triggered it.
	e.touch(now)
	s.recordHit(e.Tier)
	span.SetAttributes(attribute.String("knowledge.tier", string(e.Tier)))

	var content string
	switch e.Tier {
	case types.TierHot:
		content = s.hot[path]

	case types.TierWarm:
		data, err := s.readContent(e)
		if err != nil {
			return "", types.NewError(types.ErrCodePersistence, "read warm content").WithPath(path).WithCause(err)
		}
		content = string(data)
		if e.accessesWithin(s.config.WarmPromoteWindow, now) >= s.config.WarmPromoteAccesses {
			if err := s.moveTierLocked(e, types.TierHot, content); err != nil {
				s.logger.Warn("warm promotion failed", zap.String("path", path), zap.Error(err))
			}
		}

	case types.TierCold:
		data, err := s.readContent(e)
		if err != nil {
			return "", types.NewError(types.ErrCodePersistence, "read cold content").WithPath(path).WithCause(err)
		}
		raw, err := s.codec.decompress(data)
		if err != nil {
			return "", types.NewError(types.ErrCodePersistence, "decompress cold content").WithPath(path).WithCause(err)
		}
		content = string(raw)
		// Promotion-on-demand bypasses warm entirely.
		if e.accessesWithin(s.config.ColdPromoteWindow, now) >= s.config.ColdPromoteAccesses {
			if err := s.moveTierLocked(e, types.TierHot, content); err != nil {
				s.logger.Warn("cold promotion failed", zap.String("path", path), zap.Error(err))
			}
		}
	}

	s.saveIndexLocked()
	return content, nil
}

// Delete removes path from whichever tier holds it. Deleting a missing
// path is a no-op returning false.
func (s *TieredStore) Delete(ctx context.Context, path string) (bool, error) {
	_, span := s.tracer.Start(ctx, "store.delete",
		trace.WithAttributes(attribute.String("knowledge.path", path)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, types.ErrStoreClosed
	}

	e, ok := s.entries[path]
	if !ok {
		return false, nil
	}

	if e.Tier == types.TierHot {
		s.hotBytes -= e.SizeBytes
		delete(s.hot, path)
	}
	s.removeContent(e)
	delete(s.entries, path)
	s.saveIndexLocked()
	return true, nil
}

// Entry returns a copy of the bookkeeping record for path.
func (s *TieredStore) Entry(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// TierOf reports which tier currently holds path.
func (s *TieredStore) TierOf(path string) (types.Tier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return "", false
	}
	return e.Tier, true
}

// TierStats summarizes one tier.
type TierStats struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

// StoreStats summarizes the store.
type StoreStats struct {
	Tiers map[types.Tier]TierStats `json:"tiers"`
	Total int                      `json:"total"`
}

// GetStats returns per-tier entry counts and sizes.
func (s *TieredStore) GetStats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{Tiers: make(map[types.Tier]TierStats)}
	for _, e := range s.entries {
		ts := stats.Tiers[e.Tier]
		ts.Count++
		ts.Bytes += e.SizeBytes
		stats.Tiers[e.Tier] = ts
		stats.Total++
	}
	return stats
}

// Close persists the index and releases the store.
func (s *TieredStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveIndex()
}

// evictOverBudgetLocked demotes least-recently-used hot entries to warm
// until the hot tier fits its byte budget. Ties are broken by the
// configured tie-break. The entry named keep is never evicted so a
// fresh store cannot evict itself.
func (s *TieredStore) evictOverBudgetLocked(keep string) {
	for s.hotBytes > s.config.HotMaxSizeBytes {
		victim := s.pickEvictionVictimLocked(keep)
		if victim == nil {
			return
		}
		content := s.hot[victim.Path]
		if err := s.moveTierLocked(victim, types.TierWarm, content); err != nil {
			s.logger.Warn("hot eviction failed", zap.String("path", victim.Path), zap.Error(err))
			return
		}
	}
}

func (s *TieredStore) pickEvictionVictimLocked(keep string) *Entry {
	var victim *Entry
	for path, e := range s.entries {
		if e.Tier != types.TierHot || path == keep {
			continue
		}
		if victim == nil || s.evictBefore(e, victim) {
			victim = e
		}
	}
	return victim
}

// evictBefore reports whether a should be evicted before b: strictly
// least-recently-accessed first, tie-break as configured.
func (s *TieredStore) evictBefore(a, b *Entry) bool {
	if !a.LastAccessed.Equal(b.LastAccessed) {
		return a.LastAccessed.Before(b.LastAccessed)
	}
	if s.config.EvictionTieBreak == TieBreakOldest {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.AccessCount < b.AccessCount
}

// moveTierLocked moves an entry to another tier. The destination copy
// is written before the source copy is removed, and the index tier
// field flips in between, so the item is authoritative in exactly one
// tier at every step.
func (s *TieredStore) moveTierLocked(e *Entry, to types.Tier, content string) error {
	if e.Tier == to {
		return nil
	}
	if _, ok := s.entries[e.Path]; !ok {
		return types.ErrTierConflict
	}
	from := e.Tier

	prev := *e
	e.Tier = to
	if err := s.writeContent(e, content); err != nil {
		*e = prev
		return types.NewError(types.ErrCodePersistence, "write tier content").WithPath(e.Path).WithCause(err)
	}

	switch to {
	case types.TierHot:
		s.hot[e.Path] = content
		s.hotBytes += e.SizeBytes
	default:
		if from == types.TierHot {
			s.hotBytes -= e.SizeBytes
			delete(s.hot, e.Path)
		}
	}

	prevTierEntry := prev
	s.removeContent(&prevTierEntry)
	s.recordMove(from, to)

	if to == types.TierHot {
		s.evictOverBudgetLocked(e.Path)
	}
	return nil
}

func (s *TieredStore) contentPath(e *Entry) string {
	name := contentFileName(e.Path)
	if e.Tier == types.TierCold {
		name += ".zst"
	}
	return filepath.Join(s.config.BaseDir, string(e.Tier), name)
}

func (s *TieredStore) writeContent(e *Entry, content string) error {
	data := []byte(content)
	if e.Tier == types.TierCold {
		data = s.codec.compress(data)
	}
	path := s.contentPath(e)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (s *TieredStore) readContent(e *Entry) ([]byte, error) {
	return os.ReadFile(s.contentPath(e))
}

func (s *TieredStore) removeContent(e *Entry) {
	if err := os.Remove(s.contentPath(e)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove tier content",
			zap.String("path", e.Path), zap.String("tier", string(e.Tier)), zap.Error(err))
	}
}

func (s *TieredStore) recordHit(tier types.Tier) {
	if s.config.Metrics != nil {
		s.config.Metrics.TierHit(tier)
	}
}

func (s *TieredStore) recordMiss() {
	if s.config.Metrics != nil {
		s.config.Metrics.TierMiss()
	}
}

func (s *TieredStore) recordMove(from, to types.Tier) {
	if s.config.Metrics != nil {
		s.config.Metrics.TierMove(from, to)
	}
}

type indexState struct {
	Entries map[string]*Entry `json:"entries"`
}

// saveIndexLocked persists the index, logging rather than failing:
// index staleness degrades restart fidelity, not correctness.
func (s *TieredStore) saveIndexLocked() {
	if err := s.saveIndex(); err != nil {
		s.logger.Warn("failed to save tier index", zap.Error(err))
	}
}

func (s *TieredStore) saveIndex() error {
	data, err := json.MarshalIndent(indexState{Entries: s.entries}, "", "  ")
	if err != nil {
		return err
	}
	indexPath := filepath.Join(s.config.BaseDir, indexFileName)
	tempPath := indexPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, indexPath)
}

func (s *TieredStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.config.BaseDir, indexFileName))
	if os.IsNotExist(err) {
		return nil // cold start
	}
	if err != nil {
		return err
	}

	var state indexState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Entries == nil {
		return nil
	}
	s.entries = state.Entries

	// Rematerialize hot content from the hot tier directory.
	for path, e := range s.entries {
		if e.Tier != types.TierHot {
			continue
		}
		data, err := s.readContent(e)
		if err != nil {
			s.logger.Warn("hot content missing on restart, dropping entry",
				zap.String("path", path), zap.Error(err))
			delete(s.entries, path)
			continue
		}
		s.hot[path] = string(data)
		s.hotBytes += e.SizeBytes
	}
	return nil
}

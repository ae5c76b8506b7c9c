package warmer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stratahq/strata/types"
)

// PatternSource supplies access patterns to rank warming candidates.
// *tracker.Tracker satisfies it.
type PatternSource interface {
	GetTopPatterns(limit int) []types.AccessPattern
	GetPatternsByAgent(agentID types.LastToucher) []types.AccessPattern
	RecentCounts(window time.Duration) map[string]int
}

// ContentSource supplies item content for warming. *store.TieredStore
// satisfies it.
type ContentSource interface {
	Retrieve(ctx context.Context, path string) (string, error)
}

// Config configures the cache warmer.
type Config struct {
	// MaxItemsPerWarm caps how many items one warm pass may admit.
	MaxItemsPerWarm int `yaml:"max_items_per_warm" json:"max_items_per_warm"`

	// MaxTokensPerWarm is the total token budget for one warm pass.
	MaxTokensPerWarm int `yaml:"max_tokens_per_warm" json:"max_tokens_per_warm"`

	// Freshness is how long a warmed fragment stays reusable.
	Freshness time.Duration `yaml:"freshness" json:"freshness"`

	// CorePrefix marks reserved core-knowledge paths.
	CorePrefix string `yaml:"core_prefix" json:"core_prefix"`

	// Now overrides the clock, for tests.
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxItemsPerWarm:  10,
		MaxTokensPerWarm: 4000,
		Freshness:        time.Hour,
		CorePrefix:       "core/",
	}
}

// Result reports one warming pass. A single bad item never aborts the
// pass: missing items are skipped, read faults are collected.
type Result struct {
	ItemsWarmed        int           `json:"items_warmed"`
	TotalTokens        int           `json:"total_tokens"`
	HitRateImprovement float64       `json:"hit_rate_improvement"`
	Elapsed            time.Duration `json:"elapsed"`
	ItemsSkipped       int           `json:"items_skipped"`
	Errors             []string      `json:"errors,omitempty"`
}

// Warmer pre-loads knowledge items into the fragment cache.
type Warmer struct {
	patterns   PatternSource
	source     ContentSource
	cache      FragmentCache
	tokenizer  types.Tokenizer
	strategies []Strategy
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Warmer. cache defaults to an in-memory fragment cache,
// tokenizer to the len/4 estimator, and strategies to the built-in set.
func New(patterns PatternSource, source ContentSource, cache FragmentCache, tokenizer types.Tokenizer, config Config, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxItemsPerWarm <= 0 {
		config.MaxItemsPerWarm = def.MaxItemsPerWarm
	}
	if config.MaxTokensPerWarm <= 0 {
		config.MaxTokensPerWarm = def.MaxTokensPerWarm
	}
	if config.Freshness <= 0 {
		config.Freshness = def.Freshness
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	if cache == nil {
		cache = NewMemoryFragmentCache(nowFn)
	}
	if tokenizer == nil {
		tokenizer = types.NewEstimateTokenizer()
	}
	return &Warmer{
		patterns:   patterns,
		source:     source,
		cache:      cache,
		tokenizer:  tokenizer,
		strategies: DefaultStrategies(config.CorePrefix),
		config:     config,
		logger:     logger.With(zap.String("component", "warmer")),
		now:        nowFn,
	}
}

// SetStrategies replaces the strategy set.
func (w *Warmer) SetStrategies(strategies []Strategy) {
	w.strategies = strategies
}

// Warm runs a full warming pass for the given agent, admitting the
// highest-scored candidates under the item and token budgets.
func (w *Warmer) Warm(ctx context.Context, agentID types.LastToucher) Result {
	now := w.now()
	dayCounts := w.patterns.RecentCounts(24 * time.Hour)

	candidates := make([]scoredCandidate, 0)
	for _, p := range w.patterns.GetTopPatterns(0) {
		c := Candidate{Pattern: p, DayAccesses: dayCounts[p.Path]}
		score := scoreCandidate(w.strategies, c, agentID, now)
		if score > 0 {
			candidates = append(candidates, scoredCandidate{Candidate: c, Score: score})
		}
	}
	sortCandidates(candidates)
	return w.admit(ctx, candidates, now)
}

// WarmForAgent restricts candidates to the agent's own patterns (top
// five by access count), for use right before an agent activation.
func (w *Warmer) WarmForAgent(ctx context.Context, agentID types.LastToucher) Result {
	now := w.now()
	dayCounts := w.patterns.RecentCounts(24 * time.Hour)

	own := w.patterns.GetPatternsByAgent(agentID)
	if len(own) > 5 {
		own = own[:5]
	}
	candidates := make([]scoredCandidate, 0, len(own))
	for _, p := range own {
		c := Candidate{Pattern: p, DayAccesses: dayCounts[p.Path]}
		candidates = append(candidates, scoredCandidate{
			Candidate: c,
			Score:     scoreCandidate(w.strategies, c, agentID, now),
		})
	}
	sortCandidates(candidates)
	return w.admit(ctx, candidates, now)
}

// PrefetchContext describes the session state used to predict needed
// items.
type PrefetchContext struct {
	AgentID     types.LastToucher `json:"agent_id,omitempty"`
	RecentPaths []string          `json:"recent_paths,omitempty"`
	TaskType    string            `json:"task_type,omitempty"`
}

// IntelligentPrefetch predicts needed items from the current agent,
// directory proximity to recently touched paths, and task-type match,
// then delegates to the same budgeted admission.
func (w *Warmer) IntelligentPrefetch(ctx context.Context, pc PrefetchContext) Result {
	now := w.now()
	dayCounts := w.patterns.RecentCounts(24 * time.Hour)

	recentDirs := make(map[string]bool, len(pc.RecentPaths))
	for _, p := range pc.RecentPaths {
		recentDirs[dirOf(p)] = true
	}

	candidates := make([]scoredCandidate, 0)
	for _, p := range w.patterns.GetTopPatterns(0) {
		score := 0
		if pc.AgentID != "" && p.AgentID == pc.AgentID {
			score += 8
		}
		if recentDirs[dirOf(p.Path)] {
			score += 6
		}
		if pc.TaskType != "" && strings.Contains(p.Path, pc.TaskType) {
			score += 6
		}
		if now.Sub(p.LastAccessed) <= 4*time.Hour {
			score += 4
		}
		if score > 0 {
			candidates = append(candidates, scoredCandidate{
				Candidate: Candidate{Pattern: p, DayAccesses: dayCounts[p.Path]},
				Score:     score,
			})
		}
	}
	sortCandidates(candidates)
	return w.admit(ctx, candidates, now)
}

// GetFragment returns a warmed fragment for path if one is still fresh.
func (w *Warmer) GetFragment(ctx context.Context, path string) (Fragment, bool) {
	frag, ok, err := w.cache.Get(ctx, path)
	if err != nil {
		w.logger.Warn("fragment cache read failed", zap.String("path", path), zap.Error(err))
		return Fragment{}, false
	}
	if !ok || w.now().Sub(frag.WarmedAt) >= w.config.Freshness {
		return Fragment{}, false
	}
	return frag, true
}

// Invalidate drops fragments for the given paths.
func (w *Warmer) Invalidate(ctx context.Context, paths ...string) error {
	return w.cache.Invalidate(ctx, paths...)
}

// Reset drops every warmed fragment, typically after a context clear.
func (w *Warmer) Reset(ctx context.Context) error {
	return w.cache.Flush(ctx)
}

// Stats summarizes the prefetch buffer.
type Stats struct {
	FragmentCount int `json:"fragment_count"`
}

// GetStats returns warmer statistics.
func (w *Warmer) GetStats(ctx context.Context) Stats {
	n, err := w.cache.Len(ctx)
	if err != nil {
		w.logger.Warn("fragment cache len failed", zap.Error(err))
	}
	return Stats{FragmentCount: n}
}

type scoredCandidate struct {
	Candidate Candidate
	Score     int
}

func sortCandidates(cands []scoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Candidate.Pattern.AccessCount > cands[j].Candidate.Pattern.AccessCount
	})
}

// admit walks the ranked candidates and warms them greedily under the
// two-axis budget. Admission stops the instant the next candidate would
// exceed the token budget; there is no partial admission.
func (w *Warmer) admit(ctx context.Context, candidates []scoredCandidate, now time.Time) Result {
	start := time.Now()
	var result Result

	for _, sc := range candidates {
		if result.ItemsWarmed >= w.config.MaxItemsPerWarm {
			break
		}
		path := sc.Candidate.Pattern.Path

		// Reuse already-fresh fragments without re-reading the store.
		if frag, ok, err := w.cache.Get(ctx, path); err == nil && ok &&
			now.Sub(frag.WarmedAt) < w.config.Freshness {
			if result.TotalTokens+frag.EstimatedTokens > w.config.MaxTokensPerWarm {
				break
			}
			result.TotalTokens += frag.EstimatedTokens
			result.ItemsWarmed++
			continue
		}

		content, err := w.source.Retrieve(ctx, path)
		if errors.Is(err, types.ErrNotFound) {
			result.ItemsSkipped++
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		tokens := w.tokenizer.CountTokens(content)
		if result.TotalTokens+tokens > w.config.MaxTokensPerWarm {
			break
		}

		frag := Fragment{
			Path:            path,
			Content:         content,
			EstimatedTokens: tokens,
			WarmedAt:        now,
		}
		if err := w.cache.Put(ctx, frag, w.config.Freshness); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		result.TotalTokens += tokens
		result.ItemsWarmed++
	}

	if len(candidates) > 0 {
		result.HitRateImprovement = float64(result.ItemsWarmed) / float64(len(candidates)) * 0.3
	}
	result.Elapsed = time.Since(start)

	w.logger.Debug("warm pass completed",
		zap.Int("warmed", result.ItemsWarmed),
		zap.Int("tokens", result.TotalTokens),
		zap.Int("skipped", result.ItemsSkipped),
		zap.Int("errors", len(result.Errors)))
	return result
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Package warmer pre-loads a token-budgeted set of knowledge items into
// a fast-access prefetch buffer ahead of predicted need.
//
// Candidates come from tracker access patterns and are scored by a
// ranked set of pluggable strategies; admission is greedy under both an
// item-count cap and a total-token budget, because a handful of large
// items can exhaust a budget a count-only cap would miss.
//
// The prefetch buffer is independent of tier assignment and expires on
// a fixed freshness window. It sits behind the FragmentCache interface
// with in-memory and Redis implementations.
package warmer

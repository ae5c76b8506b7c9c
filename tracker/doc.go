// Package tracker records every read/write touch on a knowledge item
// and maintains per-path access statistics used by tier placement,
// cache warming, and drift detection.
//
// The append-only event ring buffer is the source of truth for recency
// windows; AccessPattern rollups are derived and mutated in place.
// Persistence is batched through a bounded flush queue so that tracking
// never blocks the caller's primary operation: persistence failures are
// logged and swallowed.
package tracker

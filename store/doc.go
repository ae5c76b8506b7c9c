// Package store owns the physical placement of knowledge items across
// three tiers: hot (in memory, mirrored to disk for restart), warm
// (plain files on disk), and cold (zstd-compressed files on disk).
//
// Exactly one tier is authoritative for a path at any time. Individual
// item moves are atomic relative to the item's own state; the periodic
// migration sweep is not transactional across items, so interrupting it
// leaves every item in a well-defined tier.
package store

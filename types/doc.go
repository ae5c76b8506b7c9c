// Package types defines the shared data model for the strata memory
// subsystem: knowledge-item paths, storage tiers, access patterns and
// events, structured errors, and token counting.
//
// Every component keys its state by the knowledge-item path, a
// namespace-scoped string of the form "<owner>/<name>". The path is the
// only foreign key in the system.
package types

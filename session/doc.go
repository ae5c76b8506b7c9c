// Package session is the coordination layer tying the memory
// subsystems together: every knowledge touch fans out to the access
// tracker, the tiered store and the drift detector; Evaluate combines
// the growth forecast with the drift report into a single context
// decision; and a cron cadence runs tier migration and cache warming
// in the background.
package session

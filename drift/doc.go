// Package drift detects when a session's working context has drifted
// away from what the conversation is actually doing: stale file
// references, rapid task switching, excessive conversation depth, and
// agent churn. Each symptom is scored by a Check; the Detector
// aggregates them into a drift score and a clear/keep decision.
package drift

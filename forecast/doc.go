// Package forecast predicts context-window token growth over the next
// turns from conversation features and recommends when to act.
//
// The model is a linear combination of four weighted features:
// tokens-per-message, task-complexity multiplier, average tool-result
// size, and a time-of-day factor. Coefficients are refit by least
// squares from recorded outcomes; with sparse history the model falls
// back to prior coefficients and reports low confidence. Absence of
// data is a confidence signal, not an error condition.
package forecast

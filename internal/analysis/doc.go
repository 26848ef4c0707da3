// Package analysis characterizes the closed-loop response of a recorded
// run, one zone at a time:
//
//   - [Response]: overshoot, settling time and steady-state error against
//     the setpoint
//   - [DominantPeriod]: period of the strongest oscillation, from the
//     power spectrum of the temperature trace
//
// Ticks without a setpoint (NaN in the log) are skipped.
package analysis

// Package control provides the per-zone control law of the cooling rig.
//
//   - [PID]: error-to-flow controller with anti-windup tied to actuator
//     saturation and a clamped output
//   - [Decoupler]: static linear compensator cancelling cross-zone coupling
//   - [Source]: the command source chosen for a zone on one tick
//
// # Usage
//
//	pid := control.NewPID(rig.Gains{Kp: 2, Ki: 0.5}, control.DefaultLimits())
//	out := pid.Compute(temperature, rig.Target(50), dt, flowFeedback)
//
// Gains can be replaced between ticks with SetGains; integral state is kept.
package control

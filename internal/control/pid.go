package control

import (
	"fmt"
	"math"

	"github.com/san-kum/coolrig/internal/rig"
)

// Limits bound the valid setpoint range, the actuator saturation band used
// for anti-windup, and the controller output.
type Limits struct {
	SetpointMin float64 `yaml:"setpoint_min"`
	SetpointMax float64 `yaml:"setpoint_max"`
	SatMin      float64 `yaml:"saturation_min"`
	SatMax      float64 `yaml:"saturation_max"`
	OutMin      float64 `yaml:"output_min"`
	OutMax      float64 `yaml:"output_max"`
}

func DefaultLimits() Limits {
	return Limits{
		SetpointMin: 0,
		SetpointMax: 1000,
		SatMin:      5,
		SatMax:      300,
		OutMin:      0,
		OutMax:      FlowMax,
	}
}

func (l Limits) Validate() error {
	if l.OutMin > l.OutMax {
		return fmt.Errorf("output range inverted: [%g, %g]", l.OutMin, l.OutMax)
	}
	if l.SatMin >= l.SatMax {
		return fmt.Errorf("saturation band empty: (%g, %g)", l.SatMin, l.SatMax)
	}
	if l.SetpointMin >= l.SetpointMax {
		return fmt.Errorf("setpoint range empty: [%g, %g)", l.SetpointMin, l.SetpointMax)
	}
	return nil
}

// PID is one zone's controller. Error is measurement minus setpoint, so a
// zone hotter than its target asks for more cooling flow.
type PID struct {
	gains    rig.Gains
	limits   Limits
	integral float64
	prevErr  float64
	output   float64
	terms    rig.Terms
	active   bool
}

func NewPID(gains rig.Gains, limits Limits) *PID {
	return &PID{
		gains:  gains,
		limits: limits,
	}
}

// Compute advances the controller by dt and returns the clamped output.
// An unset or out-of-range setpoint forces the error to zero without
// touching the accumulated state. The integral only accumulates while the
// actuator sits strictly inside its saturation band. dt must be positive.
func (p *PID) Compute(measurement float64, sp rig.Setpoint, dt, actuator float64) float64 {
	err := 0.0
	p.active = p.ValidSetpoint(sp)
	if p.active {
		err = measurement - sp.Value
	}

	if actuator > p.limits.SatMin && actuator < p.limits.SatMax {
		p.integral += err * dt
	}

	derivative := (err - p.prevErr) / dt

	p.terms = rig.Terms{
		P: p.gains.Kp * err,
		I: p.gains.Ki * p.integral,
		D: p.gains.Kd * derivative,
	}
	p.output = clamp(p.terms.P+p.terms.I+p.terms.D, p.limits.OutMin, p.limits.OutMax)
	p.prevErr = err

	return p.output
}

// ValidSetpoint reports whether sp lies in [SetpointMin, SetpointMax).
func (p *PID) ValidSetpoint(sp rig.Setpoint) bool {
	if !sp.Set || math.IsNaN(sp.Value) {
		return false
	}
	return sp.Value >= p.limits.SetpointMin && sp.Value < p.limits.SetpointMax
}

// Active reports whether the last computation ran against a valid setpoint.
func (p *PID) Active() bool        { return p.active }
func (p *PID) Integral() float64  { return p.integral }
func (p *PID) PrevError() float64 { return p.prevErr }
func (p *PID) Output() float64    { return p.output }
func (p *PID) Terms() rig.Terms   { return p.terms }
func (p *PID) Gains() rig.Gains   { return p.gains }
func (p *PID) Limits() Limits     { return p.limits }

func (p *PID) SetGains(g rig.Gains) {
	p.gains = g
}

// Reset clears integral and derivative state.
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.output = 0
	p.terms = rig.Terms{}
	p.active = false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

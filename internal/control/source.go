package control

import (
	"fmt"
	"math"

	"github.com/san-kum/coolrig/internal/rig"
)

// Valid flow-rate range accepted by the actuators.
const (
	FlowMin = 0.0
	FlowMax = 300.0
)

// ClampFlow bounds a flow command to [FlowMin, FlowMax].
func ClampFlow(rate float64) float64 {
	if math.IsNaN(rate) {
		return FlowMin
	}
	return clamp(rate, FlowMin, FlowMax)
}

type SourceKind int

const (
	SourceManual SourceKind = iota
	SourceTemperature
	SourceScheduled
)

func (k SourceKind) String() string {
	switch k {
	case SourceManual:
		return "manual"
	case SourceTemperature:
		return "temperature"
	case SourceScheduled:
		return "scheduled"
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// Source is the command source of one zone for one tick:
// Manual(flow) | Temperature(setpoint) | Scheduled(value).
// A scheduled value is a setpoint in temperature mode and a flow otherwise.
type Source struct {
	Kind       SourceKind
	Value      float64
	Setpoint   rig.Setpoint
	closedLoop bool
}

func Manual(flow float64) Source {
	return Source{Kind: SourceManual, Value: flow}
}

func Temperature(sp rig.Setpoint) Source {
	return Source{Kind: SourceTemperature, Setpoint: sp, closedLoop: true}
}

func Scheduled(value float64, temperatureMode bool) Source {
	s := Source{Kind: SourceScheduled, Value: value, closedLoop: temperatureMode}
	if temperatureMode {
		s.Setpoint = rig.Target(value)
	}
	return s
}

// Resolve picks the source with precedence Scheduler > PID > manual.
func Resolve(temperatureMode bool, manualFlow float64, sp rig.Setpoint, scheduled float64, hasSchedule bool) Source {
	switch {
	case hasSchedule:
		return Scheduled(scheduled, temperatureMode)
	case temperatureMode:
		return Temperature(sp)
	default:
		return Manual(manualFlow)
	}
}

// ClosedLoop reports whether the PID output decides the command.
func (s Source) ClosedLoop() bool { return s.closedLoop }

// Target is the PID setpoint for closed-loop sources.
func (s Source) Target() rig.Setpoint {
	if !s.closedLoop {
		return rig.NoTarget
	}
	return s.Setpoint
}

// Flow is the open-loop flow command.
func (s Source) Flow() float64 {
	if s.closedLoop {
		return 0
	}
	return s.Value
}

func (s Source) String() string {
	switch {
	case s.Kind == SourceManual:
		return fmt.Sprintf("manual(%.2f)", s.Value)
	case s.Kind == SourceTemperature && s.Setpoint.Set:
		return fmt.Sprintf("temperature(%.2f)", s.Setpoint.Value)
	case s.Kind == SourceTemperature:
		return "temperature(-)"
	default:
		return fmt.Sprintf("scheduled(%.2f)", s.Value)
	}
}

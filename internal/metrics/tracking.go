package metrics

import (
	"math"

	"github.com/san-kum/coolrig/internal/rig"
)

// TrackingError is the RMS of measurement minus setpoint over every zone
// tick with a setpoint in force. Open-loop ticks are skipped.
type TrackingError struct {
	sumSq   float64
	samples int
}

func NewTrackingError() *TrackingError {
	return &TrackingError{}
}

func (e *TrackingError) Name() string { return "tracking_rms" }

func (e *TrackingError) Observe(t *rig.Tick) {
	if !t.TemperatureMode {
		return
	}
	for i, sp := range t.Setpoints {
		if !sp.Set || i >= len(t.Temperatures) || math.IsNaN(t.Temperatures[i]) {
			continue
		}
		d := t.Temperatures[i] - sp.Value
		e.sumSq += d * d
		e.samples++
	}
}

func (e *TrackingError) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return math.Sqrt(e.sumSq / float64(e.samples))
}

func (e *TrackingError) Reset() {
	e.sumSq = 0
	e.samples = 0
}

// Saturation is the fraction of zone ticks whose command sat at or beyond
// a rail.
type Saturation struct {
	lo, hi     float64
	violations int
	samples    int
}

func NewSaturation(lo, hi float64) *Saturation {
	return &Saturation{lo: lo, hi: hi}
}

func (s *Saturation) Name() string { return "saturation" }

func (s *Saturation) Observe(t *rig.Tick) {
	for _, v := range t.Commands {
		s.samples++
		if v <= s.lo || v >= s.hi {
			s.violations++
		}
	}
}

func (s *Saturation) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.violations) / float64(s.samples)
}

func (s *Saturation) Reset() {
	s.violations = 0
	s.samples = 0
}

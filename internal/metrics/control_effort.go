// Package metrics computes run summaries from the tick stream.
package metrics

import (
	"math"
	"sync"

	"github.com/san-kum/coolrig/internal/rig"
)

// Metric accumulates one scalar over a run.
type Metric interface {
	Name() string
	Observe(t *rig.Tick)
	Value() float64
	Reset()
}

// ControlEffort is the mean total flow commanded per tick.
type ControlEffort struct {
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{}
}

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(t *rig.Tick) {
	for _, v := range t.Commands {
		c.sum += math.Abs(v)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// Set fans ticks out to several metrics. It is a rig.Sink and may be read
// while the loop is recording.
type Set struct {
	mu      sync.Mutex
	metrics []Metric
}

var _ rig.Sink = (*Set)(nil)

func NewSet(ms ...Metric) *Set {
	return &Set{metrics: ms}
}

// Default returns the metrics recorded with every run.
func Default() *Set {
	return NewSet(NewControlEffort(), NewTrackingError(), NewSaturation(5, 300))
}

func (s *Set) Record(t *rig.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Observe(t)
	}
	return nil
}

func (s *Set) Values() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.metrics))
	for _, m := range s.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		m.Reset()
	}
}

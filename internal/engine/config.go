package engine

import (
	"time"

	"github.com/san-kum/coolrig/internal/control"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
	"github.com/san-kum/coolrig/internal/timeutil"
)

const (
	DefaultPeriod      = 500 * time.Millisecond
	DefaultMaxFailures = 5
)

// ZoneConfig is the operator-facing configuration of one zone.
type ZoneConfig struct {
	Boundary   rig.Boundary
	Gains      rig.Gains
	Setpoint   rig.Setpoint
	ManualFlow float64
}

// ControlConfig is everything the operator side may change while the loop
// runs. The engine snapshots it once per tick.
type ControlConfig struct {
	TemperatureMode bool
	Decouple        bool
	Zones           []ZoneConfig
	// Schedule is nil when the scheduler is disabled. Staged tables are
	// never mutated.
	Schedule *schedule.Table
}

// NewControlConfig returns a manual-mode configuration with whole-frame
// boundaries and no setpoints.
func NewControlConfig(zones, rows, cols int) ControlConfig {
	cfg := ControlConfig{Zones: make([]ZoneConfig, zones)}
	for i := range cfg.Zones {
		cfg.Zones[i].Boundary = rig.FullFrame(rows, cols)
	}
	return cfg
}

func (c ControlConfig) Clone() ControlConfig {
	out := c
	out.Zones = make([]ZoneConfig, len(c.Zones))
	copy(out.Zones, c.Zones)
	return out
}

func (c ControlConfig) Boundaries() []rig.Boundary {
	out := make([]rig.Boundary, len(c.Zones))
	for i, z := range c.Zones {
		out[i] = z.Boundary
	}
	return out
}

// Options configure an Engine.
type Options struct {
	Zones int
	Rows  int
	Cols  int

	Period      time.Duration
	Limits      control.Limits
	Coupling    [][]float64
	Clock       timeutil.Clock
	MaxFailures int

	Initial *ControlConfig
	Sinks   []rig.Sink
}

func DefaultOptions(zones int) Options {
	return Options{
		Zones:       zones,
		Rows:        rig.DefaultRows,
		Cols:        rig.DefaultCols,
		Period:      DefaultPeriod,
		Limits:      control.DefaultLimits(),
		Clock:       timeutil.Real{},
		MaxFailures: DefaultMaxFailures,
	}
}

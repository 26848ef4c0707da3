package engine

import (
	"fmt"

	"github.com/san-kum/coolrig/internal/control"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
)

// The methods below stage operator changes. They may be called from any
// goroutine; nothing takes effect before the next tick boundary.

func (e *Engine) SetTemperatureMode(on bool) {
	e.stage(func(c *ControlConfig) error {
		if c.TemperatureMode == on {
			return nil
		}
		c.TemperatureMode = on
		clearTargets(c)
		return nil
	})
}

func (e *Engine) SetDecoupler(on bool) {
	e.stage(func(c *ControlConfig) error {
		c.Decouple = on
		return nil
	})
}

func (e *Engine) SetSetpoint(zone int, sp rig.Setpoint) error {
	return e.stageZone(zone, func(z *ZoneConfig) error {
		z.Setpoint = sp
		return nil
	})
}

// SetManualFlow stages an open-loop flow, clamped to the valid range.
func (e *Engine) SetManualFlow(zone int, rate float64) error {
	return e.stageZone(zone, func(z *ZoneConfig) error {
		z.ManualFlow = control.ClampFlow(rate)
		return nil
	})
}

func (e *Engine) SetGains(zone int, g rig.Gains) error {
	return e.stageZone(zone, func(z *ZoneConfig) error {
		z.Gains = g
		return nil
	})
}

// SetBoundary clamps b to the sensor resolution. A boundary with no cells
// left after clamping is rejected.
func (e *Engine) SetBoundary(zone int, b rig.Boundary) error {
	b = b.Clamp(e.opts.Rows, e.opts.Cols)
	if b.Empty() {
		return fmt.Errorf("zone %d %v: %w", zone, b.Array(), ErrEmptyBoundary)
	}
	return e.stageZone(zone, func(z *ZoneConfig) error {
		z.Boundary = b
		return nil
	})
}

// LoadSchedule enables the scheduler over a copy of t and restarts the
// elapsed-time epoch.
func (e *Engine) LoadSchedule(t *schedule.Table) error {
	if t.Len() == 0 {
		return schedule.ErrEmptyTable
	}
	if t.Zones() != e.opts.Zones {
		return fmt.Errorf("%w: %d columns, %d zones", ErrScheduleWidth, t.Zones(), e.opts.Zones)
	}
	return e.stage(func(c *ControlConfig) error {
		c.Schedule = t.Clone()
		clearTargets(c)
		e.restartEpoch = true
		return nil
	})
}

func (e *Engine) DisableSchedule() {
	e.stage(func(c *ControlConfig) error {
		if c.Schedule == nil {
			return nil
		}
		c.Schedule = nil
		clearTargets(c)
		e.restartEpoch = true
		return nil
	})
}

// ResetPID clears the accumulated state of one zone controller.
func (e *Engine) ResetPID(zone int) error {
	if zone < 0 || zone >= e.opts.Zones {
		return fmt.Errorf("%w: %d", rig.ErrZoneIndex, zone)
	}
	e.mu.Lock()
	e.resets[zone] = true
	e.mu.Unlock()
	return nil
}

// Apply replaces the whole staged configuration. Boundaries are clamped and
// the schedule is validated as in the single-field setters.
func (e *Engine) Apply(cfg ControlConfig) error {
	if len(cfg.Zones) != e.opts.Zones {
		return fmt.Errorf("%w: config has %d zones, engine %d", rig.ErrZoneIndex, len(cfg.Zones), e.opts.Zones)
	}
	next := cfg.Clone()
	for i := range next.Zones {
		z := &next.Zones[i]
		z.Boundary = z.Boundary.Clamp(e.opts.Rows, e.opts.Cols)
		if z.Boundary.Empty() {
			return fmt.Errorf("zone %d %v: %w", i, z.Boundary.Array(), ErrEmptyBoundary)
		}
		z.ManualFlow = control.ClampFlow(z.ManualFlow)
	}
	if next.Schedule != nil {
		if next.Schedule.Len() == 0 {
			next.Schedule = nil
		} else if next.Schedule.Zones() != e.opts.Zones {
			return fmt.Errorf("%w: %d columns, %d zones", ErrScheduleWidth, next.Schedule.Zones(), e.opts.Zones)
		} else {
			next.Schedule = next.Schedule.Clone()
		}
	}

	return e.stage(func(c *ControlConfig) error {
		if c.Schedule != nil || next.Schedule != nil {
			e.restartEpoch = true
		}
		*c = next
		return nil
	})
}

// Config returns a copy of the staged configuration.
func (e *Engine) Config() ControlConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.pending.Clone()
	cfg.Schedule = cfg.Schedule.Clone()
	return cfg
}

func (e *Engine) stage(fn func(c *ControlConfig) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.pending.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	e.pending = next
	e.version++
	return nil
}

func (e *Engine) stageZone(zone int, fn func(z *ZoneConfig) error) error {
	if zone < 0 || zone >= e.opts.Zones {
		return fmt.Errorf("%w: %d", rig.ErrZoneIndex, zone)
	}
	return e.stage(func(c *ControlConfig) error {
		return fn(&c.Zones[zone])
	})
}

// clearTargets zeroes the setpoint and manual-flow vectors on a mode switch.
func clearTargets(c *ControlConfig) {
	for i := range c.Zones {
		c.Zones[i].Setpoint = rig.NoTarget
		c.Zones[i].ManualFlow = 0
	}
}

// Package engine drives the fixed-period control loop of the cooling rig.
//
// Each tick pulls the sensor field, reduces it per zone, reads the actuator
// feedback, resolves a command source per zone (scheduler, PID or manual),
// runs the PID controllers and the optional decoupler, advances the
// scheduler and pushes the commands to the actuator. One [rig.Tick] is
// emitted to every sink per successful tick.
//
// Configuration changes are staged from any goroutine and committed at the
// next tick boundary only. Every exit from [Engine.Run] commands zero flow
// to all zones before the actuator is released.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/coolrig/internal/control"
	"github.com/san-kum/coolrig/internal/monitoring"
	"github.com/san-kum/coolrig/internal/region"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
	"github.com/san-kum/coolrig/internal/timeutil"
)

type Engine struct {
	sensor   rig.Sensor
	actuator rig.Actuator
	opts     Options
	clock    timeutil.Clock

	pids      []*control.PID
	decoupler *control.Decoupler
	scheduler *schedule.Scheduler
	sinks     []rig.Sink

	// staged by the operator side
	mu           sync.Mutex
	pending      ControlConfig
	version      uint64
	resets       []bool
	restartEpoch bool

	// owned by the tick
	active   ControlConfig
	applied  uint64
	started  bool
	epoch    time.Time
	last     time.Time
	seq      int
	failures int

	stopOnce sync.Once
	stopErr  error
	stopped  bool
}

func New(sensor rig.Sensor, actuator rig.Actuator, opts Options) (*Engine, error) {
	if opts.Zones <= 0 {
		return nil, fmt.Errorf("zones must be positive, got %d", opts.Zones)
	}
	if opts.Rows <= 0 || opts.Cols <= 0 {
		return nil, fmt.Errorf("sensor resolution must be positive, got %dx%d", opts.Rows, opts.Cols)
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %v", opts.Period)
	}
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.Real{}
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}

	decoupler := control.DefaultDecoupler(opts.Zones)
	if opts.Coupling != nil {
		d, err := control.NewDecoupler(opts.Coupling)
		if err != nil {
			return nil, err
		}
		if d.Zones() != opts.Zones {
			return nil, fmt.Errorf("coupling matrix is %dx%d, want %dx%d", d.Zones(), d.Zones(), opts.Zones, opts.Zones)
		}
		decoupler = d
	}

	e := &Engine{
		sensor:    sensor,
		actuator:  actuator,
		opts:      opts,
		clock:     opts.Clock,
		pids:      make([]*control.PID, opts.Zones),
		decoupler: decoupler,
		scheduler: schedule.New(nil),
		sinks:     append([]rig.Sink(nil), opts.Sinks...),
		pending:   NewControlConfig(opts.Zones, opts.Rows, opts.Cols),
		resets:    make([]bool, opts.Zones),
		version:   1,
	}
	for i := range e.pids {
		e.pids[i] = control.NewPID(rig.Gains{}, opts.Limits)
	}
	if opts.Initial != nil {
		if err := e.Apply(*opts.Initial); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) AddSink(s rig.Sink) { e.sinks = append(e.sinks, s) }

func (e *Engine) Zones() int            { return e.opts.Zones }
func (e *Engine) Period() time.Duration { return e.opts.Period }

// Run ticks until ctx is done, the failure limit is reached, or the engine
// is shut down. The zero-flow shutdown runs on every return path.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if serr := e.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	ticker := e.clock.NewTicker(e.opts.Period)
	defer ticker.Stop()

	for {
		if _, terr := e.Step(ctx); terr != nil {
			if errors.Is(terr, ErrStopped) || ctx.Err() != nil {
				return nil
			}
			e.failures++
			monitoring.Logf("engine: %v (%d/%d)", terr, e.failures, e.opts.MaxFailures)
			if e.failures >= e.opts.MaxFailures {
				return fmt.Errorf("%w: %w", ErrTooManyFailures, terr)
			}
		} else {
			e.failures = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

// Step executes one tick. I/O failures return a *TickError and skip the
// command phase.
func (e *Engine) Step(ctx context.Context) (*rig.Tick, error) {
	if e.isStopped() {
		return nil, ErrStopped
	}

	now := e.clock.Now()
	if !e.started {
		e.started = true
		e.epoch = now
		e.last = now.Add(-e.opts.Period)
	}
	e.commit(now)

	dt := now.Sub(e.last).Seconds()
	if dt <= 0 {
		dt = e.opts.Period.Seconds()
	}
	e.last = now
	elapsed := now.Sub(e.epoch).Seconds()
	seq := e.seq + 1
	n := e.opts.Zones
	cfg := e.active

	field, err := e.sensor.ReadField(ctx)
	if err != nil {
		return nil, &TickError{Seq: seq, Phase: PhaseSensor, Err: err}
	}
	if !field.IsValid() || field.Rows != e.opts.Rows || field.Cols != e.opts.Cols {
		return nil, &TickError{Seq: seq, Phase: PhaseSensor, Err: fmt.Errorf("%w: got %dx%d, want %dx%d",
			rig.ErrResolution, field.Rows, field.Cols, e.opts.Rows, e.opts.Cols)}
	}
	boundaries := cfg.Boundaries()
	temps := region.Aggregate(field, boundaries)

	flows, err := e.actuator.Flow(ctx)
	if err != nil {
		return nil, &TickError{Seq: seq, Phase: PhaseFeedback, Err: err}
	}
	if len(flows) != n {
		return nil, &TickError{Seq: seq, Phase: PhaseFeedback, Err: fmt.Errorf("%w: %d feedback values for %d zones",
			rig.ErrZoneIndex, len(flows), n)}
	}

	tick := &rig.Tick{
		Seq:             seq,
		Stamp:           now,
		Time:            elapsed,
		Dt:              dt,
		TemperatureMode: cfg.TemperatureMode,
		Decoupled:       cfg.TemperatureMode && cfg.Decouple,
		Temperatures:    temps,
		Flows:           flows,
		Setpoints:       make([]rig.Setpoint, n),
		Gains:           make([]rig.Gains, n),
		Terms:           make([]rig.Terms, n),
		Outputs:         make([]float64, n),
		Commands:        make([]float64, n),
		Sources:         make([]string, n),
		Boundaries:      boundaries,
		Field:           field,
	}

	sources := make([]control.Source, n)
	for i, z := range cfg.Zones {
		value, scheduled := e.scheduler.Value(i)
		sources[i] = control.Resolve(cfg.TemperatureMode, z.ManualFlow, z.Setpoint, value, scheduled)
		tick.Setpoints[i] = sources[i].Target()
		tick.Gains[i] = z.Gains
		tick.Sources[i] = sources[i].String()
	}

	if cfg.TemperatureMode {
		for i, pid := range e.pids {
			tick.Outputs[i] = pid.Compute(temps[i], sources[i].Target(), dt, flows[i])
			tick.Terms[i] = pid.Terms()
		}
		copy(tick.Commands, tick.Outputs)
		if cfg.Decouple {
			copy(tick.Commands, e.decoupler.Compute(tick.Outputs))
		}
	} else {
		for i := range sources {
			tick.Commands[i] = sources[i].Flow()
		}
	}

	if e.scheduler.Advance(elapsed) {
		monitoring.Logf("engine: schedule advanced to %s", e.scheduler.Status().IntervalLabel())
	}
	st := e.scheduler.Status()
	tick.Schedule = rig.ScheduleStatus{
		State:     st.State.String(),
		Start:     st.Start,
		End:       st.End,
		Values:    st.Values,
		Remaining: st.Remaining,
	}

	for i := range tick.Commands {
		tick.Commands[i] = control.ClampFlow(tick.Commands[i])
		if err := e.actuator.SetFlow(ctx, i, tick.Commands[i]); err != nil {
			return nil, &TickError{Seq: seq, Phase: PhaseCommand, Zone: i, Err: err}
		}
	}

	e.seq = seq
	e.emit(tick)
	return tick, nil
}

func (e *Engine) emit(t *rig.Tick) {
	for _, s := range e.sinks {
		if err := s.Record(t); err != nil {
			monitoring.Logf("engine: sink failed on tick %d: %v", t.Seq, err)
		}
	}
}

// commit applies the staged configuration at a tick boundary.
func (e *Engine) commit(now time.Time) {
	e.mu.Lock()
	if e.version != e.applied {
		e.active = e.pending.Clone()
		e.applied = e.version
	}
	resets := e.resets
	e.resets = make([]bool, e.opts.Zones)
	restart := e.restartEpoch
	e.restartEpoch = false
	e.mu.Unlock()

	for i, r := range resets {
		if r {
			e.pids[i].Reset()
		}
	}
	for i, z := range e.active.Zones {
		e.pids[i].SetGains(z.Gains)
	}
	if restart {
		e.scheduler = schedule.New(e.active.Schedule)
		e.epoch = now
		if e.scheduler.Active() {
			monitoring.Logf("engine: scheduler %s with %d rows", e.scheduler.State(), e.scheduler.Remaining())
		}
	}
}

// Shutdown commands zero flow to every zone and releases the actuator. It
// is safe to call more than once; later calls return the first result.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()

		var errs []error
		for i := 0; i < e.opts.Zones; i++ {
			if err := e.actuator.SetFlow(ctx, i, 0); err != nil {
				errs = append(errs, fmt.Errorf("zero flow zone %d: %w", i, err))
			}
		}
		if err := e.actuator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release actuator: %w", err))
		}
		e.stopErr = errors.Join(errs...)
		monitoring.Logf("engine: shutdown, flow zeroed on %d zones", e.opts.Zones)
	})
	return e.stopErr
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// PIDState exposes a zone controller's accumulated state for inspection.
// It must not be called concurrently with Run.
func (e *Engine) PIDState(zone int) (integral, prevErr, output float64, err error) {
	if zone < 0 || zone >= len(e.pids) {
		return 0, 0, 0, rig.ErrZoneIndex
	}
	p := e.pids[zone]
	return p.Integral(), p.PrevError(), p.Output(), nil
}

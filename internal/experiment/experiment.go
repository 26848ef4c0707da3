// Package experiment assembles one control run from a configuration: the
// devices, the engine, the metric set and, when recording, the run log.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/san-kum/coolrig/internal/config"
	"github.com/san-kum/coolrig/internal/engine"
	"github.com/san-kum/coolrig/internal/metrics"
	"github.com/san-kum/coolrig/internal/monitoring"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/storage"
	"github.com/san-kum/coolrig/internal/timeutil"
)

type Experiment struct {
	cfg      *config.Config
	hw       *Hardware
	engine   *engine.Engine
	metrics  *metrics.Set
	recorder *storage.Recorder
	clock    timeutil.Clock
	ticks    atomic.Int64
}

// Result summarizes a finished run.
type Result struct {
	RunID   string
	Ticks   int
	Metrics map[string]float64
}

// New builds the run described by cfg. Devices are opened through reg and
// the engine runs on clock. A recorder is attached when cfg.Record is set
// and store is not nil.
func New(cfg *config.Config, reg *Registry, clock timeutil.Clock, store *storage.Store, name string) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.Real{}
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	opts.Clock = clock

	hw, err := reg.Build(cfg)
	if err != nil {
		return nil, err
	}

	e := &Experiment{cfg: cfg, hw: hw, metrics: metrics.Default(), clock: clock}
	opts.Sinks = append(opts.Sinks, e.metrics, rig.SinkFunc(func(*rig.Tick) error {
		e.ticks.Add(1)
		return nil
	}))

	if cfg.Record && store != nil {
		rec, err := store.NewRun(storage.RunMetadata{
			Name:            name,
			Sensor:          cfg.Sensor.Kind,
			Actuator:        cfg.Actuator.Kind,
			Zones:           cfg.Zones,
			Rows:            cfg.Rows,
			Cols:            cfg.Cols,
			Period:          cfg.Period.Seconds(),
			TemperatureMode: cfg.Control.TemperatureMode,
			Started:         clock.Now(),
		})
		if err != nil {
			hw.Actuator.Close()
			return nil, fmt.Errorf("open run log: %w", err)
		}
		e.recorder = rec
		opts.Sinks = append(opts.Sinks, rec)
	}

	eng, err := engine.New(hw.Sensor, hw.Actuator, opts)
	if err != nil {
		e.closeRecorder()
		hw.Actuator.Close()
		return nil, err
	}
	e.engine = eng
	return e, nil
}

func (e *Experiment) Config() *config.Config  { return e.cfg }
func (e *Experiment) Engine() *engine.Engine  { return e.engine }
func (e *Experiment) Hardware() *Hardware     { return e.hw }

// AddSink attaches another tick consumer. Call before Run or Simulate.
func (e *Experiment) AddSink(s rig.Sink) { e.engine.AddSink(s) }

// Run drives the loop in real time until ctx ends or the engine gives up.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	err := e.engine.Run(ctx)
	return e.finish(err)
}

// Simulate runs ticks periods back to back on a manual clock, advancing it
// one period after each tick.
func (e *Experiment) Simulate(ctx context.Context, ticks int) (*Result, error) {
	clock, ok := e.clock.(*timeutil.Manual)
	if !ok {
		return nil, errors.New("simulate needs a manual clock")
	}
	var err error
	for i := 0; i < ticks; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if _, err = e.engine.Step(ctx); err != nil {
			break
		}
		clock.Advance(e.engine.Period())
	}
	if ctx.Err() != nil {
		err = nil
	}
	err = errors.Join(err, e.engine.Shutdown(context.WithoutCancel(ctx)))
	return e.finish(err)
}

// Close zeroes flow, releases the devices and finalizes the run log. Use it
// on paths that give up before Run or Simulate; after them it is a no-op.
func (e *Experiment) Close() error {
	err := e.engine.Shutdown(context.Background())
	return errors.Join(err, e.closeRecorder())
}

func (e *Experiment) finish(runErr error) (*Result, error) {
	res := &Result{Ticks: int(e.ticks.Load()), Metrics: e.metrics.Values()}
	if e.recorder != nil {
		res.RunID = e.recorder.ID()
	}
	if err := e.closeRecorder(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		monitoring.Logf("experiment: run ended: %v", runErr)
	}
	return res, runErr
}

func (e *Experiment) closeRecorder() error {
	if e.recorder == nil {
		return nil
	}
	err := e.recorder.Close(e.metrics.Values())
	e.recorder = nil
	return err
}

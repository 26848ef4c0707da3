package plant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/san-kum/coolrig/internal/control"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/timeutil"
)

// ErrUnstable indicates the simulated state diverged.
var ErrUnstable = errors.New("plant: simulation unstable (NaN or Inf in state)")

// MaxStep bounds the integration step in seconds.
const MaxStep = 0.05

// Rig couples a Thermal model to a clock. Every call first integrates the
// model up to the clock's current time, so the loop and the plant share a
// time base whether the clock is real or manual.
type Rig struct {
	model  *Thermal
	integ  Integrator
	clock  timeutil.Clock
	rows   int
	cols   int
	layout []rig.Boundary

	mu     sync.Mutex
	x      State
	cmd    []float64
	t      float64
	last   time.Time
	rng    *rand.Rand
	closed bool
}

// Options configure a Rig beyond the thermal parameters.
type Options struct {
	Rows       int
	Cols       int
	Integrator string
	Seed       int64
	Clock      timeutil.Clock
}

func NewRig(p Params, opts Options) (*Rig, error) {
	model, err := NewThermal(p)
	if err != nil {
		return nil, err
	}
	if opts.Rows <= 0 || opts.Cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", rig.ErrResolution, opts.Rows, opts.Cols)
	}
	if opts.Cols < p.Zones {
		return nil, fmt.Errorf("plant: %d columns cannot hold %d zones", opts.Cols, p.Zones)
	}
	integ, ok := NewIntegrator(opts.Integrator)
	if !ok {
		return nil, fmt.Errorf("plant: unknown integrator %q", opts.Integrator)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.Real{}
	}
	return &Rig{
		model:  model,
		integ:  integ,
		clock:  opts.Clock,
		rows:   opts.Rows,
		cols:   opts.Cols,
		layout: Layout(p.Zones, opts.Rows, opts.Cols),
		x:      model.Initial(),
		cmd:    make([]float64, p.Zones),
		last:   opts.Clock.Now(),
		rng:    rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Layout places zones as equal vertical stripes across the frame.
func Layout(zones, rows, cols int) []rig.Boundary {
	out := make([]rig.Boundary, zones)
	for i := range out {
		out[i] = rig.Boundary{
			XMin: i * cols / zones,
			XMax: (i + 1) * cols / zones,
			YMin: 0,
			YMax: rows,
		}
	}
	return out
}

// Layout returns the zone boundaries the rendered field uses.
func (r *Rig) Layout() []rig.Boundary {
	return append([]rig.Boundary(nil), r.layout...)
}

func (r *Rig) ReadField(ctx context.Context) (rig.Field, error) {
	if err := ctx.Err(); err != nil {
		return rig.Field{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.advance(); err != nil {
		return rig.Field{}, err
	}

	f := rig.NewField(r.rows, r.cols)
	for row := 0; row < r.rows; row++ {
		for col := 0; col < r.cols; col++ {
			v := r.model.Ambient
			for i, b := range r.layout {
				if col >= b.XMin && col < b.XMax && row >= b.YMin && row < b.YMax {
					v = r.x[i]
					break
				}
			}
			if r.model.NoiseSigma > 0 {
				v += r.rng.NormFloat64() * r.model.NoiseSigma
			}
			f.Set(row, col, math.Round(v*100)/100)
		}
	}
	return f, nil
}

func (r *Rig) SetFlow(ctx context.Context, zone int, rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return rig.ErrClosed
	}
	if zone < 0 || zone >= len(r.cmd) {
		return fmt.Errorf("%w: %d", rig.ErrZoneIndex, zone)
	}
	if err := r.advance(); err != nil {
		return err
	}
	r.cmd[zone] = control.ClampFlow(rate)
	return nil
}

// Flow reports the actual flow through each controller, which lags the
// command.
func (r *Rig) Flow(ctx context.Context) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, rig.ErrClosed
	}
	if err := r.advance(); err != nil {
		return nil, err
	}
	n := r.model.Zones
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Max(r.x[n+i], 0)
	}
	return out, nil
}

func (r *Rig) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Temperatures returns the true zone temperatures, without sensor noise.
func (r *Rig) Temperatures() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.x[:r.model.Zones]...)
}

// Commands returns the last commanded flows.
func (r *Rig) Commands() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.cmd...)
}

// Time is the simulated time in seconds.
func (r *Rig) Time() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t
}

func (r *Rig) advance() error {
	now := r.clock.Now()
	total := now.Sub(r.last).Seconds()
	r.last = now
	for total > 0 {
		dt := math.Min(total, MaxStep)
		r.x = r.integ.Step(r.model, r.x, r.cmd, r.t, dt)
		r.t += dt
		total -= dt
	}
	for _, v := range r.x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrUnstable
		}
	}
	return nil
}

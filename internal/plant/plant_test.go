package plant

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/san-kum/coolrig/internal/region"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/timeutil"
)

type oscillator struct{}

func (oscillator) Derive(x State, u []float64, t float64) State { return State{x[1], -x[0]} }
func (oscillator) StateDim() int                                 { return 2 }

func TestRK4Accuracy(t *testing.T) {
	integ := &RK4{}
	x := State{1, 0}
	dt := 0.01
	steps := 100
	for i := 0; i < steps; i++ {
		x = integ.Step(oscillator{}, x, nil, float64(i)*dt, dt)
	}
	if math.Abs(x[0]-math.Cos(1)) > 1e-4 {
		t.Errorf("position = %.6f, want %.6f", x[0], math.Cos(1))
	}
	if math.Abs(x[1]+math.Sin(1)) > 1e-4 {
		t.Errorf("velocity = %.6f, want %.6f", x[1], -math.Sin(1))
	}
}

func TestEulerStep(t *testing.T) {
	x := Euler{}.Step(oscillator{}, State{1, 0}, nil, 0, 0.1)
	if x[0] != 1 || x[1] != -0.1 {
		t.Errorf("step = %v, want [1 -0.1]", x)
	}
}

func TestNewIntegrator(t *testing.T) {
	for _, name := range []string{"", "euler", "rk4"} {
		if _, ok := NewIntegrator(name); !ok {
			t.Errorf("NewIntegrator(%q) not found", name)
		}
	}
	if _, ok := NewIntegrator("verlet"); ok {
		t.Error("unexpected integrator verlet")
	}
}

func TestThermal_Equilibrium(t *testing.T) {
	p := DefaultParams(1)
	m, err := NewThermal(p)
	if err != nil {
		t.Fatal(err)
	}

	hot := m.Equilibrium([]float64{0})
	want := p.Ambient + p.HeatLoad[0]/p.Loss
	if math.Abs(hot[0]-want) > 1e-3 {
		t.Errorf("no-flow equilibrium = %.4f, want %.4f", hot[0], want)
	}

	cold := m.Equilibrium([]float64{300})
	if cold[0] >= hot[0] {
		t.Errorf("full flow equilibrium %.2f not below no-flow %.2f", cold[0], hot[0])
	}
}

func TestThermal_Crosstalk(t *testing.T) {
	m, err := NewThermal(DefaultParams(2))
	if err != nil {
		t.Fatal(err)
	}
	idle := m.Equilibrium([]float64{0, 0})
	neighbour := m.Equilibrium([]float64{0, 200})
	if neighbour[0] >= idle[0] {
		t.Errorf("zone 0 at %.2f with neighbour jet, %.2f without", neighbour[0], idle[0])
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"no zones", func(p *Params) { p.Zones = 0 }},
		{"load width", func(p *Params) { p.HeatLoad = p.HeatLoad[:1] }},
		{"capacity", func(p *Params) { p.Capacity = 0 }},
		{"negative loss", func(p *Params) { p.Loss = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams(2)
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("Validate succeeded, want error")
			}
		})
	}
}

func newTestRig(t *testing.T, zones int) (*Rig, *timeutil.Manual) {
	t.Helper()
	clock := timeutil.NewManual(time.Unix(0, 0))
	p := DefaultParams(zones)
	p.NoiseSigma = 0
	r, err := NewRig(p, Options{Rows: 4, Cols: 8, Clock: clock, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	return r, clock
}

func TestRig_FlowLag(t *testing.T) {
	r, clock := newTestRig(t, 2)
	ctx := context.Background()

	if err := r.SetFlow(ctx, 0, 150); err != nil {
		t.Fatal(err)
	}
	clock.Advance(500 * time.Millisecond)
	flows, _ := r.Flow(ctx)
	if flows[0] <= 0 || flows[0] >= 150 {
		t.Errorf("flow after 0.5s = %.2f, want strictly between 0 and 150", flows[0])
	}

	clock.Advance(30 * time.Second)
	flows, _ = r.Flow(ctx)
	if math.Abs(flows[0]-150) > 0.1 {
		t.Errorf("settled flow = %.3f, want 150", flows[0])
	}
	if flows[1] != 0 {
		t.Errorf("idle zone flow = %.3f, want 0", flows[1])
	}
	if math.Abs(r.Time()-30.5) > 1e-9 {
		t.Errorf("Time() = %v, want 30.5", r.Time())
	}
}

func TestRig_FieldMatchesZones(t *testing.T) {
	r, clock := newTestRig(t, 2)
	ctx := context.Background()
	r.SetFlow(ctx, 1, 300)
	clock.Advance(20 * time.Second)

	f, err := r.ReadField(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Rows != 4 || f.Cols != 8 {
		t.Fatalf("field %dx%d, want 4x8", f.Rows, f.Cols)
	}
	temps := r.Temperatures()
	got := region.Aggregate(f, r.Layout())
	for i := range temps {
		if math.Abs(got[i]-temps[i]) > 0.01 {
			t.Errorf("zone %d: field mean %.3f, true %.3f", i, got[i], temps[i])
		}
	}
	if got[1] >= got[0] {
		t.Errorf("cooled zone %.2f not below idle zone %.2f", got[1], got[0])
	}
}

func TestRig_Layout(t *testing.T) {
	l := Layout(3, 24, 32)
	if l[0].XMin != 0 || l[2].XMax != 32 {
		t.Errorf("layout does not span frame: %v", l)
	}
	for i := 1; i < len(l); i++ {
		if l[i].XMin != l[i-1].XMax {
			t.Errorf("gap between zone %d and %d", i-1, i)
		}
	}
	if l[1].Area() == 0 {
		t.Error("empty zone")
	}
}

func TestRig_Closed(t *testing.T) {
	r, _ := newTestRig(t, 1)
	ctx := context.Background()
	r.Close()
	if err := r.SetFlow(ctx, 0, 1); !errors.Is(err, rig.ErrClosed) {
		t.Errorf("SetFlow err = %v, want ErrClosed", err)
	}
	if _, err := r.Flow(ctx); !errors.Is(err, rig.ErrClosed) {
		t.Errorf("Flow err = %v, want ErrClosed", err)
	}
}

func TestNewRig_Errors(t *testing.T) {
	if _, err := NewRig(DefaultParams(2), Options{Rows: 0, Cols: 4}); !errors.Is(err, rig.ErrResolution) {
		t.Errorf("err = %v, want ErrResolution", err)
	}
	if _, err := NewRig(DefaultParams(2), Options{Rows: 2, Cols: 2, Integrator: "leapfrog"}); err == nil {
		t.Error("expected unknown integrator error")
	}
}

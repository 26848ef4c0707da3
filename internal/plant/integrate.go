package plant

// State is the plant state vector: zone temperatures followed by the
// actual gas flow through each controller.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// System is a continuous-time model driven by a command vector.
type System interface {
	Derive(x State, u []float64, t float64) State
	StateDim() int
}

type Integrator interface {
	Step(sys System, x State, u []float64, t, dt float64) State
}

type Euler struct{}

func (Euler) Step(sys System, x State, u []float64, t, dt float64) State {
	dx := sys.Derive(x, u, t)
	out := make(State, len(x))
	for i := range x {
		out[i] = x[i] + dt*dx[i]
	}
	return out
}

// RK4 is the classic fourth-order Runge-Kutta step. Scratch buffers are
// reused between calls, so an RK4 value must not be shared across
// goroutines.
type RK4 struct {
	k1, k2, k3, k4 State
	scratch        State
}

func (r *RK4) ensure(n int) {
	if len(r.k1) != n {
		r.k1 = make(State, n)
		r.k2 = make(State, n)
		r.k3 = make(State, n)
		r.k4 = make(State, n)
		r.scratch = make(State, n)
	}
}

func (r *RK4) Step(sys System, x State, u []float64, t, dt float64) State {
	n := len(x)
	r.ensure(n)

	copy(r.k1, sys.Derive(x, u, t))
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k1[i]
	}
	copy(r.k2, sys.Derive(r.scratch, u, t+dt*0.5))
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k2[i]
	}
	copy(r.k3, sys.Derive(r.scratch, u, t+dt*0.5))
	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*r.k3[i]
	}
	copy(r.k4, sys.Derive(r.scratch, u, t+dt))

	out := make(State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		out[i] = x[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}
	return out
}

// NewIntegrator returns the integrator registered under name.
func NewIntegrator(name string) (Integrator, bool) {
	switch name {
	case "euler":
		return Euler{}, true
	case "rk4", "":
		return &RK4{}, true
	}
	return nil, false
}

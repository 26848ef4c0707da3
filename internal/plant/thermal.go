// Package plant simulates a multi-zone cooled sample stage so the control
// loop can run end to end without hardware.
//
// Each zone is a lumped thermal mass heated by a constant load, cooled by
// its gas jet in proportion to the actual flow, losing heat to ambient and
// exchanging heat with its neighbours. The mass flow controllers follow
// their command with a first-order lag. [Rig] renders the zone
// temperatures into a camera-sized field and serves as both the sensor
// and the actuator of the loop.
package plant

import (
	"fmt"
	"math"
)

// Params describe the thermal model. Temperatures are in degrees C, flow
// in controller units [0, 300].
type Params struct {
	Zones int `yaml:"zones"`

	Ambient       float64   `yaml:"ambient"`
	Gas           float64   `yaml:"gas"`
	HeatLoad      []float64 `yaml:"heat_load"`
	Capacity      float64   `yaml:"capacity"`
	Loss          float64   `yaml:"loss"`
	Cooling       float64   `yaml:"cooling"`
	Coupling      float64   `yaml:"coupling"`
	FlowLag       float64   `yaml:"flow_lag"`
	FlowCrosstalk float64   `yaml:"flow_crosstalk"`
	NoiseSigma    float64   `yaml:"noise_sigma"`
}

func DefaultParams(zones int) Params {
	load := make([]float64, zones)
	for i := range load {
		load[i] = 6
	}
	return Params{
		Zones:         zones,
		Ambient:       22,
		Gas:           -20,
		HeatLoad:      load,
		Capacity:      5,
		Loss:          0.1,
		Cooling:       0.004,
		Coupling:      0.15,
		FlowLag:       2,
		FlowCrosstalk: 0.3,
		NoiseSigma:    0.05,
	}
}

func (p Params) Validate() error {
	if p.Zones <= 0 {
		return fmt.Errorf("plant: zones must be positive, got %d", p.Zones)
	}
	if len(p.HeatLoad) != p.Zones {
		return fmt.Errorf("plant: %d heat loads for %d zones", len(p.HeatLoad), p.Zones)
	}
	if p.Capacity <= 0 || p.FlowLag <= 0 {
		return fmt.Errorf("plant: capacity and flow lag must be positive")
	}
	if p.Loss < 0 || p.Cooling < 0 || p.Coupling < 0 || p.FlowCrosstalk < 0 || p.NoiseSigma < 0 {
		return fmt.Errorf("plant: loss, cooling, coupling, crosstalk and noise must not be negative")
	}
	return nil
}

// Thermal is the continuous-time zone model.
//
// State layout: x[0:n] zone temperatures, x[n:2n] actual flows.
// Neighbouring zones (i, i±1) exchange heat, and a jet also cools its
// neighbours by FlowCrosstalk of its own effect. The crosstalk is what
// the loop's decoupler compensates for.
type Thermal struct {
	Params
}

func NewThermal(p Params) (*Thermal, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Thermal{Params: p}, nil
}

func (m *Thermal) StateDim() int { return 2 * m.Zones }

// Initial is the state with every zone at ambient and no flow.
func (m *Thermal) Initial() State {
	x := make(State, m.StateDim())
	for i := 0; i < m.Zones; i++ {
		x[i] = m.Ambient
	}
	return x
}

func (m *Thermal) Derive(x State, u []float64, t float64) State {
	n := m.Zones
	dx := make(State, 2*n)
	for i := 0; i < n; i++ {
		temp, flow := x[i], math.Max(x[n+i], 0)

		heat := m.HeatLoad[i] - m.Loss*(temp-m.Ambient)
		heat -= m.Cooling * flow * (temp - m.Gas)
		for _, j := range []int{i - 1, i + 1} {
			if j < 0 || j >= n {
				continue
			}
			heat += m.Coupling * (x[j] - temp)
			heat -= m.FlowCrosstalk * m.Cooling * math.Max(x[n+j], 0) * (temp - m.Gas)
		}
		dx[i] = heat / m.Capacity

		cmd := 0.0
		if i < len(u) {
			cmd = u[i]
		}
		dx[n+i] = (cmd - x[n+i]) / m.FlowLag
	}
	return dx
}

// Equilibrium returns the steady zone temperatures for constant flows,
// found by relaxing the model. Used to size presets and in tests.
func (m *Thermal) Equilibrium(flows []float64) []float64 {
	x := m.Initial()
	copy(x[m.Zones:], flows)
	integ := &RK4{}
	u := append([]float64(nil), flows...)
	for k := 0; k < 200000; k++ {
		next := integ.Step(m, x, u, 0, 0.05)
		delta := 0.0
		for i := 0; i < m.Zones; i++ {
			delta = math.Max(delta, math.Abs(next[i]-x[i]))
		}
		x = next
		if delta < 1e-10 {
			break
		}
	}
	return append([]float64(nil), x[:m.Zones]...)
}

package control

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Measured static coupling of the two-zone rig: g[i] scales the
// neighbouring zone's PID output into zone i.
var twoZoneCoupling = [][]float64{
	{0, -0.98},
	{-0.97, 0},
}

// Decoupler applies decoupled = v + G*v with G a zero-diagonal coupling
// matrix. It carries no state and does not saturate.
type Decoupler struct {
	g *mat.Dense
	n int
}

func NewDecoupler(g [][]float64) (*Decoupler, error) {
	n := len(g)
	if n == 0 {
		return &Decoupler{}, nil
	}
	data := make([]float64, 0, n*n)
	for i, row := range g {
		if len(row) != n {
			return nil, fmt.Errorf("coupling matrix row %d has %d entries, want %d", i, len(row), n)
		}
		if row[i] != 0 {
			return nil, fmt.Errorf("coupling matrix diagonal must be zero, got g[%d][%d]=%g", i, i, row[i])
		}
		data = append(data, row...)
	}
	return &Decoupler{g: mat.NewDense(n, n, data), n: n}, nil
}

// DefaultDecoupler returns the measured two-zone compensator for n == 2 and
// a pass-through for any other zone count.
func DefaultDecoupler(n int) *Decoupler {
	g := make([][]float64, n)
	for i := range g {
		g[i] = make([]float64, n)
	}
	if n == 2 {
		for i := range g {
			copy(g[i], twoZoneCoupling[i])
		}
	}
	d, _ := NewDecoupler(g)
	return d
}

func (d *Decoupler) Zones() int { return d.n }

// Coupling returns a copy of the coupling matrix rows.
func (d *Decoupler) Coupling() [][]float64 {
	out := make([][]float64, d.n)
	for i := range out {
		out[i] = mat.Row(nil, i, d.g)
	}
	return out
}

func (d *Decoupler) Compute(outputs []float64) []float64 {
	result := make([]float64, len(outputs))
	copy(result, outputs)
	if d.n == 0 || len(outputs) != d.n {
		return result
	}

	v := mat.NewVecDense(d.n, result)
	var mixed mat.VecDense
	mixed.MulVec(d.g, mat.NewVecDense(d.n, outputs))
	v.AddVec(v, &mixed)
	return result
}

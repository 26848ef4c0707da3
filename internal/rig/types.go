package rig

import (
	"context"
	"math"
	"time"
)

// Reference sensor resolution (thermal imager rows x columns).
const (
	DefaultRows = 24
	DefaultCols = 32
)

// Field is a row-major temperature frame of fixed resolution.
type Field struct {
	Rows int
	Cols int
	Data []float64
}

func NewField(rows, cols int) Field {
	return Field{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (f Field) At(r, c int) float64 {
	return f.Data[r*f.Cols+c]
}

func (f Field) Set(r, c int, v float64) {
	f.Data[r*f.Cols+c] = v
}

func (f Field) Clone() Field {
	c := Field{Rows: f.Rows, Cols: f.Cols, Data: make([]float64, len(f.Data))}
	copy(c.Data, f.Data)
	return c
}

func (f Field) IsValid() bool {
	return f.Rows > 0 && f.Cols > 0 && len(f.Data) == f.Rows*f.Cols
}

// Boundary is a half-open rectangle into a Field. X indexes columns and
// Y indexes rows: the covered cells are rows [YMin,YMax) x cols [XMin,XMax).
type Boundary struct {
	XMin int
	XMax int
	YMin int
	YMax int
}

// FullFrame covers every cell of a rows x cols field.
func FullFrame(rows, cols int) Boundary {
	return Boundary{XMin: 0, XMax: cols, YMin: 0, YMax: rows}
}

// BoundaryFrom builds a boundary from the [x_min, x_max, y_min, y_max]
// ordering used by the logs and state snapshots.
func BoundaryFrom(v [4]int) Boundary {
	return Boundary{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3]}
}

func (b Boundary) Array() [4]int {
	return [4]int{b.XMin, b.XMax, b.YMin, b.YMax}
}

// Clamp pulls every edge inside the sensor resolution. An inverted pair
// collapses onto its max edge.
func (b Boundary) Clamp(rows, cols int) Boundary {
	b.XMin = clampInt(b.XMin, 0, cols)
	b.XMax = clampInt(b.XMax, 0, cols)
	b.YMin = clampInt(b.YMin, 0, rows)
	b.YMax = clampInt(b.YMax, 0, rows)
	if b.XMin > b.XMax {
		b.XMin = b.XMax
	}
	if b.YMin > b.YMax {
		b.YMin = b.YMax
	}
	return b
}

func (b Boundary) Empty() bool {
	return b.XMax <= b.XMin || b.YMax <= b.YMin
}

func (b Boundary) Area() int {
	if b.Empty() {
		return 0
	}
	return (b.XMax - b.XMin) * (b.YMax - b.YMin)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Setpoint is an optional temperature target. The zero value is unset.
type Setpoint struct {
	Value float64
	Set   bool
}

var NoTarget = Setpoint{}

func Target(v float64) Setpoint {
	return Setpoint{Value: v, Set: true}
}

// Float returns the target or NaN when unset.
func (s Setpoint) Float() float64 {
	if !s.Set {
		return math.NaN()
	}
	return s.Value
}

type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// Terms are the individual PID contributions of one computation.
type Terms struct {
	P float64
	I float64
	D float64
}

// Sensor yields the current temperature field.
type Sensor interface {
	ReadField(ctx context.Context) (Field, error)
}

// Actuator drives per-zone gas flow. Rates are already clamped by the
// caller to the valid flow range.
type Actuator interface {
	SetFlow(ctx context.Context, zone int, rate float64) error
	Flow(ctx context.Context) ([]float64, error)
	Close() error
}

// Sink consumes one Tick per control period.
type Sink interface {
	Record(t *Tick) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(t *Tick) error

func (f SinkFunc) Record(t *Tick) error { return f(t) }

// Tick is the immutable record of one control period.
type Tick struct {
	Seq             int
	Stamp           time.Time
	Time            float64
	Dt              float64
	TemperatureMode bool
	Decoupled       bool

	Temperatures []float64
	Flows        []float64
	Setpoints    []Setpoint
	Gains        []Gains
	Terms        []Terms
	Outputs      []float64
	Commands     []float64
	Sources      []string
	Boundaries   []Boundary

	Field Field

	Schedule ScheduleStatus
}

func (t *Tick) Zones() int {
	return len(t.Temperatures)
}

// ScheduleStatus mirrors the scheduler display state for a tick.
type ScheduleStatus struct {
	State     string
	Start     float64
	End       float64
	Values    []float64
	Remaining int
}

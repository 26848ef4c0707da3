// Package sensor provides file-backed temperature field sources for running
// the loop without a camera.
package sensor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/san-kum/coolrig/internal/rig"
)

var ErrNoFrames = errors.New("sensor: fixture holds no complete frame")

// Fixture replays frames loaded from a CSV-like grid. The first row of the
// file is a header and is skipped; every remaining value is flattened
// row-major. A file holding several frames is replayed in order and
// wraps around.
type Fixture struct {
	rows, cols int

	mu     sync.Mutex
	frames []rig.Field
	next   int
}

// LoadFixture reads a fixture file for a rows x cols sensor.
func LoadFixture(path string, rows, cols int) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	fx, err := ParseFixture(f, rows, cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fx, nil
}

func ParseFixture(r io.Reader, rows, cols int) (*Fixture, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", rig.ErrResolution, rows, cols)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var values []float64
	header := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		for _, field := range rec {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				line, _ := cr.FieldPos(0)
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			values = append(values, round2(v))
		}
	}

	size := rows * cols
	if len(values) < size {
		return nil, fmt.Errorf("%w: %d values, frame needs %d", ErrNoFrames, len(values), size)
	}
	if len(values)%size != 0 {
		return nil, fmt.Errorf("%w: %d values is not a multiple of %dx%d", rig.ErrResolution, len(values), rows, cols)
	}

	fx := &Fixture{rows: rows, cols: cols}
	for off := 0; off < len(values); off += size {
		frame := rig.NewField(rows, cols)
		copy(frame.Data, values[off:off+size])
		fx.frames = append(fx.frames, frame)
	}
	return fx, nil
}

// Static returns a fixture that always yields field.
func Static(field rig.Field) *Fixture {
	return &Fixture{rows: field.Rows, cols: field.Cols, frames: []rig.Field{field.Clone()}}
}

func (f *Fixture) Frames() int { return len(f.frames) }

func (f *Fixture) ReadField(ctx context.Context) (rig.Field, error) {
	if err := ctx.Err(); err != nil {
		return rig.Field{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	frame := f.frames[f.next]
	f.next = (f.next + 1) % len(f.frames)
	return frame.Clone(), nil
}

// Readings are reported with two decimals, like the camera driver.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

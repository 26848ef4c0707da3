package storage

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/san-kum/coolrig/internal/rig"
)

// Recorder is a rig.Sink writing one row per tick to ticks.csv and the raw
// field to field.csv. The column set is fixed when the run is opened:
// setpoint and gain columns exist only for runs started in temperature
// mode, and hold NaN for ticks that ran in manual mode.
type Recorder struct {
	dir  string
	meta RunMetadata

	mu     sync.Mutex
	ticks  *os.File
	field  *os.File
	tw     *csv.Writer
	fw     *csv.Writer
	closed bool
}

func newRecorder(dir string, meta RunMetadata) (*Recorder, error) {
	ticks, err := os.Create(filepath.Join(dir, ticksFile))
	if err != nil {
		return nil, err
	}
	field, err := os.Create(filepath.Join(dir, fieldFile))
	if err != nil {
		ticks.Close()
		return nil, err
	}

	r := &Recorder{
		dir:   dir,
		meta:  meta,
		ticks: ticks,
		field: field,
		tw:    csv.NewWriter(ticks),
		fw:    csv.NewWriter(field),
	}
	if err := r.tw.Write(TickHeader(meta.Zones, meta.TemperatureMode)); err != nil {
		r.closeFiles()
		return nil, err
	}
	if err := r.fw.Write([]string{"time", "temperature"}); err != nil {
		r.closeFiles()
		return nil, err
	}
	return r, nil
}

// TickHeader returns the tick log columns for n zones.
func TickHeader(n int, temperatureMode bool) []string {
	h := []string{"time"}
	for i := 0; i < n; i++ {
		h = append(h, fmt.Sprintf("mfc_%d", i))
	}
	for i := 0; i < n; i++ {
		h = append(h, fmt.Sprintf("temperature_%d", i))
	}
	if temperatureMode {
		for _, prefix := range []string{"temperature_setpoint", "P", "I", "D"} {
			for i := 0; i < n; i++ {
				h = append(h, fmt.Sprintf("%s_%d", prefix, i))
			}
		}
	}
	for i := 0; i < n; i++ {
		h = append(h,
			fmt.Sprintf("region_%d_x_min", i),
			fmt.Sprintf("region_%d_x_max", i),
			fmt.Sprintf("region_%d_y_min", i),
			fmt.Sprintf("region_%d_y_max", i),
		)
	}
	return h
}

func (r *Recorder) ID() string  { return r.meta.ID }
func (r *Recorder) Dir() string { return r.dir }

func (r *Recorder) Record(t *rig.Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return rig.ErrClosed
	}
	n := r.meta.Zones
	if t.Zones() != n {
		return fmt.Errorf("storage: tick has %d zones, run %d", t.Zones(), n)
	}

	row := []string{format(t.Time)}
	for i := 0; i < n; i++ {
		row = append(row, format(t.Flows[i]))
	}
	for i := 0; i < n; i++ {
		row = append(row, format(t.Temperatures[i]))
	}
	if r.meta.TemperatureMode {
		nan := format(math.NaN())
		for i := 0; i < n; i++ {
			if t.TemperatureMode {
				row = append(row, format(t.Setpoints[i].Float()))
			} else {
				row = append(row, nan)
			}
		}
		for k := 0; k < 3; k++ {
			for i := 0; i < n; i++ {
				if !t.TemperatureMode {
					row = append(row, nan)
					continue
				}
				g := t.Gains[i]
				row = append(row, format([3]float64{g.Kp, g.Ki, g.Kd}[k]))
			}
		}
	}
	for i := 0; i < n; i++ {
		for _, v := range t.Boundaries[i].Array() {
			row = append(row, strconv.Itoa(v))
		}
	}
	if err := r.tw.Write(row); err != nil {
		return err
	}
	r.tw.Flush()
	if err := r.tw.Error(); err != nil {
		return err
	}

	frow := make([]string, 0, 1+len(t.Field.Data))
	frow = append(frow, format(t.Time))
	for _, v := range t.Field.Data {
		frow = append(frow, format(v))
	}
	if err := r.fw.Write(frow); err != nil {
		return err
	}
	r.fw.Flush()
	if err := r.fw.Error(); err != nil {
		return err
	}

	r.meta.Ticks++
	return nil
}

// Close finalizes the run metadata with the tick count and metrics.
func (r *Recorder) Close(metrics map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.meta.Ended = time.Now()
	r.meta.Metrics = metrics

	err := r.closeFiles()
	if werr := writeMetadata(r.dir, r.meta); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (r *Recorder) closeFiles() error {
	r.tw.Flush()
	r.fw.Flush()
	err := r.ticks.Close()
	if ferr := r.field.Close(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}

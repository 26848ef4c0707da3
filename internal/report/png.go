package report

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/coolrig/internal/storage"
)

// PNG draws every zone's temperature against run time, with its setpoint as
// a dashed line of the same colour when the run logged setpoints.
func PNG(w io.Writer, meta *storage.RunMetadata, log *storage.TickLog) error {
	times := log.Column("time")
	if len(times) == 0 {
		return ErrNoData
	}
	temps := zoneSeries(log, meta.Zones, "temperature")
	if len(temps) == 0 {
		return ErrNoData
	}
	setpoints := make(map[int][]float64)
	for _, s := range zoneSeries(log, meta.Zones, "temperature_setpoint") {
		setpoints[s.zone] = s.values
	}

	p := plot.New()
	p.Title.Text = title(meta)
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "temperature (°C)"
	p.Add(plotter.NewGrid())

	colors := palette(meta.Zones)
	for _, s := range temps {
		line, err := plotter.NewLine(points(times, s.values))
		if err != nil {
			return fmt.Errorf("zone %d: %w", s.zone, err)
		}
		line.Color = colors[s.zone]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("zone %d", s.zone), line)

		sp, ok := setpoints[s.zone]
		if !ok {
			continue
		}
		spLine, err := plotter.NewLine(points(times, sp))
		if err != nil {
			return fmt.Errorf("zone %d setpoint: %w", s.zone, err)
		}
		spLine.Color = colors[s.zone]
		spLine.Width = vg.Points(1)
		spLine.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		p.Add(spLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// points pairs xs with ys, dropping ticks where either is NaN.
func points(xs, ys []float64) plotter.XYs {
	n := min(len(xs), len(ys))
	pts := make(plotter.XYs, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	return pts
}

// Package report renders recorded runs for offline review: a PNG chart of
// zone temperatures and an interactive HTML page.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/san-kum/coolrig/internal/storage"
)

var ErrNoData = errors.New("report: run has no plottable ticks")

// series is one named column of a tick log.
type series struct {
	zone   int
	name   string
	values []float64
}

// zoneSeries collects prefix_i for every zone that the log carries with at
// least one finite value.
func zoneSeries(log *storage.TickLog, zones int, prefix string) []series {
	var out []series
	for i := 0; i < zones; i++ {
		col := log.Column(fmt.Sprintf("%s_%d", prefix, i))
		if col == nil || allNaN(col) {
			continue
		}
		out = append(out, series{zone: i, name: fmt.Sprintf("%s_%d", prefix, i), values: col})
	}
	return out
}

func title(meta *storage.RunMetadata) string {
	if meta.Name != "" {
		return fmt.Sprintf("%s (%s)", meta.Name, shortID(meta.ID))
	}
	return "run " + shortID(meta.ID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func allNaN(v []float64) bool {
	for _, x := range v {
		if !math.IsNaN(x) {
			return false
		}
	}
	return true
}

// palette returns n distinct colours spread around the hue circle.
func palette(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		h := float64(i) / float64(max(n, 1))
		r, g, b := hsvToRGB(h, 0.8, 0.9)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	case 5:
		r, g, b = v, p, q
	}
	return uint8(r * 255), uint8(g * 255), uint8(b * 255)
}

func hex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

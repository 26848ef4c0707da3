// Package region reduces a sensor temperature field to one value per zone.
//
// Zones are half-open rectangles ([rig.Boundary]) over the field. Empty
// rectangles are a configuration error and are not special-cased here: the
// mean of no cells is NaN.
package region

import (
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/coolrig/internal/rig"
)

// Aggregate returns the mean temperature inside each boundary.
func Aggregate(field rig.Field, boundaries []rig.Boundary) []float64 {
	out := make([]float64, len(boundaries))
	buf := make([]float64, 0, field.Rows*field.Cols)
	for i, b := range boundaries {
		buf = crop(buf[:0], field, b)
		out[i] = stat.Mean(buf, nil)
	}
	return out
}

// Mean returns the mean temperature inside a single boundary.
func Mean(field rig.Field, b rig.Boundary) float64 {
	return stat.Mean(crop(nil, field, b), nil)
}

// MinMax reports the coldest and hottest cell of the field.
func MinMax(field rig.Field) (lo, hi float64) {
	if len(field.Data) == 0 {
		return 0, 0
	}
	lo, hi = field.Data[0], field.Data[0]
	for _, v := range field.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func crop(dst []float64, field rig.Field, b rig.Boundary) []float64 {
	for r := b.YMin; r < b.YMax; r++ {
		row := field.Data[r*field.Cols : (r+1)*field.Cols]
		dst = append(dst, row[b.XMin:b.XMax]...)
	}
	return dst
}

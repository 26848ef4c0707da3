package analysis

import (
	"fmt"
	"math"

	"github.com/san-kum/coolrig/internal/storage"
)

// DefaultBand is the settling band in degrees.
const DefaultBand = 0.5

// ZoneResponse describes how one zone tracked its latest setpoint.
type ZoneResponse struct {
	Zone     int
	Samples  int
	Setpoint float64
	// Overshoot is the largest excursion past the setpoint, on the far side
	// from where the zone started.
	Overshoot float64
	// SettlingTime is measured from the setpoint change. NaN if the zone
	// was still outside the band at the end of the run.
	SettlingTime     float64
	SteadyStateError float64
	// Period of the dominant oscillation of the error, 0 if none.
	Period float64
}

// Response analyzes the segment after the last setpoint change. Samples
// with a NaN setpoint are ignored.
func Response(times, temps, setpoints []float64, band float64) ZoneResponse {
	n := min(len(times), len(temps), len(setpoints))
	res := ZoneResponse{SettlingTime: math.NaN(), SteadyStateError: math.NaN(), Setpoint: math.NaN()}

	start := -1
	for i := 0; i < n; i++ {
		if math.IsNaN(setpoints[i]) {
			continue
		}
		if start < 0 || setpoints[i] != setpoints[start] || math.IsNaN(setpoints[i-1]) {
			start = i
		}
	}
	if start < 0 {
		return res
	}

	sp := setpoints[start]
	var errs, ts []float64
	for i := start; i < n; i++ {
		if math.IsNaN(setpoints[i]) || math.IsNaN(temps[i]) {
			continue
		}
		errs = append(errs, temps[i]-sp)
		ts = append(ts, times[i])
	}
	res.Setpoint = sp
	res.Samples = len(errs)
	if len(errs) == 0 {
		return res
	}

	dir := math.Copysign(1, errs[0])
	for _, e := range errs {
		if past := -e * dir; past > res.Overshoot {
			res.Overshoot = past
		}
	}

	last := -1
	for i, e := range errs {
		if math.Abs(e) > band {
			last = i
		}
	}
	switch {
	case last < 0:
		res.SettlingTime = 0
	case last < len(errs)-1:
		res.SettlingTime = ts[last+1] - ts[0]
	}

	tail := max(1, len(errs)/10)
	sum := 0.0
	for _, e := range errs[len(errs)-tail:] {
		sum += e
	}
	res.SteadyStateError = sum / float64(tail)

	if len(ts) > 1 {
		dt := (ts[len(ts)-1] - ts[0]) / float64(len(ts)-1)
		res.Period = DominantPeriod(errs, dt)
	}
	return res
}

// FromLog analyzes every zone of a recorded temperature-mode run.
func FromLog(log *storage.TickLog, zones int, band float64) ([]ZoneResponse, error) {
	times := log.Column("time")
	if times == nil {
		return nil, fmt.Errorf("analysis: tick log has no time column")
	}
	out := make([]ZoneResponse, zones)
	for i := 0; i < zones; i++ {
		temps := log.Column(fmt.Sprintf("temperature_%d", i))
		sps := log.Column(fmt.Sprintf("temperature_setpoint_%d", i))
		if temps == nil || sps == nil {
			return nil, fmt.Errorf("analysis: zone %d has no temperature or setpoint column; was the run recorded in temperature mode?", i)
		}
		out[i] = Response(times, temps, sps, band)
		out[i].Zone = i
	}
	return out, nil
}

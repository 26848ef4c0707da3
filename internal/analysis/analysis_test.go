package analysis

import (
	"math"
	"testing"

	"github.com/san-kum/coolrig/internal/storage"
)

func series(n int, dt float64, f func(t float64) float64) (times, values []float64) {
	for i := 0; i < n; i++ {
		t := float64(i) * dt
		times = append(times, t)
		values = append(values, f(t))
	}
	return times, values
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPowerSpectrum_Impulse(t *testing.T) {
	got := PowerSpectrum([]float64{1, 0, 0, 0})
	want := []float64{0, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for k := range want {
		if math.Abs(got[k]-want[k]) > 1e-12 {
			t.Errorf("bin %d = %v, want %v", k, got[k], want[k])
		}
	}
}

func TestDominantPeriod(t *testing.T) {
	tests := []struct {
		name   string
		period float64
	}{
		{"slow", 16},
		{"fast", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, v := series(128, 0.5, func(x float64) float64 { return 30 + math.Sin(2*math.Pi*x/tt.period) })
			if got := DominantPeriod(v, 0.5); math.Abs(got-tt.period) > 1e-9 {
				t.Errorf("DominantPeriod() = %v, want %v", got, tt.period)
			}
		})
	}
}

func TestDominantPeriod_Flat(t *testing.T) {
	if got := DominantPeriod(constant(64, 3), 0.5); got != 0 {
		t.Errorf("flat trace period = %v, want 0", got)
	}
	if got := DominantPeriod([]float64{1, 2}, 0.5); got != 0 {
		t.Errorf("short trace period = %v, want 0", got)
	}
}

func TestResponse_FirstOrder(t *testing.T) {
	times, temps := series(80, 0.5, func(x float64) float64 { return 30 + 10*math.Exp(-x/5) })
	res := Response(times, temps, constant(80, 30), DefaultBand)

	if res.Samples != 80 || res.Setpoint != 30 {
		t.Errorf("samples=%d setpoint=%v", res.Samples, res.Setpoint)
	}
	if res.Overshoot != 0 {
		t.Errorf("Overshoot = %v, want 0", res.Overshoot)
	}
	if math.Abs(res.SettlingTime-15) > 1e-9 {
		t.Errorf("SettlingTime = %v, want 15", res.SettlingTime)
	}
	if res.SteadyStateError <= 0 || res.SteadyStateError > 0.01 {
		t.Errorf("SteadyStateError = %v", res.SteadyStateError)
	}
}

func TestResponse_OvershootAndNoSettle(t *testing.T) {
	times := []float64{0, 1, 2, 3, 4}
	temps := []float64{40, 33, 28, 29, 35}
	res := Response(times, temps, constant(5, 30), DefaultBand)

	if math.Abs(res.Overshoot-2) > 1e-12 {
		t.Errorf("Overshoot = %v, want 2", res.Overshoot)
	}
	if !math.IsNaN(res.SettlingTime) {
		t.Errorf("SettlingTime = %v, want NaN", res.SettlingTime)
	}
}

func TestResponse_LastSetpointChange(t *testing.T) {
	nan := math.NaN()
	times := []float64{0, 1, 2, 3, 4, 5}
	temps := []float64{50, 40, 30, 34, 35, 35}
	sps := []float64{nan, 30, 30, 35, 35, 35}
	res := Response(times, temps, sps, DefaultBand)

	if res.Setpoint != 35 || res.Samples != 3 {
		t.Fatalf("setpoint=%v samples=%d, want 35 and 3", res.Setpoint, res.Samples)
	}
	if res.SettlingTime != 1 {
		t.Errorf("SettlingTime = %v, want 1", res.SettlingTime)
	}
}

func TestResponse_NoSetpoint(t *testing.T) {
	nan := math.NaN()
	res := Response([]float64{0, 1}, []float64{20, 21}, []float64{nan, nan}, DefaultBand)
	if res.Samples != 0 || !math.IsNaN(res.Setpoint) {
		t.Errorf("got %+v, want an empty response", res)
	}
}

func TestFromLog(t *testing.T) {
	log := &storage.TickLog{
		Header: []string{"time", "temperature_0", "temperature_setpoint_0"},
		Rows: [][]float64{
			{0, 40, 30},
			{1, 30.2, 30},
			{2, 30.1, 30},
		},
	}
	res, err := FromLog(log, 1, DefaultBand)
	if err != nil {
		t.Fatal(err)
	}
	if res[0].SettlingTime != 1 {
		t.Errorf("SettlingTime = %v, want 1", res[0].SettlingTime)
	}

	if _, err := FromLog(log, 2, DefaultBand); err == nil {
		t.Error("expected an error for a missing zone")
	}
}

package optim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/coolrig/internal/config"
	"github.com/san-kum/coolrig/internal/experiment"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/timeutil"
)

// GainNames are the parameters GainObjective understands.
var GainNames = []string{"kp", "ki", "kd"}

// GainObjective simulates base for ticks periods with every zone's gains
// replaced by the candidate, and scores the run by metric. Gains missing
// from the candidate keep their configured value. base must use the plant
// sensor so runs are reproducible.
func GainObjective(base *config.Config, ticks int, metric string) Objective {
	return func(ctx context.Context, params map[string]float64) (float64, error) {
		cfg := base.Clone()
		cfg.Record = false
		for i := range cfg.Regions {
			cfg.Regions[i].Gains = withParams(cfg.Regions[i].Gains, params)
		}

		clock := timeutil.NewManual(time.Unix(0, 0))
		exp, err := experiment.New(cfg, experiment.NewRegistry(clock), clock, nil, "")
		if err != nil {
			return math.NaN(), err
		}
		res, err := exp.Simulate(ctx, ticks)
		if err != nil {
			return math.NaN(), err
		}
		v, ok := res.Metrics[metric]
		if !ok {
			return math.NaN(), fmt.Errorf("optim: unknown metric %q", metric)
		}
		return v, nil
	}
}

func withParams(g rig.Gains, params map[string]float64) rig.Gains {
	if v, ok := params["kp"]; ok {
		g.Kp = v
	}
	if v, ok := params["ki"]; ok {
		g.Ki = v
	}
	if v, ok := params["kd"]; ok {
		g.Kd = v
	}
	return g
}

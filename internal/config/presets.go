package config

import (
	"sort"

	"github.com/san-kum/coolrig/internal/plant"
)

func float(v float64) *float64 { return &v }

// Presets are named starting configurations.
var Presets = map[string]*Config{
	"two-zone": func() *Config {
		cfg := DefaultConfig()
		cfg.Control.TemperatureMode = true
		cfg.Control.Decouple = true
		for i := range cfg.Regions {
			cfg.Regions[i].Gains.Kp = 4
			cfg.Regions[i].Gains.Ki = 0.8
			cfg.Regions[i].Gains.Kd = 0.5
		}
		cfg.Regions[0].Setpoint = float(30)
		cfg.Regions[1].Setpoint = float(40)
		return cfg
	}(),
	"four-zone": func() *Config {
		cfg := DefaultConfig()
		cfg.Zones = 4
		cfg.Regions = nil
		cfg.Plant.Params = plant.DefaultParams(4)
		cfg.Normalize()
		cfg.Control.TemperatureMode = true
		cfg.Control.Decouple = true
		cfg.Control.Coupling = [][]float64{
			{0, -0.3, 0, 0},
			{-0.3, 0, -0.3, 0},
			{0, -0.3, 0, -0.3},
			{0, 0, -0.3, 0},
		}
		for i := range cfg.Regions {
			cfg.Regions[i].Gains.Kp = 4
			cfg.Regions[i].Gains.Ki = 0.8
			cfg.Regions[i].Setpoint = float(25 + 5*float64(i))
		}
		return cfg
	}(),
	"bench": func() *Config {
		cfg := DefaultConfig()
		cfg.Sensor = SensorConfig{Kind: SensorFixture, Fixture: "testdata/temperature_static.csv"}
		cfg.Actuator = ActuatorConfig{Kind: ActuatorBank}
		cfg.Record = true
		for i := range cfg.Regions {
			cfg.Regions[i].Boundary = [4]int{0, cfg.Cols, 0, cfg.Rows}
			cfg.Regions[i].Flow = 100
		}
		return cfg
	}(),
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/coolrig/internal/actuator"
	"github.com/san-kum/coolrig/internal/control"
	"github.com/san-kum/coolrig/internal/engine"
	"github.com/san-kum/coolrig/internal/plant"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
)

const (
	DefaultZones   = 2
	DefaultDataDir = "runs"
	DefaultSeed    = 1
)

// Sensor kinds.
const (
	SensorPlant   = "plant"
	SensorFixture = "fixture"
)

// Actuator kinds.
const (
	ActuatorPlant  = "plant"
	ActuatorBank   = "bank"
	ActuatorSerial = "serial"
)

type Config struct {
	Zones   int           `yaml:"zones"`
	Rows    int           `yaml:"rows"`
	Cols    int           `yaml:"cols"`
	Period  time.Duration `yaml:"period"`
	DataDir string        `yaml:"data_dir"`
	Record  bool          `yaml:"record"`

	Sensor   SensorConfig   `yaml:"sensor"`
	Actuator ActuatorConfig `yaml:"actuator"`
	Plant    PlantConfig    `yaml:"plant"`
	Control  ControlConfig  `yaml:"control"`
	Regions  []RegionConfig `yaml:"regions"`
}

type SensorConfig struct {
	Kind    string `yaml:"kind"`
	Fixture string `yaml:"fixture"`
}

type ActuatorConfig struct {
	Kind   string               `yaml:"kind"`
	Port   string               `yaml:"port"`
	Serial actuator.PortOptions `yaml:"serial"`
}

// PlantConfig tunes the simulated rig. Params.Zones follows Config.Zones.
type PlantConfig struct {
	Integrator string       `yaml:"integrator"`
	Seed       int64        `yaml:"seed"`
	Params     plant.Params `yaml:",inline"`
}

type ControlConfig struct {
	TemperatureMode bool           `yaml:"temperature_mode"`
	Decouple        bool           `yaml:"decouple"`
	Coupling        [][]float64    `yaml:"coupling"`
	Limits          control.Limits `yaml:"limits"`
	MaxFailures     int            `yaml:"max_failures"`
	Schedule        string         `yaml:"schedule"`
}

// RegionConfig is one zone. Boundary is [x_min, x_max, y_min, y_max].
type RegionConfig struct {
	Boundary [4]int    `yaml:"boundary"`
	Gains    rig.Gains `yaml:"gains"`
	Setpoint *float64  `yaml:"setpoint,omitempty"`
	Flow     float64   `yaml:"flow"`
}

func DefaultConfig() *Config {
	cfg := &Config{
		Zones:   DefaultZones,
		Rows:    rig.DefaultRows,
		Cols:    rig.DefaultCols,
		Period:  engine.DefaultPeriod,
		DataDir: DefaultDataDir,
		Sensor:  SensorConfig{Kind: SensorPlant},
		Actuator: ActuatorConfig{
			Kind: ActuatorPlant,
		},
		Plant: PlantConfig{
			Integrator: "rk4",
			Seed:       DefaultSeed,
			Params:     plant.DefaultParams(DefaultZones),
		},
		Control: ControlConfig{
			Limits:      control.DefaultLimits(),
			MaxFailures: engine.DefaultMaxFailures,
		},
	}
	cfg.Regions = defaultRegions(cfg.Zones, cfg.Rows, cfg.Cols)
	return cfg
}

func defaultRegions(zones, rows, cols int) []RegionConfig {
	regions := make([]RegionConfig, zones)
	for i, b := range plant.Layout(zones, rows, cols) {
		regions[i].Boundary = b.Array()
	}
	return regions
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.Regions = nil
	cfg.Plant.Params.HeatLoad = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Normalize sizes the per-zone sections to Zones after the zone count
// changed. Missing regions get the default stripe layout and missing heat
// loads repeat the last one.
func (c *Config) Normalize() {
	if c.Zones <= 0 {
		return
	}
	if len(c.Regions) != c.Zones {
		defaults := defaultRegions(c.Zones, c.Rows, c.Cols)
		copy(defaults, c.Regions)
		c.Regions = defaults
	}
	p := &c.Plant.Params
	p.Zones = c.Zones
	if len(p.HeatLoad) != c.Zones {
		load := make([]float64, c.Zones)
		fill := plant.DefaultParams(1).HeatLoad[0]
		if n := len(p.HeatLoad); n > 0 {
			fill = p.HeatLoad[n-1]
		}
		for i := range load {
			load[i] = fill
		}
		copy(load, p.HeatLoad)
		p.HeatLoad = load
	}
}

func (c *Config) Validate() error {
	if c.Zones <= 0 {
		return fmt.Errorf("zones must be positive, got %d", c.Zones)
	}
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("sensor resolution must be positive, got %dx%d", c.Rows, c.Cols)
	}
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", c.Period)
	}
	if len(c.Regions) != c.Zones {
		return fmt.Errorf("%d regions configured for %d zones", len(c.Regions), c.Zones)
	}
	for i, r := range c.Regions {
		if rig.BoundaryFrom(r.Boundary).Clamp(c.Rows, c.Cols).Empty() {
			return fmt.Errorf("region %d: boundary %v: %w", i, r.Boundary, engine.ErrEmptyBoundary)
		}
	}
	switch c.Sensor.Kind {
	case SensorPlant:
	case SensorFixture:
		if c.Sensor.Fixture == "" {
			return fmt.Errorf("fixture sensor needs a fixture file")
		}
	default:
		return fmt.Errorf("unknown sensor kind %q", c.Sensor.Kind)
	}
	switch c.Actuator.Kind {
	case ActuatorPlant:
		if c.Sensor.Kind != SensorPlant {
			return fmt.Errorf("plant actuator requires the plant sensor")
		}
	case ActuatorBank:
	case ActuatorSerial:
		if c.Actuator.Port == "" {
			return fmt.Errorf("serial actuator needs a port")
		}
		if _, err := c.Actuator.Serial.Normalize(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown actuator kind %q", c.Actuator.Kind)
	}
	if c.Sensor.Kind == SensorPlant {
		if err := c.Plant.Params.Validate(); err != nil {
			return err
		}
	}
	if c.Control.Coupling != nil {
		if _, err := control.NewDecoupler(c.Control.Coupling); err != nil {
			return err
		}
	}
	return c.Control.Limits.Validate()
}

// ControlState builds the engine's initial control configuration, loading
// the schedule file when one is configured.
func (c *Config) ControlState() (engine.ControlConfig, error) {
	cc := engine.NewControlConfig(c.Zones, c.Rows, c.Cols)
	cc.TemperatureMode = c.Control.TemperatureMode
	cc.Decouple = c.Control.Decouple
	for i, r := range c.Regions {
		z := &cc.Zones[i]
		z.Boundary = rig.BoundaryFrom(r.Boundary)
		z.Gains = r.Gains
		z.ManualFlow = r.Flow
		if r.Setpoint != nil {
			z.Setpoint = rig.Target(*r.Setpoint)
		}
	}
	if c.Control.Schedule != "" {
		t, err := schedule.Load(c.Control.Schedule, c.Zones)
		if err != nil {
			return cc, err
		}
		cc.Schedule = t
	}
	return cc, nil
}

// EngineOptions maps the configuration onto engine options. Clock and
// sinks are left for the caller.
func (c *Config) EngineOptions() (engine.Options, error) {
	opts := engine.DefaultOptions(c.Zones)
	opts.Rows = c.Rows
	opts.Cols = c.Cols
	opts.Period = c.Period
	opts.Limits = c.Control.Limits
	opts.Coupling = c.Control.Coupling
	if c.Control.MaxFailures > 0 {
		opts.MaxFailures = c.Control.MaxFailures
	}
	initial, err := c.ControlState()
	if err != nil {
		return opts, err
	}
	opts.Initial = &initial
	return opts, nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Regions = make([]RegionConfig, len(c.Regions))
	for i, r := range c.Regions {
		out.Regions[i] = r
		if r.Setpoint != nil {
			v := *r.Setpoint
			out.Regions[i].Setpoint = &v
		}
	}
	out.Plant.Params.HeatLoad = append([]float64(nil), c.Plant.Params.HeatLoad...)
	if c.Control.Coupling != nil {
		out.Control.Coupling = make([][]float64, len(c.Control.Coupling))
		for i, row := range c.Control.Coupling {
			out.Control.Coupling[i] = append([]float64(nil), row...)
		}
	}
	return &out
}

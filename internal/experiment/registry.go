package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/coolrig/internal/actuator"
	"github.com/san-kum/coolrig/internal/config"
	"github.com/san-kum/coolrig/internal/plant"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/sensor"
	"github.com/san-kum/coolrig/internal/timeutil"
)

// Hardware is the sensor and actuator pair one run drives. Plant is set
// when either side is the simulated rig, which then serves both.
type Hardware struct {
	Sensor   rig.Sensor
	Actuator rig.Actuator
	Plant    *plant.Rig
}

type SensorFactory func(cfg *config.Config, hw *Hardware) (rig.Sensor, error)

type ActuatorFactory func(cfg *config.Config, hw *Hardware) (rig.Actuator, error)

type Registry struct {
	sensors   map[string]SensorFactory
	actuators map[string]ActuatorFactory
	clock     timeutil.Clock
}

// NewRegistry registers the built-in devices. The simulated rig runs on
// clock.
func NewRegistry(clock timeutil.Clock) *Registry {
	if clock == nil {
		clock = timeutil.Real{}
	}
	r := &Registry{
		sensors:   make(map[string]SensorFactory),
		actuators: make(map[string]ActuatorFactory),
		clock:     clock,
	}

	r.sensors[config.SensorPlant] = func(cfg *config.Config, hw *Hardware) (rig.Sensor, error) {
		p, err := r.plant(cfg, hw)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	r.sensors[config.SensorFixture] = func(cfg *config.Config, hw *Hardware) (rig.Sensor, error) {
		return sensor.LoadFixture(cfg.Sensor.Fixture, cfg.Rows, cfg.Cols)
	}

	r.actuators[config.ActuatorPlant] = func(cfg *config.Config, hw *Hardware) (rig.Actuator, error) {
		p, err := r.plant(cfg, hw)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	r.actuators[config.ActuatorBank] = func(cfg *config.Config, hw *Hardware) (rig.Actuator, error) {
		return actuator.NewBank(cfg.Zones), nil
	}
	r.actuators[config.ActuatorSerial] = func(cfg *config.Config, hw *Hardware) (rig.Actuator, error) {
		return actuator.OpenSerial(cfg.Actuator.Port, cfg.Zones, cfg.Actuator.Serial)
	}

	return r
}

func (r *Registry) plant(cfg *config.Config, hw *Hardware) (*plant.Rig, error) {
	if hw.Plant != nil {
		return hw.Plant, nil
	}
	p, err := plant.NewRig(cfg.Plant.Params, plant.Options{
		Rows:       cfg.Rows,
		Cols:       cfg.Cols,
		Integrator: cfg.Plant.Integrator,
		Seed:       cfg.Plant.Seed,
		Clock:      r.clock,
	})
	if err != nil {
		return nil, err
	}
	hw.Plant = p
	return p, nil
}

func (r *Registry) RegisterSensor(kind string, fn SensorFactory) {
	r.sensors[kind] = fn
}

func (r *Registry) RegisterActuator(kind string, fn ActuatorFactory) {
	r.actuators[kind] = fn
}

// Build opens the devices named by cfg.
func (r *Registry) Build(cfg *config.Config) (*Hardware, error) {
	sf, ok := r.sensors[cfg.Sensor.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown sensor: %s", cfg.Sensor.Kind)
	}
	af, ok := r.actuators[cfg.Actuator.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown actuator: %s", cfg.Actuator.Kind)
	}

	hw := &Hardware{}
	s, err := sf(cfg, hw)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", cfg.Sensor.Kind, err)
	}
	hw.Sensor = s
	a, err := af(cfg, hw)
	if err != nil {
		return nil, fmt.Errorf("actuator %s: %w", cfg.Actuator.Kind, err)
	}
	hw.Actuator = a
	return hw, nil
}

func (r *Registry) ListSensors() []string {
	return sortedKeys(r.sensors)
}

func (r *Registry) ListActuators() []string {
	return sortedKeys(r.actuators)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package api

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
)

// Metrics exports the latest tick as prometheus series. It is a rig.Sink.
type Metrics struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tickInterval    prometheus.Histogram
	temperatureMode prometheus.Gauge
	decoupled       prometheus.Gauge
	temperature     *prometheus.GaugeVec
	setpoint        *prometheus.GaugeVec
	flow            *prometheus.GaugeVec
	command         *prometheus.GaugeVec
	scheduleState   *prometheus.GaugeVec
}

var _ rig.Sink = (*Metrics)(nil)

var scheduleStates = []schedule.State{schedule.Disabled, schedule.Armed, schedule.Advancing, schedule.Exhausted}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coolrig_ticks_total",
			Help: "Control ticks completed.",
		}),
		tickInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coolrig_tick_interval_seconds",
			Help:    "Time between consecutive ticks.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 0.75, 1, 2, 5},
		}),
		temperatureMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coolrig_temperature_mode",
			Help: "1 when zones run closed loop on temperature, 0 in manual flow mode.",
		}),
		decoupled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coolrig_decoupler_enabled",
			Help: "1 when the cross-zone decoupler is applied.",
		}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coolrig_zone_temperature_celsius",
			Help: "Mean temperature over the zone region.",
		}, []string{"zone"}),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coolrig_zone_setpoint_celsius",
			Help: "Temperature setpoint in force, NaN when unset.",
		}, []string{"zone"}),
		flow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coolrig_zone_flow_sccm",
			Help: "Flow reported by the actuator at the start of the tick.",
		}, []string{"zone"}),
		command: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coolrig_zone_command_sccm",
			Help: "Flow commanded to the actuator.",
		}, []string{"zone"}),
		scheduleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coolrig_schedule_state",
			Help: "1 for the scheduler's current state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.tickInterval,
		m.temperatureMode,
		m.decoupled,
		m.temperature,
		m.setpoint,
		m.flow,
		m.command,
		m.scheduleState,
	)
	for _, s := range scheduleStates {
		m.scheduleState.WithLabelValues(s.String()).Set(0)
	}
	return m
}

func (m *Metrics) Record(t *rig.Tick) error {
	m.ticks.Inc()
	if t.Seq > 1 {
		m.tickInterval.Observe(t.Dt)
	}
	m.temperatureMode.Set(boolGauge(t.TemperatureMode))
	m.decoupled.Set(boolGauge(t.Decoupled))

	for i := 0; i < t.Zones(); i++ {
		zone := strconv.Itoa(i)
		m.temperature.WithLabelValues(zone).Set(t.Temperatures[i])
		if i < len(t.Setpoints) {
			m.setpoint.WithLabelValues(zone).Set(t.Setpoints[i].Float())
		}
		if i < len(t.Flows) {
			m.flow.WithLabelValues(zone).Set(t.Flows[i])
		}
		if i < len(t.Commands) {
			m.command.WithLabelValues(zone).Set(t.Commands[i])
		}
	}

	for _, s := range scheduleStates {
		v := 0.0
		if s.String() == t.Schedule.State {
			v = 1
		}
		m.scheduleState.WithLabelValues(s.String()).Set(v)
	}
	return nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

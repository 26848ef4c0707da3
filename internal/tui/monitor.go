// Package tui is the operator console of a running control loop. It shows
// the latest tick of every zone with a rolling temperature chart and turns
// key presses into staged engine changes.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/coolrig/internal/control"
	"github.com/san-kum/coolrig/internal/engine"
	"github.com/san-kum/coolrig/internal/region"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
)

const (
	defaultHistory = 120
	minHistory     = 16
	maxHistory     = 1920

	setpointStep = 1.0
	flowStep     = 10.0
	gainStep     = 0.1
)

// Controller is the part of the engine the console drives.
type Controller interface {
	Config() engine.ControlConfig
	SetTemperatureMode(on bool)
	SetDecoupler(on bool)
	SetSetpoint(zone int, sp rig.Setpoint) error
	SetManualFlow(zone int, rate float64) error
	SetGains(zone int, g rig.Gains) error
	ResetPID(zone int) error
	LoadSchedule(t *schedule.Table) error
	DisableSchedule()
}

var _ Controller = (*engine.Engine)(nil)

// ChannelSink forwards ticks to the console without ever blocking the
// control loop. Ticks arriving while the buffer is full are dropped.
type ChannelSink struct {
	ch chan *rig.Tick

	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan *rig.Tick, buffer)}
}

func (s *ChannelSink) Record(t *rig.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- t:
	default:
		s.dropped++
	}
	return nil
}

func (s *ChannelSink) Ticks() <-chan *rig.Tick { return s.ch }

func (s *ChannelSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close ends the tick stream. The console quits once it drains.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Options tune the console.
type Options struct {
	Title string
	// SchedulePath is loaded by the "L" key.
	SchedulePath string
	History      int
}

type tickMsg struct{ tick *rig.Tick }

type doneMsg struct{}

func waitForTick(ch <-chan *rig.Tick) tea.Cmd {
	return func() tea.Msg {
		t, ok := <-ch
		if !ok {
			return doneMsg{}
		}
		return tickMsg{t}
	}
}

var gainNames = []string{"kp", "ki", "kd"}

// Model is the bubbletea model of the console.
type Model struct {
	ctrl  Controller
	ticks <-chan *rig.Tick
	opts  Options

	last    *rig.Tick
	temps   []*Ring
	history int

	zone   int
	gain   int
	status string
	done   bool

	width  int
	height int
}

func New(ctrl Controller, ticks <-chan *rig.Tick, opts Options) Model {
	if opts.History <= 0 {
		opts.History = defaultHistory
	}
	if opts.Title == "" {
		opts.Title = "coolrig"
	}
	return Model{
		ctrl:    ctrl,
		ticks:   ticks,
		opts:    opts,
		history: opts.History,
		width:   100,
		height:  30,
	}
}

func (m Model) Init() tea.Cmd { return waitForTick(m.ticks) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		m.observe(msg.tick)
		return m, waitForTick(m.ticks)
	case doneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) observe(t *rig.Tick) {
	n := t.Zones()
	if len(m.temps) != n {
		m.temps = make([]*Ring, n)
		for i := range m.temps {
			m.temps[i] = NewRing(m.history)
		}
		if m.zone >= n {
			m.zone = 0
		}
	}
	for i := 0; i < n; i++ {
		m.temps[i].Push(t.Temperatures[i])
	}
	m.last = t
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	cfg := m.ctrl.Config()
	n := len(cfg.Zones)
	if n == 0 {
		if k := msg.String(); k == "q" || k == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}
	z := cfg.Zones[m.zone%n]

	var err error
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "tab", "right", "l":
		m.zone = (m.zone + 1) % n
	case "shift+tab", "left", "h":
		m.zone = (m.zone + n - 1) % n
	case "m":
		m.ctrl.SetTemperatureMode(!cfg.TemperatureMode)
		m.status = "mode change staged"
	case "d":
		m.ctrl.SetDecoupler(!cfg.Decouple)
		m.status = fmt.Sprintf("decoupler %s", onOff(!cfg.Decouple))
	case "up", "k":
		err = m.nudge(cfg, z, +1)
	case "down", "j":
		err = m.nudge(cfg, z, -1)
	case "u":
		err = m.ctrl.SetSetpoint(m.zone, rig.NoTarget)
		m.status = fmt.Sprintf("zone %d setpoint cleared", m.zone)
	case "g":
		m.gain = (m.gain + 1) % len(gainNames)
	case "+", "=":
		err = m.adjustGain(z.Gains, gainStep)
	case "-", "_":
		err = m.adjustGain(z.Gains, -gainStep)
	case "r":
		err = m.ctrl.ResetPID(m.zone)
		m.status = fmt.Sprintf("zone %d controller reset", m.zone)
	case "L":
		err = m.loadSchedule(n)
	case "x":
		m.ctrl.DisableSchedule()
		m.status = "schedule disabled"
	case "<":
		m.resize(m.history / 2)
	case ">":
		m.resize(m.history * 2)
	}
	if err != nil {
		m.status = "error: " + err.Error()
	}
	return m, nil
}

// nudge moves the selected zone's target: the setpoint in temperature mode,
// the manual flow otherwise. An unset setpoint starts from the zone's last
// measured temperature.
func (m *Model) nudge(cfg engine.ControlConfig, z engine.ZoneConfig, dir float64) error {
	if !cfg.TemperatureMode {
		rate := control.ClampFlow(z.ManualFlow + dir*flowStep)
		m.status = fmt.Sprintf("zone %d flow %.1f", m.zone, rate)
		return m.ctrl.SetManualFlow(m.zone, rate)
	}
	base := z.Setpoint.Value
	if !z.Setpoint.Set {
		base = 0
		if m.last != nil && m.zone < m.last.Zones() {
			base = math.Round(m.last.Temperatures[m.zone])
		}
	}
	sp := rig.Target(base + dir*setpointStep)
	m.status = fmt.Sprintf("zone %d setpoint %.1f", m.zone, sp.Value)
	return m.ctrl.SetSetpoint(m.zone, sp)
}

func (m *Model) adjustGain(g rig.Gains, delta float64) error {
	p := [...]*float64{&g.Kp, &g.Ki, &g.Kd}[m.gain]
	*p = math.Max(0, math.Round((*p+delta)*100)/100)
	m.status = fmt.Sprintf("zone %d %s %.2f", m.zone, gainNames[m.gain], *p)
	return m.ctrl.SetGains(m.zone, g)
}

func (m *Model) loadSchedule(zones int) error {
	if m.opts.SchedulePath == "" {
		return errors.New("no schedule file configured")
	}
	t, err := schedule.Load(m.opts.SchedulePath, zones)
	if err != nil {
		return err
	}
	if err := m.ctrl.LoadSchedule(t); err != nil {
		return err
	}
	m.status = fmt.Sprintf("schedule loaded: %d rows", t.Len())
	return nil
}

func (m *Model) resize(capacity int) {
	capacity = max(minHistory, min(maxHistory, capacity))
	m.history = capacity
	for _, r := range m.temps {
		r.Resize(capacity)
	}
	m.status = fmt.Sprintf("history %d ticks", capacity)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(strings.ToUpper(m.opts.Title)) + "\n")

	cfg := m.ctrl.Config()
	mode := yellow.Render("MANUAL")
	if cfg.TemperatureMode {
		mode = green.Render("TEMPERATURE")
	}
	b.WriteString(labelStyle.Render("Mode") + mode)
	b.WriteString(dim.Render("   decoupler ") + cyan.Render(onOff(cfg.Decouple)) + "\n")

	if m.last == nil {
		b.WriteString("\n" + dim.Render("waiting for first tick...") + "\n")
		b.WriteString(m.viewHelp())
		return b.String()
	}
	t := m.last

	st := schedule.StatusOf(t.Schedule)
	b.WriteString(labelStyle.Render("Schedule") + valueStyle.Render(st.State.String()))
	if st.State != schedule.Disabled {
		b.WriteString(dim.Render("  "+st.IntervalLabel()+"  ") + white.Render(st.ValuesLabel()))
		b.WriteString(dimmer.Render(fmt.Sprintf("  %d left", st.Remaining)))
	}
	b.WriteString("\n")

	lo, hi := region.MinMax(t.Field)
	b.WriteString(labelStyle.Render("Time") + valueStyle.Render(fmt.Sprintf("%.1fs", t.Time)))
	b.WriteString(dim.Render(fmt.Sprintf("   tick %d   dt %.3fs", t.Seq, t.Dt)) + "\n")
	b.WriteString(labelStyle.Render("Field") + valueStyle.Render(fmt.Sprintf("min %.2f  max %.2f", lo, hi)) + "\n\n")

	b.WriteString(panelStyle.Render(m.viewZones(cfg, t)) + "\n")

	if chart := m.viewChart(); chart != "" {
		b.WriteString(chart + "\n")
	}
	if m.status != "" {
		b.WriteString(magenta.Render(m.status) + "\n")
	}
	b.WriteString(m.viewHelp())
	return b.String()
}

func (m Model) viewZones(cfg engine.ControlConfig, t *rig.Tick) string {
	var b strings.Builder
	b.WriteString(dim.Render(fmt.Sprintf("%-6s %8s %8s %8s  %-22s %-11s %s", "zone", "temp", "target", "flow", "", "source", "gains")))
	for i := 0; i < t.Zones(); i++ {
		target := "-"
		if t.TemperatureMode && t.Setpoints[i].Set {
			target = fmt.Sprintf("%.2f", t.Setpoints[i].Value)
		}
		g := t.Gains[i]
		if i < len(cfg.Zones) {
			g = cfg.Zones[i].Gains
		}
		gains := make([]string, 3)
		for k, v := range []float64{g.Kp, g.Ki, g.Kd} {
			s := fmt.Sprintf("%.2f", v)
			if i == m.zone && k == m.gain {
				s = selectedStyle.Render(s)
			}
			gains[k] = s
		}
		line := fmt.Sprintf("%-6d %8.2f %8s %8.1f  %s %-11s %s",
			i, t.Temperatures[i], target, t.Commands[i],
			flowBar(t.Commands[i], control.FlowMax, 22), t.Sources[i], strings.Join(gains, " "))
		b.WriteString("\n")
		if i == m.zone {
			b.WriteString(selectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
	}
	return b.String()
}

func (m Model) viewChart() string {
	series := make([][]float64, 0, len(m.temps))
	for _, r := range m.temps {
		if r.Len() > 1 {
			series = append(series, r.Values())
		}
	}
	if len(series) == 0 {
		return ""
	}
	width := m.width - 12
	if width < 20 {
		width = 20
	}
	colors := make([]asciigraph.AnsiColor, len(series))
	for i := range colors {
		colors[i] = seriesColors[i%len(seriesColors)]
	}
	return asciigraph.PlotMany(series,
		asciigraph.Height(8),
		asciigraph.Width(width),
		asciigraph.Precision(1),
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption("zone temperatures"),
	)
}

func (m Model) viewHelp() string {
	return "\n" + keyHint.Render("tab zone  ↑/↓ target  m mode  d decoupler  u unset  g/+/- gains  r reset  L load  x unschedule  </> history  q quit")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Run shows the console until the user quits, ctx ends or the sink closes.
func Run(ctx context.Context, ctrl Controller, sink *ChannelSink, opts Options) error {
	p := tea.NewProgram(New(ctrl, sink.Ticks(), opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

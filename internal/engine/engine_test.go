package engine_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/coolrig/internal/engine"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
	"github.com/san-kum/coolrig/internal/timeutil"
)

type scriptedSensor struct {
	mu    sync.Mutex
	next  func(n int) (rig.Field, error)
	reads int
}

func (s *scriptedSensor) ReadField(ctx context.Context) (rig.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.next(s.reads)
}

func uniform(rows, cols int, v float64) rig.Field {
	f := rig.NewField(rows, cols)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

type recordingActuator struct {
	mu       sync.Mutex
	flows    []float64
	feedback []float64
	sets     int
	closed   int
	setErr   error
}

func newRecordingActuator(zones int) *recordingActuator {
	return &recordingActuator{flows: make([]float64, zones)}
}

func (a *recordingActuator) SetFlow(ctx context.Context, zone int, rate float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.setErr != nil {
		return a.setErr
	}
	a.sets++
	a.flows[zone] = rate
	return nil
}

func (a *recordingActuator) Flow(ctx context.Context) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	src := a.flows
	if a.feedback != nil {
		src = a.feedback
	}
	return append([]float64(nil), src...), nil
}

func (a *recordingActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

func (a *recordingActuator) snapshot() ([]float64, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.flows...), a.sets, a.closed
}

var _ = Describe("Engine", func() {
	var (
		clock *timeutil.Manual
		opts  engine.Options
		act   *recordingActuator
	)

	BeforeEach(func() {
		clock = timeutil.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
		opts = engine.DefaultOptions(1)
		opts.Rows, opts.Cols = 2, 2
		opts.Period = time.Second
		opts.Clock = clock
		act = newRecordingActuator(1)
	})

	step := func(e *engine.Engine) *rig.Tick {
		GinkgoHelper()
		t, err := e.Step(context.Background())
		Expect(err).NotTo(HaveOccurred())
		clock.Advance(opts.Period)
		return t
	}

	Describe("temperature mode", func() {
		It("drives the PID through the reference sequence", func() {
			temps := []float64{60, 58, 56}
			sensor := &scriptedSensor{next: func(n int) (rig.Field, error) {
				return uniform(2, 2, temps[n-1]), nil
			}}
			act.feedback = []float64{100}

			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())
			e.SetTemperatureMode(true)
			Expect(e.SetGains(0, rig.Gains{Kp: 2, Ki: 0.5})).To(Succeed())
			Expect(e.SetSetpoint(0, rig.Target(50))).To(Succeed())

			var outputs []float64
			for range temps {
				t := step(e)
				Expect(t.Dt).To(BeNumerically("==", 1))
				outputs = append(outputs, t.Commands[0])
			}
			Expect(outputs).To(Equal([]float64{25, 25, 24}))

			integral, prevErr, _, err := e.PIDState(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(integral).To(BeNumerically("~", 24, 1e-12))
			Expect(prevErr).To(BeNumerically("~", 6, 1e-12))
		})

		It("applies the decoupler to the PID output vector", func() {
			opts = engine.DefaultOptions(2)
			opts.Rows, opts.Cols = 1, 2
			opts.Period = time.Second
			opts.Clock = clock
			act = newRecordingActuator(2)
			act.feedback = []float64{100, 100}

			sensor := &scriptedSensor{next: func(int) (rig.Field, error) {
				f := rig.NewField(1, 2)
				f.Set(0, 0, 60)
				f.Set(0, 1, 70)
				return f, nil
			}}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())
			e.SetTemperatureMode(true)
			e.SetDecoupler(true)
			for z := 0; z < 2; z++ {
				Expect(e.SetBoundary(z, rig.Boundary{XMin: z, XMax: z + 1, YMin: 0, YMax: 1})).To(Succeed())
				Expect(e.SetGains(z, rig.Gains{Kp: 1})).To(Succeed())
				Expect(e.SetSetpoint(z, rig.Target(50))).To(Succeed())
			}

			t := step(e)
			Expect(t.Temperatures).To(Equal([]float64{60, 70}))
			Expect(t.Outputs).To(Equal([]float64{10, 20}))
			Expect(t.Decoupled).To(BeTrue())
			Expect(t.Commands[0]).To(BeNumerically("==", 0))
			Expect(t.Commands[1]).To(BeNumerically("~", 10.3, 1e-9))
		})
	})

	Describe("scheduling", func() {
		It("overrides manual flow and pops rows as time passes", func() {
			opts = engine.DefaultOptions(2)
			opts.Rows, opts.Cols = 2, 2
			opts.Period = time.Second
			opts.Clock = clock
			act = newRecordingActuator(2)
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}

			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.SetManualFlow(0, 99)).To(Succeed())

			tbl, err := schedule.NewTable([]schedule.Row{
				{Time: 0, Values: []float64{10, 20}},
				{Time: 5, Values: []float64{30, 40}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.LoadSchedule(tbl)).To(Succeed())

			var last *rig.Tick
			for i := 0; i <= 5; i++ {
				last = step(e)
				Expect(last.Commands).To(Equal([]float64{10, 20}), "elapsed %d", i)
			}
			Expect(last.Schedule.State).To(Equal(schedule.Exhausted.String()))

			last = step(e)
			Expect(last.Time).To(BeNumerically("==", 6))
			Expect(last.Commands).To(Equal([]float64{30, 40}))
			Expect(last.Schedule.State).To(Equal(schedule.Exhausted.String()))
			Expect(last.Sources[0]).To(HavePrefix("scheduled"))
		})

		It("feeds scheduled values to the PID as setpoints in temperature mode", func() {
			opts = engine.DefaultOptions(2)
			opts.Rows, opts.Cols = 1, 2
			opts.Period = time.Second
			opts.Clock = clock
			act = newRecordingActuator(2)
			act.feedback = []float64{100, 100}

			sensor := &scriptedSensor{next: func(int) (rig.Field, error) {
				f := rig.NewField(1, 2)
				f.Set(0, 0, 60)
				f.Set(0, 1, 70)
				return f, nil
			}}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())
			e.SetTemperatureMode(true)
			e.SetDecoupler(true)
			for z := 0; z < 2; z++ {
				Expect(e.SetBoundary(z, rig.Boundary{XMin: z, XMax: z + 1, YMin: 0, YMax: 1})).To(Succeed())
				Expect(e.SetGains(z, rig.Gains{Kp: 1})).To(Succeed())
			}

			tbl, err := schedule.NewTable([]schedule.Row{
				{Time: 0, Values: []float64{55, 40}},
				{Time: 100, Values: []float64{20, 20}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.LoadSchedule(tbl)).To(Succeed())
			Expect(e.SetSetpoint(0, rig.Target(10))).To(Succeed())

			t := step(e)
			Expect(t.Setpoints).To(Equal([]rig.Setpoint{rig.Target(55), rig.Target(40)}))
			Expect(t.Sources).To(Equal([]string{"scheduled(55.00)", "scheduled(40.00)"}))
			Expect(t.Outputs).To(Equal([]float64{5, 30}))
			Expect(t.Decoupled).To(BeTrue())
			Expect(t.Commands[0]).To(BeNumerically("==", 0))
			Expect(t.Commands[1]).To(BeNumerically("~", 25.15, 1e-9))
		})

		It("hands control back and clears superseded targets when disabled", func() {
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())

			tbl, err := schedule.NewTable([]schedule.Row{
				{Time: 0, Values: []float64{10}},
				{Time: 5, Values: []float64{20}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.LoadSchedule(tbl)).To(Succeed())
			Expect(e.SetManualFlow(0, 70)).To(Succeed())
			Expect(e.SetSetpoint(0, rig.Target(25))).To(Succeed())

			t := step(e)
			Expect(t.Commands).To(Equal([]float64{10}))
			Expect(t.Sources[0]).To(HavePrefix("scheduled"))

			e.DisableSchedule()
			cfg := e.Config()
			Expect(cfg.Schedule).To(BeNil())
			Expect(cfg.Zones[0].ManualFlow).To(BeZero())
			Expect(cfg.Zones[0].Setpoint.Set).To(BeFalse())

			t = step(e)
			Expect(t.Commands).To(Equal([]float64{0}))
			Expect(t.Sources[0]).To(Equal("manual(0.00)"))
			Expect(t.Schedule.State).To(Equal(schedule.Disabled.String()))

			Expect(e.SetManualFlow(0, 40)).To(Succeed())
			Expect(step(e).Commands).To(Equal([]float64{40}))
		})

		It("restarts the elapsed-time epoch when a schedule is loaded mid-run", func() {
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.SetManualFlow(0, 5)).To(Succeed())

			for i := 0; i < 10; i++ {
				Expect(step(e).Commands).To(Equal([]float64{5}))
			}

			tbl, err := schedule.NewTable([]schedule.Row{
				{Time: 0, Values: []float64{10}},
				{Time: 5, Values: []float64{20}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.LoadSchedule(tbl)).To(Succeed())

			for i := 0; i <= 5; i++ {
				t := step(e)
				Expect(t.Time).To(BeNumerically("==", i))
				Expect(t.Commands).To(Equal([]float64{10}), "elapsed %d", i)
			}
			t := step(e)
			Expect(t.Time).To(BeNumerically("==", 6))
			Expect(t.Commands).To(Equal([]float64{20}))
		})

		It("rejects a table of the wrong width", func() {
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())

			tbl, err := schedule.NewTable([]schedule.Row{{Time: 0, Values: []float64{1, 2}}})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.LoadSchedule(tbl)).To(MatchError(engine.ErrScheduleWidth))
			Expect(e.Config().Schedule).To(BeNil())
		})
	})

	Describe("staging", func() {
		var (
			e      *engine.Engine
			sensor *scriptedSensor
		)

		BeforeEach(func() {
			sensor = &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
			var err error
			e, err = engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())
		})

		It("commits changes only at the next tick boundary", func() {
			Expect(e.SetManualFlow(0, 50)).To(Succeed())
			Expect(step(e).Commands).To(Equal([]float64{50}))

			e.SetTemperatureMode(true)
			cfg := e.Config()
			Expect(cfg.TemperatureMode).To(BeTrue())
			Expect(cfg.Zones[0].ManualFlow).To(BeZero())
			Expect(cfg.Zones[0].Setpoint.Set).To(BeFalse())

			flows, _, _ := act.snapshot()
			Expect(flows).To(Equal([]float64{50}))

			t := step(e)
			Expect(t.TemperatureMode).To(BeTrue())
			Expect(t.Setpoints[0].Set).To(BeFalse())
			Expect(t.Commands).To(Equal([]float64{0}))
		})

		It("clamps manual flow and boundaries on entry", func() {
			Expect(e.SetManualFlow(0, 1e6)).To(Succeed())
			Expect(e.SetBoundary(0, rig.Boundary{XMin: -3, XMax: 40, YMin: 0, YMax: 99})).To(Succeed())

			cfg := e.Config()
			Expect(cfg.Zones[0].ManualFlow).To(BeNumerically("==", 300))
			Expect(cfg.Zones[0].Boundary).To(Equal(rig.Boundary{XMin: 0, XMax: 2, YMin: 0, YMax: 2}))
		})

		It("rejects empty boundaries and bad zone indices", func() {
			Expect(e.SetBoundary(0, rig.Boundary{XMin: 1, XMax: 1, YMin: 0, YMax: 2})).To(MatchError(engine.ErrEmptyBoundary))
			Expect(e.SetGains(3, rig.Gains{})).To(MatchError(rig.ErrZoneIndex))
			Expect(e.ResetPID(-1)).To(MatchError(rig.ErrZoneIndex))
		})

		It("keeps PID state across mode switches until reset", func() {
			act.feedback = []float64{100}
			e.SetTemperatureMode(true)
			Expect(e.SetGains(0, rig.Gains{Kp: 1, Ki: 1})).To(Succeed())
			Expect(e.SetSetpoint(0, rig.Target(20))).To(Succeed())
			step(e)

			e.SetTemperatureMode(false)
			step(e)
			integral, _, _, _ := e.PIDState(0)
			Expect(integral).To(BeNumerically("==", 10))

			Expect(e.ResetPID(0)).To(Succeed())
			step(e)
			integral, _, _, _ = e.PIDState(0)
			Expect(integral).To(BeZero())
		})
	})

	Describe("failures", func() {
		It("skips the command phase when the sensor fails", func() {
			boom := errors.New("i2c timeout")
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return rig.Field{}, boom }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Step(context.Background())
			Expect(err).To(MatchError(boom))
			var te *engine.TickError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.Phase).To(Equal(engine.PhaseSensor))

			_, sets, _ := act.snapshot()
			Expect(sets).To(BeZero())
		})

		It("rejects a field of the wrong resolution", func() {
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(3, 3, 20), nil }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Step(context.Background())
			Expect(err).To(MatchError(rig.ErrResolution))
		})

		It("stops after the consecutive failure limit and zeroes flow", func() {
			opts.Clock = timeutil.Real{}
			opts.Period = time.Millisecond
			opts.MaxFailures = 3
			act.flows[0] = 120

			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return rig.Field{}, errors.New("bus error") }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())

			err = e.Run(context.Background())
			Expect(err).To(MatchError(engine.ErrTooManyFailures))
			Expect(sensor.reads).To(Equal(3))

			flows, _, closed := act.snapshot()
			Expect(flows).To(Equal([]float64{0}))
			Expect(closed).To(Equal(1))
		})
	})

	Describe("shutdown", func() {
		It("zeroes every zone when the context is cancelled", func() {
			opts = engine.DefaultOptions(2)
			opts.Rows, opts.Cols = 2, 2
			opts.Period = time.Millisecond
			act = newRecordingActuator(2)

			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.SetManualFlow(0, 80)).To(Succeed())
			Expect(e.SetManualFlow(1, 90)).To(Succeed())

			ticks := make(chan *rig.Tick, 64)
			e.AddSink(rig.SinkFunc(func(t *rig.Tick) error {
				select {
				case ticks <- t:
				default:
				}
				return nil
			}))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- e.Run(ctx) }()

			Eventually(ticks).Should(Receive())
			cancel()
			Eventually(done).Should(Receive(BeNil()))

			flows, _, closed := act.snapshot()
			Expect(flows).To(Equal([]float64{0, 0}))
			Expect(closed).To(Equal(1))
		})

		It("is idempotent and refuses further ticks", func() {
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())

			Expect(e.Shutdown(context.Background())).To(Succeed())
			Expect(e.Shutdown(context.Background())).To(Succeed())
			_, _, closed := act.snapshot()
			Expect(closed).To(Equal(1))

			_, err = e.Step(context.Background())
			Expect(err).To(MatchError(engine.ErrStopped))
		})

		It("reports actuator errors during shutdown", func() {
			sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
			e, err := engine.New(sensor, act, opts)
			Expect(err).NotTo(HaveOccurred())

			act.setErr = errors.New("port gone")
			Expect(e.Shutdown(context.Background())).To(MatchError(ContainSubstring("port gone")))
			_, _, closed := act.snapshot()
			Expect(closed).To(Equal(1))
		})
	})

	It("emits one tick per step to every sink", func() {
		sensor := &scriptedSensor{next: func(int) (rig.Field, error) { return uniform(2, 2, 30), nil }}
		var seen []int
		opts.Sinks = []rig.Sink{rig.SinkFunc(func(t *rig.Tick) error {
			seen = append(seen, t.Seq)
			return errors.New("disk full")
		})}
		e, err := engine.New(sensor, act, opts)
		Expect(err).NotTo(HaveOccurred())

		step(e)
		step(e)
		Expect(seen).To(Equal([]int{1, 2}))
	})
})

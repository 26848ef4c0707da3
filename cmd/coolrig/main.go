package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/coolrig/internal/analysis"
	"github.com/san-kum/coolrig/internal/api"
	"github.com/san-kum/coolrig/internal/config"
	"github.com/san-kum/coolrig/internal/experiment"
	"github.com/san-kum/coolrig/internal/monitoring"
	"github.com/san-kum/coolrig/internal/optim"
	"github.com/san-kum/coolrig/internal/publish"
	"github.com/san-kum/coolrig/internal/report"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/schedule"
	"github.com/san-kum/coolrig/internal/storage"
	"github.com/san-kum/coolrig/internal/timeutil"
	"github.com/san-kum/coolrig/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	stateFile  string

	period       time.Duration
	record       bool
	runName      string
	scheduleFile string
	maxFailures  int
	useTUI       bool
	verbose      bool
	listenAddr   string
	publishURL   string

	ticks int

	columns    []string
	plotHeight int
	plotWidth  int
	pngFile    string

	reportFile string

	band float64

	zones int

	kpRange []float64
	kiRange []float64
	kdRange []float64
	metric  string
	workers int
	saveTo  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "coolrig",
		Short:        "multi-zone gas cooling controller",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "run directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "start from a preset configuration")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state", "", "apply a saved state file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the control loop in real time",
		Args:  cobra.NoArgs,
		RunE:  runLoop,
	}
	addLoopFlags(runCmd)
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show the operator console")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every tick")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "serve metrics, status and operator endpoints on this address")
	runCmd.Flags().StringVar(&publishURL, "publish", "", "stream readings to a broker (mqtt://, kafka:// or nats://host/topic)")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "run the loop against the simulated rig as fast as possible",
		Args:  cobra.NoArgs,
		RunE:  simulate,
	}
	addLoopFlags(simulateCmd)
	simulateCmd.Flags().IntVar(&ticks, "ticks", 240, "number of control periods")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot tick log columns",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&columns, "column", nil, "columns to plot (default: every temperature)")
	plotCmd.Flags().IntVar(&plotHeight, "height", 12, "plot height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")
	plotCmd.Flags().StringVar(&pngFile, "png", "", "write a PNG chart to this file instead")

	reportCmd := &cobra.Command{
		Use:   "report [run_id]",
		Short: "write an HTML report of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  reportRun,
	}
	reportCmd.Flags().StringVarP(&reportFile, "out", "o", "", "output file (default <run_id>.html)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "step response and oscillation analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().Float64Var(&band, "band", analysis.DefaultBand, "settling band in degrees")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return openStore(nil).ExportJSON(os.Stdout, args[0])
		},
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "inspect schedule files",
	}
	scheduleCheckCmd := &cobra.Command{
		Use:   "check [file]",
		Short: "validate a schedule file",
		Args:  cobra.ExactArgs(1),
		RunE:  checkSchedule,
	}
	scheduleCheckCmd.Flags().IntVar(&zones, "zones", 0, "expected zone count (0 accepts any)")
	scheduleCmd.AddCommand(scheduleCheckCmd)

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "read and write state files",
	}
	stateShowCmd := &cobra.Command{
		Use:   "show [file]",
		Short: "print a state file",
		Args:  cobra.ExactArgs(1),
		RunE:  showState,
	}
	stateSaveCmd := &cobra.Command{
		Use:   "save [file]",
		Short: "save the configured state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := config.SaveState(args[0], config.StateOf(cfg)); err != nil {
				return err
			}
			fmt.Printf("state saved: %s\n", args[0])
			return nil
		},
	}
	stateCmd.AddCommand(stateShowCmd, stateSaveCmd)

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showPresets,
	}

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return config.Save(args[0], cfg)
		},
	}

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search PID gains on the simulated rig",
		Args:  cobra.NoArgs,
		RunE:  tuneGains,
	}
	tuneCmd.Flags().Float64SliceVar(&kpRange, "kp", []float64{1, 2, 4, 8}, "proportional gains to try")
	tuneCmd.Flags().Float64SliceVar(&kiRange, "ki", []float64{0, 0.2, 0.8}, "integral gains to try")
	tuneCmd.Flags().Float64SliceVar(&kdRange, "kd", []float64{0, 0.5}, "derivative gains to try")
	tuneCmd.Flags().IntVar(&ticks, "ticks", 240, "control periods per candidate")
	tuneCmd.Flags().StringVar(&metric, "metric", "tracking_rms", "metric to minimize")
	tuneCmd.Flags().IntVar(&workers, "workers", 0, "parallel simulations (default GOMAXPROCS)")
	tuneCmd.Flags().StringVar(&saveTo, "save", "", "write the tuned state to this file")

	rootCmd.AddCommand(runCmd, simulateCmd, tuneCmd, listCmd, plotCmd, reportCmd, analyzeCmd, exportCmd, scheduleCmd, stateCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addLoopFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&period, "period", 0, "control period (default from config)")
	cmd.Flags().BoolVar(&record, "record", false, "record the run")
	cmd.Flags().StringVar(&runName, "name", "", "run name")
	cmd.Flags().StringVar(&scheduleFile, "schedule", "", "schedule file")
	cmd.Flags().IntVar(&maxFailures, "max-failures", 0, "consecutive failed ticks before stopping")
}

// loadConfig resolves the configuration: preset, then config file, then
// state file, then command-line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if stateFile != "" {
		st, err := config.LoadState(stateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load state: %w", err)
		}
		if err := st.Apply(cfg); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("period") {
		cfg.Period = period
	}
	if flags.Changed("record") {
		cfg.Record = record
	}
	if flags.Changed("schedule") {
		cfg.Control.Schedule = scheduleFile
	}
	if flags.Changed("max-failures") {
		cfg.Control.MaxFailures = maxFailures
	}
	if flags.Changed("data") {
		cfg.DataDir = dataDir
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func openStore(cfg *config.Config) *storage.Store {
	dir := dataDir
	if dir == "" && cfg != nil {
		dir = cfg.DataDir
	}
	if dir == "" {
		dir = config.DefaultDataDir
	}
	return storage.New(dir)
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := timeutil.Real{}
	exp, err := experiment.New(cfg, experiment.NewRegistry(clock), clock, openStore(cfg), runName)
	if err != nil {
		return err
	}
	defer func() {
		if err := exp.Close(); err != nil {
			monitoring.Logf("close: %v", err)
		}
	}()
	if verbose {
		exp.AddSink(rig.SinkFunc(logTick))
	}
	if publishURL != "" {
		name := runName
		if name == "" {
			name = "coolrig"
		}
		tr, err := publish.Open(publishURL, name)
		if err != nil {
			return err
		}
		pub := publish.NewPublisher(name, tr, 64)
		defer pub.Close()
		exp.AddSink(pub)
	}
	if listenAddr != "" {
		metrics := api.NewMetrics()
		srv := api.NewServer(exp.Engine(), metrics)
		exp.AddSink(metrics)
		exp.AddSink(srv)
		go func() {
			if err := srv.ListenAndServe(ctx, listenAddr); err != nil {
				monitoring.Logf("api: %v", err)
			}
		}()
	}

	if !useTUI {
		fmt.Printf("running %d zones every %v (ctrl+c to stop)\n", cfg.Zones, cfg.Period)
		res, err := exp.Run(ctx)
		printResult(res)
		return err
	}

	sink := tui.NewChannelSink(16)
	exp.AddSink(sink)

	// The console logs would tear the alt screen.
	monitoring.SetLogger(nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	type outcome struct {
		res *experiment.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := exp.Run(ctx)
		sink.Close()
		done <- outcome{res, err}
	}()

	tuiErr := tui.Run(ctx, exp.Engine(), sink, tui.Options{
		Title:        "coolrig " + strings.TrimSpace(runName),
		SchedulePath: cfg.Control.Schedule,
	})
	cancel()
	out := <-done
	printResult(out.res)
	return errors.Join(out.err, tuiErr)
}

func simulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Sensor.Kind != config.SensorPlant {
		return fmt.Errorf("simulate needs the plant sensor, config uses %q", cfg.Sensor.Kind)
	}

	clock := timeutil.NewManual(time.Now())
	exp, err := experiment.New(cfg, experiment.NewRegistry(clock), clock, openStore(cfg), runName)
	if err != nil {
		return err
	}
	temps := make([][]float64, cfg.Zones)
	exp.AddSink(rig.SinkFunc(func(t *rig.Tick) error {
		for i, v := range t.Temperatures {
			temps[i] = append(temps[i], v)
		}
		return nil
	}))

	start := time.Now()
	res, err := exp.Simulate(cmd.Context(), ticks)
	if err != nil {
		return err
	}
	fmt.Printf("simulated %v in %v\n\n", time.Duration(ticks)*cfg.Period, time.Since(start).Round(time.Millisecond))
	if len(temps) > 0 && len(temps[0]) > 1 {
		fmt.Println(asciigraph.PlotMany(temps,
			asciigraph.Height(12),
			asciigraph.Width(80),
			asciigraph.Caption("zone temperatures"),
		))
		fmt.Println()
	}
	printResult(res)
	return nil
}

func tuneGains(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Sensor.Kind != config.SensorPlant {
		return fmt.Errorf("tune needs the plant sensor, config uses %q", cfg.Sensor.Kind)
	}
	if !cfg.Control.TemperatureMode {
		return errors.New("tune needs temperature mode")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grid := optim.NewGridSearch(optim.GainNames, [][]float64{kpRange, kiRange, kdRange})
	grid.Workers = workers

	candidates := len(kpRange) * len(kiRange) * len(kdRange)
	fmt.Printf("searching %d candidates over %v each\n", candidates, time.Duration(ticks)*cfg.Period)

	start := time.Now()
	res, err := grid.Search(ctx, optim.GainObjective(cfg, ticks, metric))
	if err != nil {
		return err
	}
	fmt.Printf("done in %v (%d failed)\n\n", time.Since(start).Round(time.Millisecond), res.Failed)
	fmt.Printf("kp: %g\nki: %g\nkd: %g\n%s: %.4f\n", res.Params["kp"], res.Params["ki"], res.Params["kd"], metric, res.Score)

	if saveTo == "" {
		return nil
	}
	for i := range cfg.Regions {
		cfg.Regions[i].Gains = rig.Gains{Kp: res.Params["kp"], Ki: res.Params["ki"], Kd: res.Params["kd"]}
	}
	if err := config.SaveState(saveTo, config.StateOf(cfg)); err != nil {
		return err
	}
	fmt.Printf("state saved: %s\n", saveTo)
	return nil
}

func logTick(t *rig.Tick) error {
	parts := make([]string, t.Zones())
	for i := range parts {
		parts[i] = fmt.Sprintf("z%d %.2f->%.1f", i, t.Temperatures[i], t.Commands[i])
	}
	monitoring.Logf("tick %d t=%.1fs %s", t.Seq, t.Time, strings.Join(parts, "  "))
	return nil
}

func printResult(res *experiment.Result) {
	if res == nil {
		return
	}
	fmt.Printf("ticks: %d\n", res.Ticks)
	if res.RunID != "" {
		fmt.Printf("run: %s\n", res.RunID)
	}
	for _, name := range []string{"control_effort", "tracking_rms", "saturation"} {
		if v, ok := res.Metrics[name]; ok {
			fmt.Printf("%s: %.4f\n", name, v)
		}
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := openStore(nil)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tZONES\tTICKS\tPERIOD\tMODE\tDEVICES")

	for _, run := range runs {
		mode := "manual"
		if run.TemperatureMode {
			mode = "temperature"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2fs\t%s\t%s/%s\n",
			run.ID[:8],
			run.Name,
			run.Started.Format("2006-01-02 15:04:05"),
			run.Zones,
			run.Ticks,
			run.Period,
			mode,
			run.Sensor,
			run.Actuator,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := openStore(nil)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	log, err := st.LoadTicks(args[0])
	if err != nil {
		return err
	}
	if len(log.Rows) < 2 {
		return fmt.Errorf("run %s has %d ticks, nothing to plot", meta.ID, len(log.Rows))
	}
	if pngFile != "" {
		return writeFile(pngFile, func(f *os.File) error { return report.PNG(f, meta, log) })
	}

	names := columns
	if len(names) == 0 {
		for i := 0; i < meta.Zones; i++ {
			names = append(names, fmt.Sprintf("temperature_%d", i))
		}
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("ticks: %d\n\n", len(log.Rows))

	for _, name := range names {
		data := log.Column(name)
		if data == nil {
			return fmt.Errorf("run %s has no column %q", meta.ID, name)
		}
		if allNaN(data) {
			fmt.Printf("%s: no data\n\n", name)
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(plotHeight),
			asciigraph.Width(plotWidth),
			asciigraph.Caption(name),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func reportRun(cmd *cobra.Command, args []string) error {
	st := openStore(nil)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	log, err := st.LoadTicks(args[0])
	if err != nil {
		return err
	}
	out := reportFile
	if out == "" {
		out = meta.ID + ".html"
	}
	return writeFile(out, func(f *os.File) error { return report.HTML(f, meta, log) })
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	st := openStore(nil)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	log, err := st.LoadTicks(args[0])
	if err != nil {
		return err
	}
	res, err := analysis.FromLog(log, meta.Zones, band)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("band: ±%g\n\n", band)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ZONE\tSETPOINT\tSAMPLES\tOVERSHOOT\tSETTLING\tSS ERROR\tPERIOD")
	for _, r := range res {
		if r.Samples == 0 {
			fmt.Fprintf(w, "%d\t-\t0\t-\t-\t-\t-\n", r.Zone)
			continue
		}
		settling := "not settled"
		if !math.IsNaN(r.SettlingTime) {
			settling = fmt.Sprintf("%.1fs", r.SettlingTime)
		}
		period := "-"
		if r.Period > 0 {
			period = fmt.Sprintf("%.1fs", r.Period)
		}
		fmt.Fprintf(w, "%d\t%.2f\t%d\t%.2f\t%s\t%+.3f\t%s\n",
			r.Zone, r.Setpoint, r.Samples, r.Overshoot, settling, r.SteadyStateError, period)
	}
	return w.Flush()
}

func allNaN(v []float64) bool {
	for _, x := range v {
		if !math.IsNaN(x) {
			return false
		}
	}
	return true
}

func checkSchedule(cmd *cobra.Command, args []string) error {
	t, err := schedule.Load(args[0], zones)
	if err != nil {
		return err
	}
	first, last := t.Rows[0], t.Rows[t.Len()-1]
	fmt.Printf("schedule: %s\n", args[0])
	fmt.Printf("rows: %d\n", t.Len())
	fmt.Printf("zones: %d\n", t.Zones())
	fmt.Printf("span: %g --- %g\n", first.Time, last.Time)
	return nil
}

func showState(cmd *cobra.Command, args []string) error {
	st, err := config.LoadState(args[0])
	if err != nil {
		return err
	}
	mode := "manual"
	if st.TemperatureMode {
		mode = "temperature"
	}
	fmt.Printf("mode: %s\n", mode)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tX\tY\tKP\tKI\tKD")
	for i, r := range st.Regions {
		b := r.Boundary
		gains := "-\t-\t-"
		if r.Gains != nil {
			gains = fmt.Sprintf("%g\t%g\t%g", r.Gains.Kp, r.Gains.Ki, r.Gains.Kd)
		}
		fmt.Fprintf(w, "%d\t[%d,%d)\t[%d,%d)\t%s\n", i, b.XMin, b.XMax, b.YMin, b.YMax, gains)
	}
	return w.Flush()
}

func showPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("presets:")
		for _, name := range config.ListPresets() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}
	cfg := config.GetPreset(args[0])
	if cfg == nil {
		return fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

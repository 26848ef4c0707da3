package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/san-kum/coolrig/internal/storage"
)

// HTML writes a self-contained page with zone temperatures, setpoints and
// flow commands over time, plus the run's final metrics when present.
func HTML(w io.Writer, meta *storage.RunMetadata, log *storage.TickLog) error {
	times := log.Column("time")
	if len(times) == 0 {
		return ErrNoData
	}
	temps := zoneSeries(log, meta.Zones, "temperature")
	if len(temps) == 0 {
		return ErrNoData
	}

	xs := make([]string, len(times))
	for i, t := range times {
		xs[i] = fmt.Sprintf("%.2f", t)
	}
	colors := palette(meta.Zones)

	temp := newLine(title(meta), "zone temperatures", "temperature (°C)")
	temp.SetXAxis(xs)
	for _, s := range temps {
		temp.AddSeries(fmt.Sprintf("zone %d", s.zone), lineData(s.values),
			charts.WithLineStyleOpts(opts.LineStyle{Color: hex(colors[s.zone])}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(colors[s.zone])}),
		)
	}
	for _, s := range zoneSeries(log, meta.Zones, "temperature_setpoint") {
		temp.AddSeries(fmt.Sprintf("setpoint %d", s.zone), lineData(s.values),
			charts.WithLineStyleOpts(opts.LineStyle{Color: hex(colors[s.zone]), Type: "dashed"}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(colors[s.zone])}),
		)
	}

	flow := newLine("", "flow commands", "flow (sccm)")
	flow.SetXAxis(xs)
	for _, s := range zoneSeries(log, meta.Zones, "mfc") {
		flow.AddSeries(fmt.Sprintf("zone %d", s.zone), lineData(s.values),
			charts.WithLineStyleOpts(opts.LineStyle{Color: hex(colors[s.zone])}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(colors[s.zone])}),
		)
	}

	page := components.NewPage()
	page.PageTitle = title(meta)
	page.AddCharts(temp, flow)

	if len(meta.Metrics) > 0 {
		page.AddCharts(metricsBar(meta.Metrics))
	}
	return page.Render(w)
}

func newLine(heading, subtitle, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: heading, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	return line
}

// lineData maps NaN to "-", which echarts draws as a gap.
func lineData(values []float64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			data[i] = opts.LineData{Value: "-"}
			continue
		}
		data[i] = opts.LineData{Value: v}
	}
	return data
}

func metricsBar(metrics map[string]float64) *charts.Bar {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]opts.BarData, len(names))
	for i, name := range names {
		data[i] = opts.BarData{Value: metrics[name]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Subtitle: "run metrics"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("metrics", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

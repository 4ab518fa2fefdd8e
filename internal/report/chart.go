package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/samber/lo"
)

// WriteChart renders an HTML bar chart of mean, p95 and p99 latency per grid
// point.
func WriteChart(w io.Writer, rows []Row) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Inference latency",
			Subtitle: "milliseconds per iteration",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)

	labels := lo.Map(rows, func(r Row, _ int) string {
		return fmt.Sprintf("e%d/b%d", r.Epochs, r.BatchSize)
	})
	series := func(value func(Row) float64) []opts.BarData {
		return lo.Map(rows, func(r Row, _ int) opts.BarData {
			return opts.BarData{Value: value(r)}
		})
	}

	bar.SetXAxis(labels).
		AddSeries("mean", series(func(r Row) float64 { return r.MeanMs })).
		AddSeries("p95", series(func(r Row) float64 { return r.P95Ms })).
		AddSeries("p99", series(func(r Row) float64 { return r.P99Ms }))

	return bar.Render(w)
}

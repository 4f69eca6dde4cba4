package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
)

const (
	chartWidth    = "100%"
	chartHeight   = "500px"
	xAxisRotate   = 30
	labelFontSize = 10
)

// Series colors.
const (
	colorCount   = "#a16207"
	colorMin     = "#0369a1"
	colorMax     = "#b91c1c"
	colorAverage = "#4d7c0f"
)

// renderPlot writes an HTML page with one bar chart for the distinct counts
// and one for the length statistics of every field.
func renderPlot(w io.Writer, rep Report) error {
	summaries := rep.Result.Summaries()

	labels := make([]string, len(summaries))
	counts := make([]opts.BarData, len(summaries))
	mins := make([]opts.BarData, len(summaries))
	maxs := make([]opts.BarData, len(summaries))
	avgs := make([]opts.BarData, len(summaries))

	for i, s := range summaries {
		labels[i] = s.Field
		if labels[i] == "" {
			labels[i] = defaultFieldLabel
		}

		counts[i] = opts.BarData{Value: s.Count}
		mins[i] = boundData(s.Min)
		maxs[i] = boundData(s.Max)
		avgs[i] = opts.BarData{Value: s.Average}
	}

	countChart := newBarChart("Distinct values", "Number of distinct values per field", labels, "count")
	countChart.AddSeries("count", counts, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorCount}))

	lengthChart := newBarChart("Length", "Minimum, maximum and average length per field", labels, "length")
	lengthChart.AddSeries("min", mins, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorMin}))
	lengthChart.AddSeries("max", maxs, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorMax}))
	lengthChart.AddSeries("average", avgs, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorAverage}))

	page := components.NewPage()
	page.PageTitle = "fieldagg: " + datasetLabel(rep.Dataset)
	page.AddCharts(countChart, lengthChart)

	err := page.Render(w)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}

func newBarChart(title, subtitle string, labels []string, yName string) *charts.Bar {
	bar := charts.NewBar()

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "0"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Rotate: xAxisRotate, Interval: "0", FontSize: labelFontSize},
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)
	bar.SetXAxis(labels)

	return bar
}

// boundData leaves empty-input sentinels without a value so no bar is drawn.
func boundData(b aggregate.Bound) opts.BarData {
	if b.IsEmpty() {
		return opts.BarData{}
	}

	return opts.BarData{Value: float64(b)}
}

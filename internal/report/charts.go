package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tankwatch/internal/decision"
)

// ErrNoData is returned when there is nothing to chart.
var ErrNoData = errors.New("no data to chart")

// LengthHistogram renders the distribution of measured lengths as a PNG.
func LengthHistogram(title string, records []decision.Record) ([]byte, error) {
	values := make(plotter.Values, 0, len(records))
	for _, r := range records {
		values = append(values, r.LengthCm)
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Length (cm)"
	p.Y.Label.Text = "Count"

	bins := len(values)
	if bins > 20 {
		bins = 20
	}
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, fmt.Errorf("build histogram: %w", err)
	}
	p.Add(hist)

	w, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("render histogram: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode histogram: %w", err)
	}
	return buf.Bytes(), nil
}

// RunsChart renders fish count and average length across runs as an HTML
// line chart. runs are plotted in the order given.
func RunsChart(w io.Writer, runs []decision.Summary) error {
	x := make([]string, 0, len(runs))
	counts := make([]opts.LineData, 0, len(runs))
	lengths := make([]opts.LineData, 0, len(runs))
	for _, r := range runs {
		x = append(x, r.RunID)
		counts = append(counts, opts.LineData{Value: r.NumFish})
		lengths = append(lengths, opts.LineData{Value: r.AvgLengthCm})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tank runs", Width: "100%", Height: "560px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tank runs", Subtitle: fmt.Sprintf("%d runs", len(runs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Run"}),
	)
	line.SetXAxis(x).
		AddSeries("fish", counts).
		AddSeries("avg length (cm)", lengths).
		SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}))

	return line.Render(w)
}

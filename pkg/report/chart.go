package report

import (
	"fmt"
	"io"
	"time"

	"github.com/thannaske/s3tracker/pkg/models"
	"github.com/wcharczuk/go-chart/v2"
)

// ChartInput is everything needed to draw one size chart.
type ChartInput struct {
	Bucket  string
	From    time.Time
	To      time.Time
	Samples []models.BucketUsage
	// Max is the all-time largest size, 0 when the bucket has no samples at all.
	Max int64
}

// MaxLabel is the legend entry of the reference line.
func MaxLabel(size int64) string {
	return fmt.Sprintf("Historical high = %d bytes", size)
}

// PlaceholderLabel is drawn in place of the series when the window holds no samples.
func PlaceholderLabel(window time.Duration) string {
	return fmt.Sprintf("No data in last %s", window)
}

// Render draws the window's samples as a line with markers plus a dashed line at the
// historical high and writes the PNG to w.
func Render(w io.Writer, in ChartInput) error {
	from, to := in.From, in.To
	if !to.After(from) {
		to = from.Add(time.Second)
	}

	top := float64(in.Max)
	for _, s := range in.Samples {
		if v := float64(s.SizeBytes); v > top {
			top = v
		}
	}
	yMax := top * 1.1
	if yMax < 1 {
		yMax = 1
	}

	var series []chart.Series
	if len(in.Samples) > 0 {
		ts := chart.TimeSeries{
			Name: "Bucket size",
			Style: chart.Style{
				StrokeColor: chart.ColorBlue,
				StrokeWidth: 2,
				DotColor:    chart.ColorBlue,
				DotWidth:    4,
			},
		}
		for _, s := range in.Samples {
			ts.XValues = append(ts.XValues, s.Timestamp)
			ts.YValues = append(ts.YValues, float64(s.SizeBytes))
		}
		series = append(series, ts)
	} else {
		series = append(series, chart.AnnotationSeries{
			Annotations: []chart.Value2{{
				XValue: chart.TimeToFloat64(from.Add(to.Sub(from) / 2)),
				YValue: yMax / 2,
				Label:  PlaceholderLabel(to.Sub(from)),
			}},
		})
	}

	series = append(series, chart.ContinuousSeries{
		Name: MaxLabel(in.Max),
		Style: chart.Style{
			StrokeColor:     chart.ColorRed,
			StrokeWidth:     1.5,
			StrokeDashArray: []float64{5, 5},
		},
		XValues: []float64{chart.TimeToFloat64(from), chart.TimeToFloat64(to)},
		YValues: []float64{float64(in.Max), float64(in.Max)},
	})

	graph := chart.Chart{
		Title:  fmt.Sprintf("S3 bucket size: %s", in.Bucket),
		Width:  1000,
		Height: 500,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:           "Timestamp",
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04:05"),
			Range:          &chart.ContinuousRange{Min: chart.TimeToFloat64(from), Max: chart.TimeToFloat64(to)},
		},
		YAxis: chart.YAxis{
			Name:  "Size (bytes)",
			Range: &chart.ContinuousRange{Min: 0, Max: yMax},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart for %s: %w", in.Bucket, err)
	}
	return nil
}

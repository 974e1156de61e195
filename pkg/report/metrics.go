package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Names
const (
	PlotCounter       = "s3tracker_plots_total"
	PlotDurationHisto = "s3tracker_plot_duration_seconds"
)

// Labels
const (
	OutcomeLabel = "outcome"
)

// Label Values
const (
	SuccessOutcome = "success"
	FailureOutcome = "failure"
)

type Measures struct {
	Plots        *prometheus.CounterVec
	PlotDuration prometheus.Histogram
}

// NewMeasures registers the plot metrics with reg.
func NewMeasures(reg prometheus.Registerer) *Measures {
	f := promauto.With(reg)
	return &Measures{
		Plots: f.NewCounterVec(prometheus.CounterOpts{
			Name: PlotCounter,
			Help: "Counter for the number of chart requests (and their success/failure outcomes).",
		}, []string{OutcomeLabel}),
		PlotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    PlotDurationHisto,
			Help:    "Time spent querying, rendering and publishing a chart.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Measures) observe(err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := SuccessOutcome
	if err != nil {
		outcome = FailureOutcome
	}
	m.Plots.WithLabelValues(outcome).Inc()
	m.PlotDuration.Observe(seconds)
}

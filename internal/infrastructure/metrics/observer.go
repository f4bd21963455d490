// Package metrics exposes batch outcomes as Prometheus series:
//
//	<ns>_batches_total                 batches run
//	<ns>_batch_duration_seconds        batch wall time
//	<ns>_positions                     records evaluated in the last batch
//	<ns>_positions_active              records still active after it
//	<ns>_closes_total{trigger}         closes by trigger
//	<ns>_record_errors_total           per-record error entries
//	<ns>_tier_changes_total            tier upgrades observed
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

type Observer struct {
	reg *prometheus.Registry

	batches     prometheus.Counter
	duration    prometheus.Histogram
	positions   prometheus.Gauge
	active      prometheus.Gauge
	closes      *prometheus.CounterVec
	errors      prometheus.Counter
	tierChanges prometheus.Counter
}

func New(namespace string) *Observer {
	if namespace == "" {
		namespace = "xdsl"
	}
	o := &Observer{
		reg: prometheus.NewRegistry(),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_total", Help: "Batches run",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds", Help: "Batch wall time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		positions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "positions", Help: "Records evaluated in the last batch",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "positions_active", Help: "Records active after the last batch",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "closes_total", Help: "Closed positions by trigger",
		}, []string{"trigger"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "record_errors_total", Help: "Per-record error entries",
		}),
		tierChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tier_changes_total", Help: "Tier upgrades observed",
		}),
	}
	o.reg.MustRegister(o.batches, o.duration, o.positions, o.active, o.closes, o.errors, o.tierChanges)
	return o
}

func (o *Observer) ObserveBatch(rep *model.BatchReport, took time.Duration) {
	if rep == nil {
		return
	}
	o.batches.Inc()
	o.duration.Observe(took.Seconds())
	o.positions.Set(float64(rep.Positions))
	o.active.Set(float64(rep.Active))
	o.errors.Add(float64(len(rep.Errors)))
	for _, c := range rep.Closed {
		o.closes.WithLabelValues(Trigger(c)).Inc()
	}
	for _, r := range rep.Results {
		if r.TierChanged {
			o.tierChanges.Inc()
		}
	}
}

// Trigger buckets a close reason into a low-cardinality label.
func Trigger(e *model.Evaluation) string {
	r := e.CloseReason
	switch {
	case e.StagnationTriggered || strings.HasPrefix(r, "Stagnation"):
		return "stagnation"
	case e.Phase1Autocut:
		return "phase1_timeout"
	case strings.HasPrefix(r, "DSL breach"):
		return "breach"
	case r == model.AlreadyClosedReason || e.CloseResult == model.AlreadyClosedReason:
		return "already_closed"
	default:
		return "other"
	}
}

// Handler serves this observer's registry.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{})
}

func (o *Observer) Registry() *prometheus.Registry { return o.reg }

var _ port.Observer = (*Observer)(nil)

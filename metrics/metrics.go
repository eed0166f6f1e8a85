// Package metrics exposes order, event loop and per-asset accounting figures as
// Prometheus collectors.
package metrics

import (
	"time"

	"asset-trader/execution"
	"asset-trader/marketdata"
	"asset-trader/strategy"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "asset_trader"

// Recorder holds all collectors. It implements execution.OrderObserver and
// engine.EventMetrics.
type Recorder struct {
	Orders        *prometheus.CounterVec
	Events        prometheus.Counter
	EventDuration prometheus.Histogram
	Saves         *prometheus.CounterVec

	Profit         *prometheus.GaugeVec
	Slippage       *prometheus.GaugeVec
	CostWithMargin *prometheus.GaugeVec
	BullishTrades  *prometheus.GaugeVec
	BearishTrades  *prometheus.GaugeVec
	Delta          *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Orders by asset, direction and outcome (filled, simulated, rejected)",
			},
			[]string{"asset", "direction", "outcome"},
		),
		Events: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Market data events processed",
			},
		),
		EventDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_duration_seconds",
				Help:      "Time spent applying an event and running every observer",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),
		Saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saves_total",
				Help:      "Asset store writes by result",
			},
			[]string{"result"},
		),
		Profit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "profit",
				Help:      "Realized profit per asset",
			},
			[]string{"asset"},
		),
		Slippage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "slippage",
				Help:      "Accumulated slippage per asset",
			},
			[]string{"asset"},
		),
		CostWithMargin: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cost_with_margin",
				Help:      "Premium plus worst-case liability per asset, +Inf when risk is undefined",
			},
			[]string{"asset", "structure"},
		),
		BullishTrades: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bullish_trades_available",
				Help:      "Bullish unit trades the budget still allows",
			},
			[]string{"asset"},
		),
		BearishTrades: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bearish_trades_available",
				Help:      "Bearish unit trades the holdings still allow",
			},
			[]string{"asset"},
		),
		Delta: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "delta",
				Help:      "Share-equivalent delta per asset",
			},
			[]string{"asset"},
		),
	}
	if reg != nil {
		reg.MustRegister(r.collectors()...)
	}
	return r
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.Orders, r.Events, r.EventDuration, r.Saves,
		r.Profit, r.Slippage, r.CostWithMargin, r.BullishTrades, r.BearishTrades, r.Delta,
	}
}

// ObserveOrder counts one order outcome.
func (r *Recorder) ObserveOrder(asset string, direction execution.Direction, outcome execution.Outcome) {
	r.Orders.WithLabelValues(asset, string(direction), string(outcome)).Inc()
}

// ObserveEvent records one processed event.
func (r *Recorder) ObserveEvent(_ int, elapsed time.Duration) {
	r.Events.Inc()
	r.EventDuration.Observe(elapsed.Seconds())
}

// ObserveSave counts one store write.
func (r *Recorder) ObserveSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Saves.WithLabelValues(result).Inc()
}

// RecordBindings refreshes the per-asset gauges. Figures that need market data the book
// does not have yet keep their previous value.
func (r *Recorder) RecordBindings(book *marketdata.Book, bindings []*strategy.Binding) {
	for _, b := range bindings {
		if b.Asset == nil || b.Structure == nil {
			continue
		}
		name := b.Asset.DisplayName()
		r.Profit.WithLabelValues(name).Set(b.Asset.Profit.InexactFloat64())
		r.Slippage.WithLabelValues(name).Set(b.Asset.Slippage.InexactFloat64())
		r.CostWithMargin.WithLabelValues(name, b.Structure.Name()).Set(b.Structure.CostWithMargin(b.Asset).Float64())

		if av, err := b.Structure.Availability(b.Asset, book); err == nil {
			r.BullishTrades.WithLabelValues(name).Set(float64(av.BullishTrades))
			r.BearishTrades.WithLabelValues(name).Set(float64(av.BearishTrades))
		}
		if delta, err := b.Structure.Delta(b.Asset, book); err == nil {
			r.Delta.WithLabelValues(name).Set(float64(delta))
		}
	}
}

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradeworld_tick_duration_seconds",
		Help:    "Wall time spent in one simulation tick",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	TickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeworld_tick_failures_total",
		Help: "Ticks that returned an error or panicked",
	})

	EventsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeworld_events_executed_total",
		Help: "Economic events executed",
	}, []string{"category", "severity"})

	MarketStress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeworld_market_stress",
		Help: "Aggregate market stress in [0, 1]",
	})

	MarketPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradeworld_market_price",
		Help: "Current price per market",
	}, []string{"market"})

	StreamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeworld_stream_dropped_total",
		Help: "Stream messages dropped because a subscriber was slow",
	})
)

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bess"

// Metrics owns every exchange instrument. A nil *Metrics is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	orders        *prometheus.CounterVec
	rejects       *prometheus.CounterVec
	trades        *prometheus.CounterVec
	tradedEnergy  *prometheus.CounterVec
	matchDuration *prometheus.HistogramVec

	mark        *prometheus.GaugeVec
	ema         *prometheus.GaugeVec
	vwap        *prometheus.GaugeVec
	priceEvents *prometheus.CounterVec

	soc   prometheus.Gauge
	temp  prometheus.Gauge
	power prometheus.Gauge

	subscribers *prometheus.GaugeVec
	dropped     *prometheus.CounterVec
	sinkErrors  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_accepted_total",
			Help: "Orders accepted into the ledger",
		}, []string{"market", "side"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_rejected_total",
			Help: "Orders rejected by admission",
		}, []string{"market", "reason"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total",
			Help: "Executed trades",
		}, []string{"market"}),
		tradedEnergy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "traded_energy_mwh_total",
			Help: "Executed quantity",
		}, []string{"market"}),
		matchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "match_duration_seconds",
			Help:    "Time spent matching one incoming order",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"market"}),
		mark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "price_mark", Help: "Mark price",
		}, []string{"market"}),
		ema: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "price_ema", Help: "EMA price",
		}, []string{"market"}),
		vwap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "price_vwap", Help: "VWAP price",
		}, []string{"market"}),
		priceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "price_events_total", Help: "Ingested price ticks",
		}, []string{"market"}),
		soc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "soc_percent", Help: "Battery state of charge",
		}),
		temp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "temperature_celsius", Help: "Battery temperature",
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_power_mw", Help: "Battery active power",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_subscribers", Help: "Connected subscribers",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ws_dropped_total", Help: "Subscribers removed after a failed send",
		}, []string{"kind"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total", Help: "Failed event sink publishes",
		}, []string{"sink"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.orders, m.rejects, m.trades, m.tradedEnergy, m.matchDuration,
		m.mark, m.ema, m.vwap, m.priceEvents,
		m.soc, m.temp, m.power,
		m.subscribers, m.dropped, m.sinkErrors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderAccepted(market, side string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(market, side).Inc()
}

func (m *Metrics) OrderRejected(market, reason string) {
	if m == nil {
		return
	}
	m.rejects.WithLabelValues(market, reason).Inc()
}

func (m *Metrics) Trade(market string, qty float64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(market).Inc()
	m.tradedEnergy.WithLabelValues(market).Add(qty)
}

func (m *Metrics) MatchDuration(market string, d time.Duration) {
	if m == nil {
		return
	}
	m.matchDuration.WithLabelValues(market).Observe(d.Seconds())
}

func (m *Metrics) Price(market string, mark, ema, vwap float64) {
	if m == nil {
		return
	}
	m.mark.WithLabelValues(market).Set(mark)
	m.ema.WithLabelValues(market).Set(ema)
	m.vwap.WithLabelValues(market).Set(vwap)
	m.priceEvents.WithLabelValues(market).Inc()
}

func (m *Metrics) Telemetry(soc, temp, power float64) {
	if m == nil {
		return
	}
	m.soc.Set(soc)
	m.temp.Set(temp)
	m.power.Set(power)
}

func (m *Metrics) SubscriberAdded(kind string) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriberRemoved(kind string, dropped bool) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(kind).Dec()
	if dropped {
		m.dropped.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// Package metrics exposes exchange counters and histograms to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
)

const namespace = "tickexchange"

// Metrics holds every instrument the exchange records.
type Metrics struct {
	orders        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	transactions  *prometheus.CounterVec
	volume        *prometheus.CounterVec
	halts         *prometheus.CounterVec
	sagas         *prometheus.CounterVec
	insolvencies  prometheus.Counter
	matchDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders submitted, by market and admission result.",
		}, []string{"market", "result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_rejections_total",
			Help:      "Orders dropped at admission, by market and reason.",
		}, []string{"market", "reason"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Matched transactions, by market and type.",
		}, []string{"market", "type"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_volume_total",
			Help:      "Matched quantity, by market.",
		}, []string{"market"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "halts_total",
			Help:      "Circuit breaker halts, by scope and tier.",
		}, []string{"scope", "tier"}),
		sagas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sagas_total",
			Help:      "Housing sagas, by terminal status.",
		}, []string{"status"}),
		insolvencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_insolvencies_total",
			Help:      "Budget allocations that rejected a mandatory obligation.",
		}),
		matchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Wall time of one matching pass, by market.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"market"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.orders, m.rejections, m.transactions, m.volume,
			m.halts, m.sagas, m.insolvencies, m.matchDuration,
		)
	}
	return m
}

// OrderAccepted counts an order that passed admission.
func (m *Metrics) OrderAccepted(market string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(market, "accepted").Inc()
}

// OrderRejected counts an order dropped at admission.
func (m *Metrics) OrderRejected(market, reason string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(market, "rejected").Inc()
	m.rejections.WithLabelValues(market, reason).Inc()
}

// Transactions counts the output of a matching pass.
func (m *Metrics) Transactions(market string, txs []domain.Transaction) {
	if m == nil {
		return
	}
	for _, tx := range txs {
		m.transactions.WithLabelValues(market, string(tx.Type)).Inc()
		m.volume.WithLabelValues(market).Add(tx.Quantity)
	}
}

// Halt counts a circuit breaker halt. scope is "index" or "item".
func (m *Metrics) Halt(scope string, tier int) {
	if m == nil {
		return
	}
	m.halts.WithLabelValues(scope, strconv.Itoa(tier)).Inc()
}

// Saga counts a saga reaching a terminal status.
func (m *Metrics) Saga(status string) {
	if m == nil {
		return
	}
	m.sagas.WithLabelValues(status).Inc()
}

// Insolvency counts an insolvent budget allocation.
func (m *Metrics) Insolvency() {
	if m == nil {
		return
	}
	m.insolvencies.Inc()
}

// ObserveMatch records the duration of a matching pass.
func (m *Metrics) ObserveMatch(market string, d time.Duration) {
	if m == nil {
		return
	}
	m.matchDuration.WithLabelValues(market).Observe(d.Seconds())
}

// Emit counts the events that have a metric of their own, so Metrics can sit
// in an events.Multi next to the log sink.
func (m *Metrics) Emit(ev events.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case events.OrderRejected:
		m.OrderRejected(ev.MarketID, ev.Reason)
	case events.MarketHalted:
		m.Halt("index", tierOf(ev))
	case events.ItemHalted:
		m.Halt("item", tierOf(ev))
	case events.SagaCompleted, events.SagaFailed:
		status, _ := ev.Attrs["status"].(string)
		m.Saga(status)
	case events.BudgetInsolvent:
		m.Insolvency()
	}
}

func tierOf(ev events.Event) int {
	tier, _ := ev.Attrs["tier"].(int)
	return tier
}

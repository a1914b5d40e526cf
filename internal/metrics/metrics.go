package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "payperplane"

// Label values for the counters below.
const (
	PollResultOK    = "ok"
	PollResultError = "error"
	PollResultIdle  = "idle"

	IssuanceIssued  = "issued"
	IssuanceFailed  = "failed"
	IssuanceSkipped = "skipped"

	SimulationCleared             = "cleared"
	SimulationAlreadyCleared      = "already_cleared"
	SimulationAuthorizationFailed = "authorization_failed"
	SimulationClearingFailed      = "clearing_failed"
	SimulationPreconditionFailed  = "precondition_failed"
)

// Metrics captures poller and reconciler health signals. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	pollIterations       *prometheus.CounterVec
	eventsHandled        prometheus.Counter
	senderLookupFailures prometheus.Counter
	lastBlock            prometheus.Gauge
	cardIssuance         *prometheus.CounterVec
	unsupportedCurrency  prometheus.Counter
	simulations          *prometheus.CounterVec
}

// New registers the collectors on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		pollIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "iterations_total",
			Help:      "Poll iterations by result.",
		}, []string{"result"}),
		eventsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "events_handled_total",
			Help:      "Funded events delivered to the reconciler.",
		}),
		senderLookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "sender_lookup_failures_total",
			Help:      "Transaction lookups that failed while resolving the event sender.",
		}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "last_block",
			Help:      "Highest block fully scanned by the poller.",
		}),
		cardIssuance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "card_issuance_total",
			Help:      "Card issuance attempts by result.",
		}, []string{"result"}),
		unsupportedCurrency: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "unsupported_currency_total",
			Help:      "Funded events whose currency code is outside the supported set.",
		}),
		simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "simulations_total",
			Help:      "Simulate calls by outcome.",
		}, []string{"outcome"}),
	}

	registerer.MustRegister(
		m.pollIterations,
		m.eventsHandled,
		m.senderLookupFailures,
		m.lastBlock,
		m.cardIssuance,
		m.unsupportedCurrency,
		m.simulations,
	)
	return m
}

// PollIteration counts one poll loop iteration by result.
func (m *Metrics) PollIteration(result string) {
	if m == nil {
		return
	}
	m.pollIterations.WithLabelValues(result).Inc()
}

// EventHandled counts a Funded event accepted by the reconciler.
func (m *Metrics) EventHandled() {
	if m == nil {
		return
	}
	m.eventsHandled.Inc()
}

// SenderLookupFailed counts a transaction lookup that returned no sender.
func (m *Metrics) SenderLookupFailed() {
	if m == nil {
		return
	}
	m.senderLookupFailures.Inc()
}

// SetLastBlock records the highest fully scanned block.
func (m *Metrics) SetLastBlock(block uint64) {
	if m == nil {
		return
	}
	m.lastBlock.Set(float64(block))
}

// CardIssuance counts a card issuance attempt by result.
func (m *Metrics) CardIssuance(result string) {
	if m == nil {
		return
	}
	m.cardIssuance.WithLabelValues(result).Inc()
}

// Simulation counts a simulate call by outcome.
func (m *Metrics) Simulation(outcome string) {
	if m == nil {
		return
	}
	m.simulations.WithLabelValues(outcome).Inc()
}

// UnsupportedCurrency counts a Funded event stored without its currency code.
func (m *Metrics) UnsupportedCurrency() {
	if m == nil {
		return
	}
	m.unsupportedCurrency.Inc()
}

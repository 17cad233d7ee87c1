package loom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments loom's core exposes:
// compression bytes in/out as process-wide counters and the current
// compression level as a gauge, plus transaction, connection-mode,
// rule-engine and parse-error activity — promauto-built
// Counter/CounterVec/Gauge/HistogramVec fields constructed once in
// NewMetrics and observed through the Observe* helpers.
type Metrics struct {
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec

	CompressionBytesIn  prometheus.Counter
	CompressionBytesOut prometheus.Counter
	CompressionLevel    prometheus.Gauge

	RuleDecisions *prometheus.CounterVec

	ConnModeSelected *prometheus.CounterVec

	ParseErrors *prometheus.CounterVec
}

// NewMetrics registers every instrument under namespace (default "loom")
// against reg, a caller-owned prometheus.Registry rather than the global
// default one.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "loom"
	}
	factory := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "transactions_total", Help: "Total transactions processed."},
			[]string{"mode", "status"},
		),
		TransactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "transaction_duration_seconds", Help: "Transaction duration in seconds.", Buckets: prometheus.DefBuckets},
			[]string{"mode"},
		),
		CompressionBytesIn: factory.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "compression_bytes_in_total", Help: "Bytes fed into the compression pipeline."},
		),
		CompressionBytesOut: factory.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "compression_bytes_out_total", Help: "Bytes emitted by the compression pipeline."},
		),
		CompressionLevel: factory.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "compression_level", Help: "Current rate-adapted compression level."},
		),
		RuleDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rule_decisions_total", Help: "Rule engine decisions by action."},
			[]string{"hook", "action"},
		),
		ConnModeSelected: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "connection_mode_total", Help: "Connection mode selected per transaction."},
			[]string{"mode"},
		),
		ParseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "parse_errors_total", Help: "Parse failures by who/phase/kind."},
			[]string{"who", "phase", "kind"},
		),
	}
}

// ObserveTransaction records one transaction's mode, outcome (ok or
// aborted), and the time elapsed since start at the moment of the call,
// and counts the mode in ConnModeSelected.
func (m *Metrics) ObserveTransaction(mode ConnMode, aborted bool, start time.Time) {
	status := "ok"
	if aborted {
		status = "aborted"
	}
	m.TransactionsTotal.WithLabelValues(mode.String(), status).Inc()
	m.TransactionDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	m.ConnModeSelected.WithLabelValues(mode.String()).Inc()
}

// ObserveFault increments ParseErrors for a recorded Fault.
func (m *Metrics) ObserveFault(f *Fault) {
	m.ParseErrors.WithLabelValues(f.Who.String(), f.Phase.String(), f.Kind.String()).Inc()
}

// ObserveRuleDecision increments RuleDecisions for one hook point's outcome.
func (m *Metrics) ObserveRuleDecision(hook string, action Action) {
	m.RuleDecisions.WithLabelValues(hook, actionName(action)).Inc()
}

func actionName(a Action) string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionDeny:
		return "deny"
	case ActionTarpit:
		return "tarpit"
	case ActionAuth:
		return "auth"
	case ActionRedirect:
		return "redirect"
	case ActionAddHdr:
		return "add_hdr"
	case ActionSetHdr:
		return "set_hdr"
	case ActionTrackSC1:
		return "track_sc1"
	case ActionTrackSC2:
		return "track_sc2"
	default:
		return "set_backend"
	}
}

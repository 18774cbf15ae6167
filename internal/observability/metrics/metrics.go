package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	namespace = "clinic"
	subsystem = "intake"
)

// IntakeMetrics exposes counters/histograms for the registration wizard.
type IntakeMetrics struct {
	stepTotal        *prometheus.CounterVec
	submissionTotal  *prometheus.CounterVec
	submitLatency    *prometheus.HistogramVec
	sessionsOpened   *prometheus.CounterVec
	gatherer         prometheus.Gatherer
	submissionMetric string
}

// NewIntakeMetrics registers the wizard metrics on reg. A nil reg uses the
// process-wide default registry.
func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		stepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "step_transitions_total",
			Help:      "Next attempts per step, labelled by whether validation let the wizard advance",
		}, []string{"step", "result"}),
		submissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "submissions_total",
			Help:      "Backend submissions by mode and outcome",
		}, []string{"mode", "outcome"}),
		submitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "submit_latency_seconds",
			Help:      "Latency of backend create/update calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_opened_total",
			Help:      "Wizard sessions opened by mode",
		}, []string{"mode"}),
		submissionMetric: namespace + "_" + subsystem + "_submissions_total",
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stepTotal, m.submissionTotal, m.submitLatency, m.sessionsOpened)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// ObserveStep counts a Next attempt on step.
func (m *IntakeMetrics) ObserveStep(step int, result string) {
	if m == nil {
		return
	}
	m.stepTotal.WithLabelValues(strconv.Itoa(step), result).Inc()
}

// ObserveSubmission counts a finished submission and its latency.
func (m *IntakeMetrics) ObserveSubmission(mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.submissionTotal.WithLabelValues(mode, outcome).Inc()
	m.submitLatency.WithLabelValues(mode).Observe(seconds)
}

// ObserveSessionOpened counts a new wizard session.
func (m *IntakeMetrics) ObserveSessionOpened(mode string) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(mode).Inc()
}

// SubmissionSnapshot totals submissions by outcome.
type SubmissionSnapshot struct {
	Total     int64            `json:"total"`
	ByOutcome map[string]int64 `json:"by_outcome"`
	ByMode    map[string]int64 `json:"by_mode"`
}

// Snapshot reads the submission counters back from the registry.
func (m *IntakeMetrics) Snapshot() SubmissionSnapshot {
	out := SubmissionSnapshot{
		ByOutcome: map[string]int64{},
		ByMode:    map[string]int64{},
	}
	if m == nil || m.gatherer == nil {
		return out
	}
	mfs, err := m.gatherer.Gather()
	if err != nil {
		return out
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == m.submissionMetric {
			family = mf
			break
		}
	}
	if family == nil {
		return out
	}

	for _, metric := range family.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		count := int64(metric.GetCounter().GetValue())
		out.Total += count
		if outcome := labelValue(metric, "outcome"); outcome != "" {
			out.ByOutcome[outcome] += count
		}
		if mode := labelValue(metric, "mode"); mode != "" {
			out.ByMode[mode] += count
		}
	}
	return out
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp == nil {
			continue
		}
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

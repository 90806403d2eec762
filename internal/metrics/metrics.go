// Package metrics exposes Prometheus collectors for gateway calls, refresh
// batches and invite generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telebridge"

// Outcomes recorded on gateway calls.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeNetwork  = "network_error"
	OutcomeFallback = "fallback"
)

// Recorder owns a private registry. A nil *Recorder ignores every call.
type Recorder struct {
	registry *prometheus.Registry

	telegramCalls    *prometheus.CounterVec
	telegramDuration *prometheus.HistogramVec
	insightCalls     *prometheus.CounterVec
	refreshGroups    *prometheus.CounterVec
	refreshRuns      prometheus.Counter
	invites          *prometheus.CounterVec
}

// New builds a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		telegramCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_requests_total",
			Help:      "Telegram Bot API calls by method and outcome.",
		}, []string{"method", "outcome"}),
		telegramDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "telegram_request_duration_seconds",
			Help:      "Telegram Bot API round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		insightCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_requests_total",
			Help:      "Generative insight calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
		refreshGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_groups_total",
			Help:      "Per-group member count refresh results.",
		}, []string{"outcome"}),
		refreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_runs_total",
			Help:      "Completed refresh batches.",
		}),
		invites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_links_total",
			Help:      "Invite link generation attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.telegramCalls,
		r.telegramDuration,
		r.insightCalls,
		r.refreshGroups,
		r.refreshRuns,
		r.invites,
	)

	return r
}

// ObserveTelegramCall records one Bot API round trip.
func (r *Recorder) ObserveTelegramCall(method, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.telegramCalls.WithLabelValues(method, outcome).Inc()
	r.telegramDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveInsight records one insight call; outcome is OutcomeOK or OutcomeFallback.
func (r *Recorder) ObserveInsight(kind, outcome string) {
	if r == nil {
		return
	}
	r.insightCalls.WithLabelValues(kind, outcome).Inc()
}

// ObserveRefresh records a finished refresh batch.
func (r *Recorder) ObserveRefresh(updated, failed int) {
	if r == nil {
		return
	}
	r.refreshRuns.Inc()
	r.refreshGroups.WithLabelValues(OutcomeOK).Add(float64(updated))
	r.refreshGroups.WithLabelValues(OutcomeRejected).Add(float64(failed))
}

// ObserveInvite records an invite link attempt.
func (r *Recorder) ObserveInvite(outcome string) {
	if r == nil {
		return
	}
	r.invites.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

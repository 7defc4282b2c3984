// Package stats implements the "stats data sources" component named in
// spec.md §4.11's environment construction order: a pure observer the
// agent runtime and environment push counters into. It must never
// influence delivery order, exactly like message tracing. It is grounded
// on the teacher's pkg/metrics package-level gauge/counter set, adapted
// into one instance-owned Repository (rather than package-level vars on
// the default registry) so multiple environments — in particular multiple
// tests in the same process — never collide over metric registration.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Repository owns the Prometheus registry and every metric the agent
// runtime and environment report into, per spec.md §4.14.
type Repository struct {
	registry *prometheus.Registry

	messagesDelivered  *prometheus.CounterVec
	overflowActions    *prometheus.CounterVec
	agentsRegistered   prometheus.Counter
	agentsDeregistered prometheus.Counter
	coopUsage          *prometheus.GaugeVec
	queueDepth         *prometheus.GaugeVec
}

// NewRepository constructs and registers the full metric set against a
// fresh registry.
func NewRepository() *Repository {
	r := &Repository{registry: prometheus.NewRegistry()}

	r.messagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actorcore_messages_delivered_total",
		Help: "Total number of messages delivered, labeled by mailbox kind.",
	}, []string{"mbox_kind"})

	r.overflowActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actorcore_limit_overflow_actions_total",
		Help: "Total number of message-limit overflow actions fired, labeled by action.",
	}, []string{"action"})

	r.agentsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "actorcore_agents_registered_total",
		Help: "Total number of agents that completed registration.",
	})

	r.agentsDeregistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "actorcore_agents_deregistered_total",
		Help: "Total number of agents that completed deregistration.",
	})

	r.coopUsage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "actorcore_coop_usage_count",
		Help: "Current value of a cooperation's usage reference counter.",
	}, []string{"coop"})

	r.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "actorcore_event_queue_depth",
		Help: "Current number of demands pending in an event queue.",
	}, []string{"queue"})

	r.registry.MustRegister(
		r.messagesDelivered,
		r.overflowActions,
		r.agentsRegistered,
		r.agentsDeregistered,
		r.coopUsage,
		r.queueDepth,
	)
	return r
}

// RecordDelivery increments the delivered-messages counter for mboxKind.
func (r *Repository) RecordDelivery(mboxKind string) {
	if r == nil {
		return
	}
	r.messagesDelivered.WithLabelValues(mboxKind).Inc()
}

// RecordOverflow increments the overflow-action counter for action.
func (r *Repository) RecordOverflow(action string) {
	if r == nil {
		return
	}
	r.overflowActions.WithLabelValues(action).Inc()
}

// RecordAgentRegistered increments the registered-agents counter.
func (r *Repository) RecordAgentRegistered() {
	if r == nil {
		return
	}
	r.agentsRegistered.Inc()
}

// RecordAgentDeregistered increments the deregistered-agents counter.
func (r *Repository) RecordAgentDeregistered() {
	if r == nil {
		return
	}
	r.agentsDeregistered.Inc()
}

// SetCoopUsage reports coop's current usage reference count.
func (r *Repository) SetCoopUsage(coop string, count float64) {
	if r == nil {
		return
	}
	r.coopUsage.WithLabelValues(coop).Set(count)
}

// SetQueueDepth reports queue's current pending-demand depth.
func (r *Repository) SetQueueDepth(queue string, depth float64) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(queue).Set(depth)
}

// Handler exposes the repository's registry in the standard Prometheus
// exposition format.
func (r *Repository) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

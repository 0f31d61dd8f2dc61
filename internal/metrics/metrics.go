// Package metrics exposes the Prometheus collectors the control plane
// publishes on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the control plane registers, so
// main.go wires one object instead of a dozen package-level globals.
type Registry struct {
	EventsTotal             *prometheus.CounterVec
	PlaybookRunsTotal       *prometheus.CounterVec
	PendingApprovals        prometheus.Gauge
	AlertIngressRequests    *prometheus.CounterVec
}

// NewRegistry constructs and registers all collectors against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubernaut_events_total",
			Help: "Cluster events emitted by the watch loop and alert ingress, by type and severity.",
		}, []string{"event_type", "severity"}),
		PlaybookRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubernaut_playbook_runs_total",
			Help: "Playbook runs started, by terminal status.",
		}, []string{"status"}),
		PendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubernaut_pending_approvals",
			Help: "Number of approvals currently awaiting a decision.",
		}),
		AlertIngressRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubernaut_alertingress_requests_total",
			Help: "Webhook requests received by the alert ingress endpoint, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(r.EventsTotal, r.PlaybookRunsTotal, r.PendingApprovals, r.AlertIngressRequests)
	return r
}

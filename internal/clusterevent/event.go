// Package clusterevent defines the shared event vocabulary that flows from
// the watch loop and the alert ingress boundary through the rule engine and
// into the executor.
package clusterevent

import "time"

// EventType enumerates the conditions the control plane knows how to react to.
type EventType string

const (
	EventCrashLoop           EventType = "crash_loop"
	EventOOMKilled           EventType = "oom_killed"
	EventNotReadyNode        EventType = "not_ready_node"
	EventReplicationFailure  EventType = "replication_failure"
	EventHighRestartCount    EventType = "high_restart_count"
	EventAlertmanagerFiring  EventType = "alertmanager_firing"
	EventPrometheusThreshold EventType = "prometheus_threshold"
)

// Severity mirrors the Alertmanager severity vocabulary plus the two levels
// the watch loop emits directly.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ParseSeverity never fails: anything it doesn't recognize defaults to warning.
func ParseSeverity(raw string) Severity {
	switch Severity(raw) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityWarning, SeverityInfo:
		return Severity(raw)
	default:
		return SeverityWarning
	}
}

// Resource identifies the cluster object an event is about.
type Resource struct {
	Kind      string
	Namespace string
	Name      string
}

// Key returns the string used to track edge-triggered emission and recovery.
// Cluster-scoped resources (no namespace) omit the namespace segment.
func (r Resource) Key() string {
	if r.Namespace == "" {
		return r.Kind + "/" + r.Name
	}
	return r.Kind + "/" + r.Namespace + "/" + r.Name
}

// Event is the normalized unit the rule engine matches against.
type Event struct {
	Type       EventType
	Severity   Severity
	Resource   Resource
	Message    string
	Labels     map[string]string
	DetectedAt time.Time
}

// ResourceKey is a convenience accessor used by callers that only need the
// derived key without the full resource struct.
func (e Event) ResourceKey() string {
	return e.Resource.Key()
}

// AsMap renders the event in the flat shape the rule engine's matcher
// historically operated on, kept for callers that log or serialize events
// without round-tripping through the typed struct.
func (e Event) AsMap() map[string]any {
	return map[string]any{
		"event_type":    string(e.Type),
		"severity":      string(e.Severity),
		"namespace":     e.Resource.Namespace,
		"resource_kind": e.Resource.Kind,
		"resource_name": e.Resource.Name,
		"message":       e.Message,
	}
}

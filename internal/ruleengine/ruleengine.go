// Package ruleengine matches cluster events against a registered list of
// rules and returns the playbooks they trigger, in registration order.
package ruleengine

import (
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/kubernaut/controlplane/internal/clusterevent"
)

// Rule maps a condition to a playbook, with optional filters.
type Rule struct {
	ID         string
	Name       string
	Condition  clusterevent.EventType
	PlaybookID string
	Enabled    bool

	// NamespaceFilter, if set, is a regexp the event's namespace must match.
	NamespaceFilter string
	// SeverityFilter, if set, requires an exact severity match.
	SeverityFilter clusterevent.Severity

	namespaceRe *regexp.Regexp
}

// Matches reports whether event satisfies every condition on the rule.
func (r Rule) Matches(event clusterevent.Event) bool {
	if !r.Enabled {
		return false
	}
	if event.Type != r.Condition {
		return false
	}
	if r.namespaceRe != nil && event.Resource.Namespace != "" {
		if !r.namespaceRe.MatchString(event.Resource.Namespace) {
			return false
		}
	}
	if r.SeverityFilter != "" && event.Severity != r.SeverityFilter {
		return false
	}
	return true
}

// Match pairs a matched rule with the playbook it triggers.
type Match struct {
	Rule       Rule
	PlaybookID string
}

// Engine evaluates events against an ordered list of rules. A plain slice
// (rather than a map) is the mechanism that guarantees registration order
// without a side table: iteration order is insertion order by construction.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	log   *zap.Logger
}

// New returns an Engine pre-loaded with the four built-in rules.
func New(log *zap.Logger) *Engine {
	e := &Engine{log: log}
	for _, r := range DefaultRules() {
		e.AddRule(r)
	}
	return e
}

// DefaultRules returns the built-in condition-to-playbook mappings.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:             "rule-001",
			Name:           "CrashLoop Auto-Restart",
			Condition:      clusterevent.EventCrashLoop,
			PlaybookID:     "crash_loop_remediation",
			Enabled:        true,
			SeverityFilter: clusterevent.SeverityCritical,
		},
		{
			ID:             "rule-002",
			Name:           "OOMKill Memory Increase",
			Condition:      clusterevent.EventOOMKilled,
			PlaybookID:     "oom_kill_remediation",
			Enabled:        true,
			SeverityFilter: clusterevent.SeverityCritical,
		},
		{
			ID:             "rule-003",
			Name:           "NotReady Node Evacuation",
			Condition:      clusterevent.EventNotReadyNode,
			PlaybookID:     "node_not_ready_remediation",
			Enabled:        true,
			SeverityFilter: clusterevent.SeverityCritical,
		},
		{
			ID:             "rule-004",
			Name:           "Replication Failure Rollback",
			Condition:      clusterevent.EventReplicationFailure,
			PlaybookID:     "deployment_rollback",
			Enabled:        true,
			SeverityFilter: clusterevent.SeverityCritical,
		},
		{
			ID:             "rule-005",
			Name:           "High Restart Count Scale-Up",
			Condition:      clusterevent.EventHighRestartCount,
			PlaybookID:     "scale_up_on_load",
			Enabled:        true,
			SeverityFilter: clusterevent.SeverityWarning,
		},
	}
}

// AddRule registers rule, appending it to the end of the evaluation order.
// Re-adding an existing ID replaces it in place rather than moving it to
// the end, so operators editing a rule don't reorder the rest of the set.
func (e *Engine) AddRule(r Rule) {
	if r.NamespaceFilter != "" {
		r.namespaceRe = regexp.MustCompile(r.NamespaceFilter)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.ID == r.ID {
			e.rules[i] = r
			return
		}
	}
	e.rules = append(e.rules, r)
}

// RemoveRule deletes the rule with the given ID, if present.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// ListRules returns a copy of the currently registered rules in order.
func (e *Engine) ListRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns every rule that matches event, in registration order.
func (e *Engine) Evaluate(event clusterevent.Event) []Match {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matches []Match
	for _, r := range e.rules {
		if r.Matches(event) {
			if e.log != nil {
				e.log.Info("rule matched",
					zap.String("rule_id", r.ID),
					zap.String("rule_name", r.Name),
					zap.String("event_type", string(event.Type)),
					zap.String("resource", event.ResourceKey()),
				)
			}
			matches = append(matches, Match{Rule: r, PlaybookID: r.PlaybookID})
		}
	}
	return matches
}

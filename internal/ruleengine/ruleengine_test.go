package ruleengine

import (
	"testing"

	"go.uber.org/zap"

	"github.com/kubernaut/controlplane/internal/clusterevent"
)

func TestDefaultRulesRegistrationOrder(t *testing.T) {
	e := New(zap.NewNop())
	rules := e.ListRules()
	wantOrder := []string{"rule-001", "rule-002", "rule-003", "rule-004", "rule-005"}
	if len(rules) != len(wantOrder) {
		t.Fatalf("got %d rules, want %d", len(rules), len(wantOrder))
	}
	for i, id := range wantOrder {
		if rules[i].ID != id {
			t.Errorf("rules[%d].ID = %s, want %s", i, rules[i].ID, id)
		}
	}
}

func TestEvaluateMatchesCriticalCrashLoop(t *testing.T) {
	e := New(zap.NewNop())
	event := clusterevent.Event{
		Type:     clusterevent.EventCrashLoop,
		Severity: clusterevent.SeverityCritical,
		Resource: clusterevent.Resource{Kind: "pod", Namespace: "default", Name: "web-1"},
	}
	matches := e.Evaluate(event)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].PlaybookID != "crash_loop_remediation" {
		t.Errorf("PlaybookID = %s, want crash_loop_remediation", matches[0].PlaybookID)
	}
}

func TestEvaluateSeverityFilterExcludesNonCritical(t *testing.T) {
	e := New(zap.NewNop())
	event := clusterevent.Event{
		Type:     clusterevent.EventCrashLoop,
		Severity: clusterevent.SeverityWarning,
		Resource: clusterevent.Resource{Kind: "pod", Namespace: "default", Name: "web-1"},
	}
	if matches := e.Evaluate(event); len(matches) != 0 {
		t.Errorf("expected no matches for non-critical severity, got %d", len(matches))
	}
}

func TestNamespaceFilter(t *testing.T) {
	e := New(zap.NewNop())
	e.AddRule(Rule{
		ID:              "rule-staging-only",
		Name:            "Staging Crash Loop",
		Condition:       clusterevent.EventCrashLoop,
		PlaybookID:      "crash_loop_remediation",
		Enabled:         true,
		NamespaceFilter: "^staging-",
		SeverityFilter:  clusterevent.SeverityCritical,
	})

	matchEvent := clusterevent.Event{
		Type: clusterevent.EventCrashLoop, Severity: clusterevent.SeverityCritical,
		Resource: clusterevent.Resource{Namespace: "staging-a", Name: "x"},
	}
	nonMatchEvent := clusterevent.Event{
		Type: clusterevent.EventCrashLoop, Severity: clusterevent.SeverityCritical,
		Resource: clusterevent.Resource{Namespace: "prod", Name: "x"},
	}

	matches := e.Evaluate(matchEvent)
	found := false
	for _, m := range matches {
		if m.Rule.ID == "rule-staging-only" {
			found = true
		}
	}
	if !found {
		t.Error("expected staging-only rule to match staging-a namespace")
	}

	matches = e.Evaluate(nonMatchEvent)
	for _, m := range matches {
		if m.Rule.ID == "rule-staging-only" {
			t.Error("expected staging-only rule not to match prod namespace")
		}
	}
}

func TestDisabledRuleNeverMatches(t *testing.T) {
	e := New(zap.NewNop())
	e.AddRule(Rule{
		ID: "rule-001", Name: "CrashLoop Auto-Restart", Condition: clusterevent.EventCrashLoop,
		PlaybookID: "crash_loop_remediation", Enabled: false, SeverityFilter: clusterevent.SeverityCritical,
	})
	event := clusterevent.Event{Type: clusterevent.EventCrashLoop, Severity: clusterevent.SeverityCritical}
	if matches := e.Evaluate(event); len(matches) != 0 {
		t.Errorf("expected disabled rule to produce no matches, got %d", len(matches))
	}
}

func TestAddRuleReplacesInPlace(t *testing.T) {
	e := New(zap.NewNop())
	before := e.ListRules()
	e.AddRule(Rule{ID: "rule-003", Name: "Renamed", Condition: clusterevent.EventNotReadyNode, PlaybookID: "node_not_ready_remediation", Enabled: true, SeverityFilter: clusterevent.SeverityCritical})
	after := e.ListRules()
	if len(after) != len(before) {
		t.Fatalf("expected replace in place to keep length %d, got %d", len(before), len(after))
	}
	if after[2].Name != "Renamed" {
		t.Errorf("expected rule at index 2 to be replaced in place, got %+v", after[2])
	}
}

func TestRemoveRule(t *testing.T) {
	e := New(zap.NewNop())
	if !e.RemoveRule("rule-002") {
		t.Fatal("expected RemoveRule to report success")
	}
	for _, r := range e.ListRules() {
		if r.ID == "rule-002" {
			t.Error("rule-002 should have been removed")
		}
	}
	if e.RemoveRule("does-not-exist") {
		t.Error("expected RemoveRule to report failure for unknown ID")
	}
}

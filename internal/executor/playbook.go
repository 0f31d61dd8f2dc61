package executor

import (
	"fmt"
	"strings"

	"github.com/kubernaut/controlplane/internal/approvalmanager"
)

// ParamValue is either a literal value or a template string resolved
// against the run's incident context at execution time. Leaving literals
// and templates as distinct variants means a literal integer or bool never
// gets accidentally stringified during resolution.
type ParamValue struct {
	Literal  any
	Template string
	isTmpl   bool
}

// Lit wraps a literal parameter value.
func Lit(v any) ParamValue { return ParamValue{Literal: v} }

// Tmpl wraps a "{placeholder}"-style template string.
func Tmpl(s string) ParamValue { return ParamValue{Template: s, isTmpl: true} }

// Resolve substitutes "{key}" placeholders from context. A placeholder with
// no matching context entry is left unchanged, mirroring a best-effort
// format operation rather than failing the whole step.
func (p ParamValue) Resolve(context map[string]string) string {
	if !p.isTmpl {
		return toString(p.Literal)
	}
	result := p.Template
	for k, v := range context {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// PlaybookStep is one action in a playbook: what to call, with what
// parameters, and how much risk that call carries.
type PlaybookStep struct {
	Name           string
	Description    string
	RiskLevel      approvalmanager.RiskLevel
	ToolName       string
	ParamsTemplate map[string]ParamValue
}

// Playbook is an ordered sequence of steps triggered by a rule match.
type Playbook struct {
	ID          string
	Name        string
	Description string
	Steps       []PlaybookStep
}

// Registry holds the set of playbooks the executor can run, keyed by ID.
type Registry struct {
	playbooks map[string]Playbook
}

// NewRegistry returns a Registry pre-loaded with the built-in playbooks.
func NewRegistry() *Registry {
	r := &Registry{playbooks: make(map[string]Playbook)}
	for _, p := range DefaultPlaybooks() {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a playbook.
func (r *Registry) Register(p Playbook) {
	r.playbooks[p.ID] = p
}

// Get returns the playbook with the given ID.
func (r *Registry) Get(id string) (Playbook, bool) {
	p, ok := r.playbooks[id]
	return p, ok
}

// List returns every registered playbook.
func (r *Registry) List() []Playbook {
	out := make([]Playbook, 0, len(r.playbooks))
	for _, p := range r.playbooks {
		out = append(out, p)
	}
	return out
}

// DefaultPlaybooks returns the five built-in remediation playbooks.
func DefaultPlaybooks() []Playbook {
	return []Playbook{
		{
			ID:          "crash_loop_remediation",
			Name:        "Crash Loop Remediation",
			Description: "Investigate and restart a crash-looping pod.",
			Steps: []PlaybookStep{
				{Name: "Describe Pod", Description: "Describe the crashing pod", RiskLevel: approvalmanager.RiskLow, ToolName: "k8s_describe_resource", ParamsTemplate: map[string]ParamValue{"resource": Lit("pod"), "name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}")}},
				{Name: "Fetch Recent Logs", Description: "Fetch recent logs to find the crash cause", RiskLevel: approvalmanager.RiskLow, ToolName: "k8s_analyze_logs", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}")}},
				{Name: "Restart Pod", Description: "Restart the pod", RiskLevel: approvalmanager.RiskMedium, ToolName: "k8s_restart_pod", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}")}},
				{Name: "Verify Recovery", Description: "Confirm the pod is healthy", RiskLevel: approvalmanager.RiskLow, ToolName: "k8s_get_pods", ParamsTemplate: map[string]ParamValue{"namespace": Tmpl("{namespace}")}},
			},
		},
		{
			ID:          "oom_kill_remediation",
			Name:        "OOM Kill Remediation",
			Description: "Raise the memory limit for a container that was OOM-killed.",
			Steps: []PlaybookStep{
				{Name: "Get Current Limits", Description: "Read the current resource limits", RiskLevel: approvalmanager.RiskLow, ToolName: "k8s_describe_resource", ParamsTemplate: map[string]ParamValue{"resource": Lit("pod"), "name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}")}},
				{Name: "Increase Memory Limit", Description: "Patch the container's memory limit upward", RiskLevel: approvalmanager.RiskHigh, ToolName: "k8s_patch_resource", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}"), "patch": Tmpl(`{"spec":{"containers":[{"resources":{"limits":{"memory":"512Mi"}}}]}}`)}},
			},
		},
		{
			ID:          "deployment_rollback",
			Name:        "Deployment Rollback",
			Description: "Roll a failing deployment back to its previous revision.",
			Steps: []PlaybookStep{
				{Name: "Get Rollout History", Description: "Inspect recent revisions", RiskLevel: approvalmanager.RiskLow, ToolName: "k8s_get_rollout_history", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}")}},
				{Name: "Rollback Deployment", Description: "Roll back to the previous revision", RiskLevel: approvalmanager.RiskHigh, ToolName: "k8s_rollback_deployment", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}")}},
				{Name: "Check Rollout Status", Description: "Confirm the rollback completed", RiskLevel: approvalmanager.RiskLow, ToolName: "k8s_rollout_status", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}")}},
			},
		},
		{
			ID:          "node_not_ready_remediation",
			Name:        "Node Not Ready Remediation",
			Description: "Cordon and drain a node that has gone NotReady.",
			Steps: []PlaybookStep{
				{Name: "Describe Node", Description: "Inspect node conditions", RiskLevel: approvalmanager.RiskLow, ToolName: "k8s_describe_resource", ParamsTemplate: map[string]ParamValue{"resource": Lit("node"), "name": Tmpl("{resource_name}")}},
				{Name: "Cordon Node", Description: "Mark the node unschedulable", RiskLevel: approvalmanager.RiskMedium, ToolName: "k8s_cordon_node", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}")}},
				{Name: "Drain Node", Description: "Evict workloads from the node", RiskLevel: approvalmanager.RiskHigh, ToolName: "k8s_drain_node", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}")}},
			},
		},
		{
			ID:          "scale_up_on_load",
			Name:        "Scale Up On Load",
			Description: "Scale a deployment out in response to sustained restarts under load.",
			Steps: []PlaybookStep{
				{Name: "Scale Deployment", Description: "Increase replica count", RiskLevel: approvalmanager.RiskMedium, ToolName: "k8s_scale_deployment", ParamsTemplate: map[string]ParamValue{"name": Tmpl("{resource_name}"), "namespace": Tmpl("{namespace}"), "replicas": Lit(0)}},
			},
		},
	}
}

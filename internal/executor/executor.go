// Package executor runs playbooks step by step, executing low-risk steps
// immediately and halting at the first medium- or high-risk step to wait
// for human approval.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubernaut/controlplane/internal/approvalmanager"
	"github.com/kubernaut/controlplane/internal/cperr"
)

const stepOutputTruncateLen = 600

// RunStatus is the lifecycle state of a PlaybookRun.
type RunStatus string

const (
	RunRunning          RunStatus = "running"
	RunAwaitingApproval RunStatus = "awaiting_approval"
	RunCompleted        RunStatus = "completed"
	RunFailed           RunStatus = "failed"
)

// PlaybookRun tracks the progress of one playbook execution.
type PlaybookRun struct {
	RunID          string
	PlaybookID     string
	Context        map[string]string
	CurrentStep    int
	Status         RunStatus
	StepOutputs    []string
	Error          string
	PendingApproval string
}

// ToolInvoker is the external tool-execution surface the executor drives.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, params map[string]string) (string, error)
}

// OnComplete is invoked once per run when it reaches a terminal state.
type OnComplete func(run PlaybookRun)

// Executor drives PlaybookRuns against a Registry, a ToolInvoker, and an
// approvalmanager.Manager for steps that need a human decision.
type Executor struct {
	registry   *Registry
	invoker    ToolInvoker
	approvals  *approvalmanager.Manager
	log        *zap.Logger
	autoRemedy bool
	onComplete OnComplete

	mu   sync.Mutex
	runs map[string]*PlaybookRun
}

// New constructs an Executor.
func New(registry *Registry, invoker ToolInvoker, approvals *approvalmanager.Manager, log *zap.Logger) *Executor {
	e := &Executor{
		registry:  registry,
		invoker:   invoker,
		approvals: approvals,
		log:       log,
		runs:      make(map[string]*PlaybookRun),
	}
	if approvals != nil {
		approvals.SetResumeCallback(e.resume)
	}
	return e
}

// WithAutoRemediation enables or disables automatic downgrade of
// medium-risk steps to low risk. High-risk steps are never downgraded.
func (e *Executor) WithAutoRemediation(enabled bool) *Executor {
	e.autoRemedy = enabled
	return e
}

// WithOnComplete registers a hook invoked once per run at its terminal state.
func (e *Executor) WithOnComplete(cb OnComplete) *Executor {
	e.onComplete = cb
	return e
}

func (e *Executor) effectiveRisk(step PlaybookStep) approvalmanager.RiskLevel {
	if e.autoRemedy && step.RiskLevel == approvalmanager.RiskMedium {
		return approvalmanager.RiskLow
	}
	return step.RiskLevel
}

// Execute starts a new run of the named playbook against the given incident
// context, addressed at the given approval channel.
func (e *Executor) Execute(ctx context.Context, playbookID string, incidentContext map[string]string, requestedBy, channelType, channelTarget string) (*PlaybookRun, error) {
	playbook, ok := e.registry.Get(playbookID)
	if !ok {
		return nil, cperr.NotFound(fmt.Sprintf("playbook %s not found", playbookID))
	}

	run := &PlaybookRun{
		RunID:      uuid.NewString(),
		PlaybookID: playbookID,
		Context:    incidentContext,
		Status:     RunRunning,
	}
	e.mu.Lock()
	e.runs[run.RunID] = run
	e.mu.Unlock()

	e.advance(ctx, run, playbook, requestedBy, channelType, channelTarget)
	return run, nil
}

// advance runs steps starting at run.CurrentStep until the run halts for
// approval, fails, or completes.
func (e *Executor) advance(ctx context.Context, run *PlaybookRun, playbook Playbook, requestedBy, channelType, channelTarget string) {
	for run.CurrentStep < len(playbook.Steps) {
		step := playbook.Steps[run.CurrentStep]
		risk := e.effectiveRisk(step)

		if risk == approvalmanager.RiskLow {
			output, err := e.runStep(ctx, step, run.Context)
			run.StepOutputs = append(run.StepOutputs, output)
			if err != nil {
				run.Status = RunFailed
				run.Error = err.Error()
				e.finish(run)
				return
			}
			run.CurrentStep++
			continue
		}

		params := resolveParams(step.ParamsTemplate, run.Context)
		approvalID, err := e.approvals.RequestApproval(ctx, step.ToolName, params, risk, step.Description, requestedBy, channelType, channelTarget, run.RunID)
		if err != nil {
			run.StepOutputs = append(run.StepOutputs, fmt.Sprintf("approval request failed: %v", err))
			run.Status = RunFailed
			run.Error = err.Error()
			e.finish(run)
			return
		}
		run.Status = RunAwaitingApproval
		run.PendingApproval = approvalID
		e.log.Info("playbook run awaiting approval",
			zap.String("run_id", run.RunID),
			zap.String("playbook_id", run.PlaybookID),
			zap.String("approval_id", approvalID),
			zap.String("step", step.Name),
		)
		return
	}

	run.Status = RunCompleted
	e.finish(run)
}

func (e *Executor) runStep(ctx context.Context, step PlaybookStep, context map[string]string) (string, error) {
	params := resolveParams(step.ParamsTemplate, context)
	result, err := e.invoker.Invoke(ctx, step.ToolName, params)
	if err != nil {
		return fmt.Sprintf("step %q failed: %v", step.Name, err), err
	}
	return truncate(result, stepOutputTruncateLen), nil
}

func resolveParams(template map[string]ParamValue, context map[string]string) map[string]string {
	out := make(map[string]string, len(template))
	for k, v := range template {
		out[k] = v.Resolve(context)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// resume is registered as the approvalmanager resume callback. The approval
// manager has already run the gated tool call by the time this fires
// (StatusExecuted/StatusExecutionFailed); resume only needs to fold that
// outcome into the run and, on success, continue to the next step. Rejection
// and expiry fail the run without ever invoking the tool.
func (e *Executor) resume(approval approvalmanager.PendingApproval) {
	e.mu.Lock()
	run, ok := e.runs[approval.PlaybookRunID]
	e.mu.Unlock()
	if !ok {
		return
	}

	playbook, ok := e.registry.Get(run.PlaybookID)
	if !ok {
		return
	}

	run.PendingApproval = ""

	switch approval.Status {
	case approvalmanager.StatusExecuted:
		run.StepOutputs = append(run.StepOutputs, truncate(approval.ToolOutput, stepOutputTruncateLen))
		run.CurrentStep++
		run.Status = RunRunning
		e.advance(context.Background(), run, playbook, approval.RequestedBy, approval.ChannelType, approval.ChannelTarget)
	case approvalmanager.StatusExecutionFailed:
		run.Status = RunFailed
		run.Error = approval.ExecutionError
		run.StepOutputs = append(run.StepOutputs, fmt.Sprintf("step %q failed: %s", playbook.Steps[run.CurrentStep].Name, approval.ExecutionError))
		e.finish(run)
	default:
		run.Status = RunFailed
		run.Error = fmt.Sprintf("step %q was %s", playbook.Steps[run.CurrentStep].Name, approval.Status)
		run.StepOutputs = append(run.StepOutputs, run.Error)
		e.finish(run)
	}
}

func (e *Executor) finish(run *PlaybookRun) {
	e.log.Info("playbook run finished",
		zap.String("run_id", run.RunID),
		zap.String("playbook_id", run.PlaybookID),
		zap.String("status", string(run.Status)),
	)
	if e.onComplete != nil {
		e.onComplete(*run)
	}
}

// Get returns the run with the given ID.
func (e *Executor) Get(runID string) (PlaybookRun, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	if !ok {
		return PlaybookRun{}, false
	}
	return *run, true
}

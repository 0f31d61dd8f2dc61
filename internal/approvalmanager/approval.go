// Package approvalmanager implements the human-in-the-loop approval gate:
// medium- and high-risk remediation steps are held here until a chat reply
// approves or rejects them, or the request's TTL elapses.
package approvalmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubernaut/controlplane/internal/approvalstore"
	"github.com/kubernaut/controlplane/internal/cperr"
)

const keyPrefix = "approval:"

// toolOutputTruncateLen bounds how much of a tool's output is kept on the
// approval record and handed to the executor's resumption callback.
const toolOutputTruncateLen = 600

// storeGrace is added on top of the logical approval timeout when choosing
// the backing store's TTL, so a record survives long enough for the reaper
// (or a CAS racing the deadline) to observe and resolve it instead of
// vanishing from the store before anyone marks it expired.
const storeGrace = 30 * time.Second

// RiskLevel classifies how much scrutiny a step requires before execution.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Status is the lifecycle state of a PendingApproval.
type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
	StatusExecuted        Status = "executed"
	StatusExecutionFailed Status = "execution_failed"
)

// PendingApproval is a single action awaiting a human decision.
type PendingApproval struct {
	ID             string            `json:"id"`
	ToolName       string            `json:"tool_name"`
	ToolParams     map[string]string `json:"tool_params"`
	RiskLevel      RiskLevel         `json:"risk_level"`
	Description    string            `json:"description"`
	RequestedBy    string            `json:"requested_by"`
	ChannelType    string            `json:"channel_type"`
	ChannelTarget  string            `json:"channel_target"`
	RequestedAt    time.Time         `json:"requested_at"`
	PlaybookRunID  string            `json:"playbook_run_id,omitempty"`
	Status         Status            `json:"status"`
	ToolOutput     string            `json:"tool_output,omitempty"`
	ExecutionError string            `json:"execution_error,omitempty"`
}

func (p PendingApproval) shortID() string {
	if len(p.ID) < 8 {
		return p.ID
	}
	return p.ID[:8]
}

var riskEmoji = map[RiskLevel]string{
	RiskLow:    "🟡",
	RiskMedium: "🟠",
	RiskHigh:   "🔴",
}

// Message renders the chat-facing approval prompt.
func (p PendingApproval) Message(timeoutSeconds int) string {
	var b strings.Builder
	if p.RiskLevel == RiskHigh {
		b.WriteString("⚠️ HIGH RISK ACTION — review carefully before approving\n\n")
	}
	fmt.Fprintf(&b, "%s Approval Required [%s]\n\n", riskEmoji[p.RiskLevel], strings.ToUpper(string(p.RiskLevel)))
	fmt.Fprintf(&b, "Action: %s\n", p.Description)
	fmt.Fprintf(&b, "Tool: %s\n\n", p.ToolName)
	fmt.Fprintf(&b, "Reply with \"approve %s\" to proceed or \"reject %s\" to cancel.\n", p.shortID(), p.shortID())
	fmt.Fprintf(&b, "This request expires in %d minutes.", timeoutSeconds/60)
	return b.String()
}

var (
	approveRe = regexp.MustCompile(`(?i)\b(?:approve|yes|confirm)\s+([0-9a-f]{8})`)
	rejectRe  = regexp.MustCompile(`(?i)\b(?:reject|no|cancel)\s+([0-9a-f]{8})`)
)

// ResumeCallback is invoked exactly once when a PendingApproval reaches a
// terminal state, whether by reply or by expiry.
type ResumeCallback func(approval PendingApproval)

// Notifier is the minimal surface approvalmanager needs to reach chat.
type Notifier interface {
	Notify(ctx context.Context, channelType, channelTarget, message string) error
}

// ToolInvoker is the external tool-execution surface an approved action is
// run against. On approve, the Manager itself invokes the tool rather than
// merely flagging the step as cleared, so the persisted approval reflects
// whether the gated action actually succeeded.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, params map[string]string) (string, error)
}

// Manager owns the approval lifecycle against a KVStore.
type Manager struct {
	store    approvalstore.KVStore
	notifier Notifier
	invoker  ToolInvoker
	timeout  time.Duration
	log      *zap.Logger
	onResume ResumeCallback
}

// New constructs a Manager. timeout is the TTL applied to every new
// approval and the reaper's sweep interval basis.
func New(store approvalstore.KVStore, notifier Notifier, invoker ToolInvoker, timeout time.Duration, log *zap.Logger) *Manager {
	return &Manager{store: store, notifier: notifier, invoker: invoker, timeout: timeout, log: log}
}

// SetResumeCallback registers the function invoked when an approval reaches
// a terminal state. It is typically wired to the executor's resume path.
func (m *Manager) SetResumeCallback(cb ResumeCallback) {
	m.onResume = cb
}

// RequestApproval creates a pending approval, persists it with a TTL, and
// notifies the target channel. It returns the new approval's ID.
func (m *Manager) RequestApproval(ctx context.Context, toolName string, toolParams map[string]string, risk RiskLevel, description, requestedBy, channelType, channelTarget, playbookRunID string) (string, error) {
	approval := PendingApproval{
		ID:            uuid.NewString(),
		ToolName:      toolName,
		ToolParams:    toolParams,
		RiskLevel:     risk,
		Description:   description,
		RequestedBy:   requestedBy,
		ChannelType:   channelType,
		ChannelTarget: channelTarget,
		RequestedAt:   time.Now(),
		PlaybookRunID: playbookRunID,
		Status:        StatusPending,
	}

	data, err := json.Marshal(approval)
	if err != nil {
		return "", cperr.Internal("marshal pending approval", err)
	}
	if err := m.store.SetEX(ctx, keyPrefix+approval.ID, data, m.timeout+storeGrace); err != nil {
		return "", cperr.TransientExternal("persist pending approval", err)
	}

	m.log.Info("approval requested",
		zap.String("approval_id", approval.ID),
		zap.String("tool", toolName),
		zap.String("risk", string(risk)),
		zap.String("requested_by", requestedBy),
	)

	if m.notifier != nil {
		timeoutSeconds := int(m.timeout.Seconds())
		if err := m.notifier.Notify(ctx, channelType, channelTarget, approval.Message(timeoutSeconds)); err != nil {
			m.log.Warn("approval notification failed", zap.String("approval_id", approval.ID), zap.Error(err))
		}
	}

	return approval.ID, nil
}

// Get returns the approval with the given full ID.
func (m *Manager) Get(ctx context.Context, id string) (PendingApproval, error) {
	data, ok, err := m.store.Get(ctx, keyPrefix+id)
	if err != nil {
		return PendingApproval{}, cperr.TransientExternal("get approval", err)
	}
	if !ok {
		return PendingApproval{}, cperr.NotFound(fmt.Sprintf("approval %s not found", id))
	}
	var approval PendingApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return PendingApproval{}, cperr.Internal("unmarshal approval", err)
	}
	return approval, nil
}

// ListPending scans the store and returns every approval still pending.
func (m *Manager) ListPending(ctx context.Context) ([]PendingApproval, error) {
	keys, err := m.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, cperr.TransientExternal("scan pending approvals", err)
	}
	var out []PendingApproval
	for _, key := range keys {
		data, ok, err := m.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var approval PendingApproval
		if err := json.Unmarshal(data, &approval); err != nil {
			continue
		}
		if approval.Status == StatusPending {
			out = append(out, approval)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// ProcessReply inspects a chat message for an approve/reject command
// referencing an 8-character approval handle. It returns ok=false if the
// text contains no recognizable command. replyChannelType/replyChannelTarget
// identify where the reply arrived from; a reply must come from the same
// target the approval question was posted to.
func (m *Manager) ProcessReply(ctx context.Context, text, decidedBy, replyChannelType, replyChannelTarget string) (response string, ok bool, err error) {
	approveMatch := approveRe.FindStringSubmatch(text)
	rejectMatch := rejectRe.FindStringSubmatch(text)

	if approveMatch == nil && rejectMatch == nil {
		return "", false, nil
	}

	var shortID string
	approving := approveMatch != nil
	if approving {
		shortID = approveMatch[1]
	} else {
		shortID = rejectMatch[1]
	}

	approval, key, data, found, ferr := m.findByShortID(ctx, shortID)
	if ferr != nil {
		return "", true, ferr
	}
	if !found {
		return fmt.Sprintf("no pending approval found for ID %s; it may have expired", shortID), true, nil
	}

	if approval.ChannelType != replyChannelType || approval.ChannelTarget != replyChannelTarget {
		return "", true, cperr.AuthorizationDenied("unauthorized")
	}

	if !approving {
		return m.reject(ctx, approval, key, data, decidedBy)
	}
	return m.approve(ctx, approval, key, data, decidedBy)
}

// approve claims the approval via CAS (so a concurrent reply cannot also
// claim it), invokes the gated tool, and persists whether it succeeded.
func (m *Manager) approve(ctx context.Context, approval PendingApproval, key string, data []byte, decidedBy string) (string, bool, error) {
	claimed := approval
	claimed.Status = StatusApproved
	claimedData, err := json.Marshal(claimed)
	if err != nil {
		return "", true, cperr.Internal("marshal approval decision", err)
	}
	swapped, err := m.store.CAS(ctx, key, data, claimedData, m.remainingTTL(approval))
	if err != nil {
		return "", true, cperr.TransientExternal("apply approval decision", err)
	}
	if !swapped {
		return "", true, cperr.PreconditionViolated(fmt.Sprintf("approval %s was already decided", approval.ID))
	}

	m.log.Info("approval approved, invoking tool",
		zap.String("approval_id", approval.ID),
		zap.String("tool", approval.ToolName),
		zap.String("decided_by", decidedBy),
	)

	final := claimed
	output, invokeErr := m.invoker.Invoke(ctx, approval.ToolName, approval.ToolParams)
	if invokeErr != nil {
		final.Status = StatusExecutionFailed
		final.ExecutionError = invokeErr.Error()
	} else {
		final.Status = StatusExecuted
		final.ToolOutput = truncate(output, toolOutputTruncateLen)
	}

	if finalData, merr := json.Marshal(final); merr == nil {
		if _, serr := m.store.CAS(ctx, key, claimedData, finalData, storeGrace); serr != nil {
			m.log.Warn("failed to persist approval execution result", zap.String("approval_id", approval.ID), zap.Error(serr))
		}
	}

	m.log.Info("approval decided",
		zap.String("approval_id", approval.ID),
		zap.String("status", string(final.Status)),
		zap.String("decided_by", decidedBy),
	)

	if m.onResume != nil {
		m.onResume(final)
	}

	if invokeErr != nil {
		return fmt.Sprintf("approved by %s but tool execution failed: %v", decidedBy, invokeErr), true, nil
	}
	return fmt.Sprintf("approved by %s: %s", decidedBy, approval.Description), true, nil
}

func (m *Manager) reject(ctx context.Context, approval PendingApproval, key string, data []byte, decidedBy string) (string, bool, error) {
	updated := approval
	updated.Status = StatusRejected
	newData, err := json.Marshal(updated)
	if err != nil {
		return "", true, cperr.Internal("marshal approval decision", err)
	}

	swapped, err := m.store.CAS(ctx, key, data, newData, m.remainingTTL(approval))
	if err != nil {
		return "", true, cperr.TransientExternal("apply approval decision", err)
	}
	if !swapped {
		return "", true, cperr.PreconditionViolated(fmt.Sprintf("approval %s was already decided", approval.ID))
	}

	m.log.Info("approval decided",
		zap.String("approval_id", approval.ID),
		zap.String("status", string(updated.Status)),
		zap.String("decided_by", decidedBy),
	)

	if m.onResume != nil {
		m.onResume(updated)
	}

	return fmt.Sprintf("rejected by %s: %s", decidedBy, approval.Description), true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (m *Manager) findByShortID(ctx context.Context, shortID string) (approval PendingApproval, key string, raw []byte, found bool, err error) {
	keys, err := m.store.Scan(ctx, keyPrefix)
	if err != nil {
		return PendingApproval{}, "", nil, false, cperr.TransientExternal("scan for approval", err)
	}
	sort.Strings(keys)
	for _, k := range keys {
		id := strings.TrimPrefix(k, keyPrefix)
		if !strings.HasPrefix(id, shortID) {
			continue
		}
		data, ok, err := m.store.Get(ctx, k)
		if err != nil {
			return PendingApproval{}, "", nil, false, cperr.TransientExternal("get candidate approval", err)
		}
		if !ok {
			continue
		}
		var a PendingApproval
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		if a.Status != StatusPending {
			continue
		}
		if time.Since(a.RequestedAt) >= m.timeout {
			continue
		}
		return a, k, data, true, nil
	}
	return PendingApproval{}, "", nil, false, nil
}

func (m *Manager) remainingTTL(approval PendingApproval) time.Duration {
	remaining := m.timeout + storeGrace - time.Since(approval.RequestedAt)
	if remaining <= 0 {
		return time.Second
	}
	return remaining
}

// StartReaper launches a background loop that marks TTL-elapsed pending
// approvals as expired and fires the resume callback, so expiry is
// observable even without an inbound reply ever arriving.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapExpired(ctx)
			}
		}
	}()
}

func (m *Manager) reapExpired(ctx context.Context) {
	keys, err := m.store.Scan(ctx, keyPrefix)
	if err != nil {
		m.log.Warn("reaper scan failed", zap.Error(err))
		return
	}
	for _, key := range keys {
		data, ok, err := m.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var approval PendingApproval
		if err := json.Unmarshal(data, &approval); err != nil {
			continue
		}
		if approval.Status != StatusPending {
			continue
		}
		if time.Since(approval.RequestedAt) < m.timeout {
			continue
		}
		expired := approval
		expired.Status = StatusExpired
		newData, err := json.Marshal(expired)
		if err != nil {
			continue
		}
		swapped, err := m.store.CAS(ctx, key, data, newData, storeGrace)
		if err != nil || !swapped {
			continue
		}
		m.log.Info("approval expired", zap.String("approval_id", approval.ID))
		if m.onResume != nil {
			m.onResume(expired)
		}
	}
}

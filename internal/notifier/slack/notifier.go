// Package slack implements approvalmanager.Notifier by posting messages to
// a Slack channel.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Notifier posts approval prompts and playbook progress updates to Slack.
// Constructing it with an empty bot token yields a disabled notifier that
// logs instead of calling the Slack API, so the control plane still runs
// end to end without a configured workspace.
type Notifier struct {
	client *slack.Client
	log    *zap.Logger
}

// New constructs a Notifier. An empty botToken disables outbound calls.
func New(botToken string, log *zap.Logger) *Notifier {
	var client *slack.Client
	if botToken != "" {
		client = slack.New(botToken)
	}
	return &Notifier{client: client, log: log}
}

// IsEnabled reports whether a bot token was configured.
func (n *Notifier) IsEnabled() bool { return n.client != nil }

// Notify posts message to channelTarget. channelType is accepted for
// interface symmetry with other notifiers but is always "slack" here.
func (n *Notifier) Notify(ctx context.Context, channelType, channelTarget, message string) error {
	if !n.IsEnabled() {
		n.log.Info("slack notifier disabled, dropping message", zap.String("channel", channelTarget))
		return nil
	}
	_, _, err := n.client.PostMessageContext(ctx, channelTarget, slack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("posting message to %s: %w", channelTarget, err)
	}
	return nil
}

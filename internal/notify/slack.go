package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voice-gateway/pkg/logger"

	"github.com/slack-go/slack"
)

type Kind string

const (
	KindMissedCall     Kind = "missed_call"
	KindOutOfHoursCall Kind = "out_of_hours_call"
)

// Event is an operational notification about a single call.
type Event struct {
	Kind   Kind
	CallID string
	From   string
	At     time.Time
}

// Notifier delivers ops notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	log        *slog.Logger
}

func NewSlackNotifier(webhookURL string, log *slog.Logger) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, log: logger.OrDefault(log).With("component", "notify")}
}

func (n *SlackNotifier) Notify(ctx context.Context, e Event) error {
	msg := Message(e)
	if err := slack.PostWebhookContext(ctx, n.webhookURL, &msg); err != nil {
		return fmt.Errorf("notify: slack webhook: %w", err)
	}
	n.log.Debug("slack notification sent", "kind", e.Kind, "call_id", e.CallID)
	return nil
}

// Message renders e as a Slack block message with a plain-text fallback.
func Message(e Event) slack.WebhookMessage {
	text := summary(e)
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
		nil,
		nil,
	)
	return slack.WebhookMessage{
		Text:   text,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{section}},
	}
}

func summary(e Event) string {
	at := e.At.UTC().Format(time.RFC3339)
	switch e.Kind {
	case KindMissedCall:
		return fmt.Sprintf("*Missed call from:* %s at %s (call `%s`)", e.From, at, e.CallID)
	case KindOutOfHoursCall:
		return fmt.Sprintf("*Call outside business hours from:* %s at %s, callback queued (call `%s`)", e.From, at, e.CallID)
	default:
		return fmt.Sprintf("*%s* from %s at %s (call `%s`)", e.Kind, e.From, at, e.CallID)
	}
}

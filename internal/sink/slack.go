package sink

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"

	"relaybot/internal/domain"
)

type SlackConfig struct {
	WebhookURL string
	Label      Labeler
	Client     *http.Client
	Logger     *slog.Logger
}

// Slack posts a text rendering to a Slack incoming webhook.
type Slack struct {
	url    string
	label  Labeler
	client *http.Client
	logger *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Slack{url: cfg.WebhookURL, label: cfg.Label, client: cfg.Client, logger: cfg.Logger}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	label := ""
	if s.label != nil {
		label = s.label(msg.ChannelID)
	}
	wm := &slack.WebhookMessage{
		Username: msg.Author.Name,
		Text:     RenderText(msg, label),
	}
	if msg.Author.Avatar != nil {
		wm.IconURL = *msg.Author.Avatar
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, s.url, s.client, wm); err != nil {
		return failed(s.Name(), err.Error())
	}
	return succeeded(s.Name(), "posted")
}

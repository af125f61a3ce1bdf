package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"relaybot/internal/domain"
)

type WebhookConfig struct {
	URL string
	// Path is appended to URL; empty posts to URL itself.
	Path   string
	Client *http.Client
	Logger *slog.Logger
}

// Webhook posts the flat payload to a single HTTP endpoint.
type Webhook struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Webhook{
		endpoint: joinURL(cfg.URL, cfg.Path),
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	body, err := json.Marshal(WebhookPayloadFor(msg))
	if err != nil {
		return failed(w.Name(), fmt.Sprintf("encode: %v", err))
	}

	status, snippet, err := postJSON(ctx, w.client, w.endpoint, body)
	if err != nil {
		return failed(w.Name(), err.Error())
	}
	if status != http.StatusOK {
		w.logger.Warn("webhook rejected message", "status", status, "body", snippet, "message_id", msg.MessageID)
		return failed(w.Name(), fmt.Sprintf("status %d: %s", status, snippet))
	}
	return succeeded(w.Name(), fmt.Sprintf("status %d", status))
}

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"relaybot/internal/domain"
)

type PushConfig struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// Push delivers the nested payload to the real-time push server.
type Push struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewPush(cfg PushConfig) *Push {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Push{baseURL: cfg.URL, client: cfg.Client, logger: cfg.Logger}
}

func (p *Push) Name() string { return "push" }

func (p *Push) Send(ctx context.Context, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	payload, err := PushPayloadFor(msg)
	if err != nil {
		return failed(p.Name(), err.Error())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failed(p.Name(), fmt.Sprintf("encode: %v", err))
	}

	status, snippet, err := postJSON(ctx, p.client, joinURL(p.baseURL, "/api/message"), body)
	if err != nil {
		return failed(p.Name(), err.Error())
	}
	if status != http.StatusOK {
		p.logger.Warn("push server rejected message", "status", status, "body", snippet, "message_id", msg.MessageID)
		return failed(p.Name(), fmt.Sprintf("status %d: %s", status, snippet))
	}
	return succeeded(p.Name(), fmt.Sprintf("status %d", status))
}

// Probe checks GET /api/health answers 200 with a JSON body.
func (p *Push) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(p.baseURL, "/api/health"), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	var body any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return fmt.Errorf("health body is not JSON: %w", err)
	}
	return nil
}

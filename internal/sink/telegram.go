package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/domain"
)

const telegramMaxMsgLen = 4000

type TelegramConfig struct {
	Token  string
	ChatID string // numeric chat id or @channelusername
	// APIEndpoint overrides tgbotapi.APIEndpoint.
	APIEndpoint string
	Label       Labeler
	Client      *http.Client
	Logger      *slog.Logger
}

// Telegram sends a text rendering to one Telegram chat. The bot client is
// created on first use, so an unreachable API only fails deliveries.
type Telegram struct {
	token    string
	chatID   string
	endpoint string
	label    Labeler
	client   *http.Client
	logger   *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Telegram{
		token:    cfg.Token,
		chatID:   strings.TrimSpace(cfg.ChatID),
		endpoint: cfg.APIEndpoint,
		label:    cfg.Label,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	bot, err := t.botAPI()
	if err != nil {
		return failed(t.Name(), err.Error())
	}

	label := ""
	if t.label != nil {
		label = t.label(msg.ChannelID)
	}
	text := RenderText(msg, label)
	if r := []rune(text); len(r) > telegramMaxMsgLen {
		text = string(r[:telegramMaxMsgLen]) + "..."
	}

	var out tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		out = tgbotapi.NewMessage(id, text)
	} else {
		out = tgbotapi.NewMessageToChannel(t.chatID, text)
	}
	out.DisableWebPagePreview = len(msg.Attachments) == 0

	// tgbotapi has no context support; on deadline the late result is dropped.
	type result struct {
		sent tgbotapi.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sent, err := bot.Send(out)
		done <- result{sent, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return failed(t.Name(), r.err.Error())
		}
		return succeeded(t.Name(), fmt.Sprintf("message %d", r.sent.MessageID))
	case <-ctx.Done():
		return failed(t.Name(), ctx.Err().Error())
	}
}

func (t *Telegram) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Info("telegram sink connected", "username", bot.Self.UserName)
	t.bot = bot
	return bot, nil
}

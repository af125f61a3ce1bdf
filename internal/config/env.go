package config

import (
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables on cfg. Setting a sink URL or
// token also enables that sink.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	str := func(key string, dst *string) bool {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
			return true
		}
		return false
	}

	str("DISCORD_TOKEN", &cfg.Discord.Token)
	str("DISCORD_TOKEN_TYPE", &cfg.Discord.TokenType)
	str("GUILD_ID", &cfg.Discord.GuildID)
	str("LOG_LEVEL", &cfg.General.LogLevel)
	str("LOG_FORMAT", &cfg.General.LogFormat)

	if str("WEBHOOK_URL", &cfg.Sinks.Webhook.URL) {
		cfg.Sinks.Webhook.Enabled = true
	}
	str("WEBHOOK_PATH", &cfg.Sinks.Webhook.Path)
	if str("PUSH_SERVER_URL", &cfg.Sinks.Push.URL) {
		cfg.Sinks.Push.Enabled = true
	}
	if str("STORE_PATH", &cfg.Sinks.Store.DBPath) {
		cfg.Sinks.Store.Enabled = true
	}
	if str("SLACK_WEBHOOK_URL", &cfg.Sinks.Slack.WebhookURL) {
		cfg.Sinks.Slack.Enabled = true
	}
	if str("TELEGRAM_TOKEN", &cfg.Sinks.Telegram.Token) {
		cfg.Sinks.Telegram.Enabled = true
	}
	str("TELEGRAM_CHAT_ID", &cfg.Sinks.Telegram.ChatID)

	if v, ok := lookup("ALLOW_BOTS"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Filter.AllowBots = b
		}
	}
	if v, ok := lookup("PORT"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Server.Port = n
		}
	}
}

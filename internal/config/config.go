package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adhocore/gronx"
)

// Config is the root configuration for relaybot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Discord   DiscordConfig   `json:"discord"`
	Filter    FilterConfig    `json:"filter"`
	Channels  ChannelsConfig  `json:"channels"`
	Sinks     SinksConfig     `json:"sinks"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Retention RetentionConfig `json:"retention"`
	Server    ServerConfig    `json:"server"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // "text" | "json"
}

type DiscordConfig struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`         // "bot" | "user"
	GuildID   string `json:"guildId,omitempty"` // optional: restrict to one guild
}

// FilterConfig toggles the admission rules that differ between deployments.
type FilterConfig struct {
	AllowBots        bool     `json:"allowBots"`
	BlockPromotional bool     `json:"blockPromotional"`
	BlockedAuthors   []string `json:"blockedAuthors,omitempty"`
}

type ChannelsConfig struct {
	File    string         `json:"file,omitempty"` // optional YAML channel table
	Entries []ChannelEntry `json:"entries"`
}

// ChannelEntry is one monitored upstream channel.
type ChannelEntry struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type SinksConfig struct {
	Webhook  WebhookSinkConfig  `json:"webhook"`
	Push     PushSinkConfig     `json:"push"`
	Store    StoreSinkConfig    `json:"store"`
	Slack    SlackSinkConfig    `json:"slack"`
	Telegram TelegramSinkConfig `json:"telegram"`
	Feed     FeedSinkConfig     `json:"feed"`
}

type WebhookSinkConfig struct {
	Enabled            bool    `json:"enabled"`
	URL                string  `json:"url"`
	Path               string  `json:"path"`
	Role               string  `json:"role"`
	RateLimitPerSecond float64 `json:"rateLimitPerSecond,omitempty"`
}

type PushSinkConfig struct {
	Enabled            bool    `json:"enabled"`
	URL                string  `json:"url"`
	Role               string  `json:"role"`
	RateLimitPerSecond float64 `json:"rateLimitPerSecond,omitempty"`
}

type StoreSinkConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
	Role    string `json:"role"`
}

type SlackSinkConfig struct {
	Enabled            bool    `json:"enabled"`
	WebhookURL         string  `json:"webhookUrl"`
	Role               string  `json:"role"`
	RateLimitPerSecond float64 `json:"rateLimitPerSecond,omitempty"`
}

type TelegramSinkConfig struct {
	Enabled            bool    `json:"enabled"`
	Token              string  `json:"token"`
	ChatID             string  `json:"chatId"`
	Role               string  `json:"role"`
	RateLimitPerSecond float64 `json:"rateLimitPerSecond,omitempty"`
}

type FeedSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Role    string `json:"role"`
}

type DeliveryConfig struct {
	Order          []string `json:"order"` // declared sink order
	TimeoutSeconds int      `json:"timeoutSeconds"`
	MaxInFlight    int      `json:"maxInFlight"`
	QueueSize      int      `json:"queueSize"`
}

type RetentionConfig struct {
	Keep         int    `json:"keep"`
	SweepEnabled bool   `json:"sweepEnabled"`
	SweepCron    string `json:"sweepCron"`
}

type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Metrics bool   `json:"metrics"`
}

// Sink names as used in delivery.order.
const (
	SinkWebhook  = "webhook"
	SinkPush     = "push"
	SinkStore    = "store"
	SinkSlack    = "slack"
	SinkTelegram = "telegram"
	SinkFeed     = "feed"
)

var knownSinks = []string{SinkWebhook, SinkPush, SinkStore, SinkSlack, SinkTelegram, SinkFeed}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the process configuration: the config file when present,
// defaults otherwise, with environment overrides applied on top. A missing
// file is not an error so the bridge can run from environment variables alone.
func Resolve(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, os.ErrNotExist) {
		cfg := Defaults()
		if err := finish(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func finish(cfg *Config) error {
	ApplyEnv(cfg, os.LookupEnv)

	cfg.Sinks.Store.DBPath = ExpandPath(cfg.Sinks.Store.DBPath)
	cfg.Channels.File = ExpandPath(cfg.Channels.File)

	if cfg.Channels.File != "" {
		entries, err := LoadChannelFile(cfg.Channels.File)
		if err != nil {
			return err
		}
		cfg.Channels.Entries = MergeChannels(cfg.Channels.Entries, entries)
	}

	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. The Discord token is
// checked separately by RequireCredentials so offline commands still work.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be text or json")
	}
	switch cfg.Discord.TokenType {
	case "bot", "user":
	default:
		errs = append(errs, "discord.tokenType must be bot or user")
	}

	seen := make(map[string]bool)
	for i, ch := range cfg.Channels.Entries {
		if ch.ID == "" {
			errs = append(errs, fmt.Sprintf("channels.entries[%d]: id is required", i))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Sprintf("channels.entries[%d]: duplicate id %s", i, ch.ID))
		}
		seen[ch.ID] = true
	}

	s := cfg.Sinks
	if s.Webhook.Enabled {
		errs = append(errs, checkURL("sinks.webhook.url", s.Webhook.URL)...)
		errs = append(errs, checkRole("sinks.webhook.role", s.Webhook.Role)...)
	}
	if s.Push.Enabled {
		errs = append(errs, checkURL("sinks.push.url", s.Push.URL)...)
		errs = append(errs, checkRole("sinks.push.role", s.Push.Role)...)
	}
	if s.Store.Enabled {
		if s.Store.DBPath == "" {
			errs = append(errs, "sinks.store.dbPath is required")
		}
		errs = append(errs, checkRole("sinks.store.role", s.Store.Role)...)
	}
	if s.Slack.Enabled {
		errs = append(errs, checkURL("sinks.slack.webhookUrl", s.Slack.WebhookURL)...)
		errs = append(errs, checkRole("sinks.slack.role", s.Slack.Role)...)
	}
	if s.Telegram.Enabled {
		if s.Telegram.Token == "" || s.Telegram.ChatID == "" {
			errs = append(errs, "sinks.telegram: token and chatId are required")
		}
		errs = append(errs, checkRole("sinks.telegram.role", s.Telegram.Role)...)
	}
	if s.Feed.Enabled {
		if !strings.HasPrefix(s.Feed.Path, "/") {
			errs = append(errs, "sinks.feed.path must start with /")
		}
		errs = append(errs, checkRole("sinks.feed.role", s.Feed.Role)...)
	}

	for _, name := range cfg.Delivery.Order {
		if !isKnownSink(name) {
			errs = append(errs, fmt.Sprintf("delivery.order references unknown sink: %s", name))
		}
	}
	if cfg.Delivery.TimeoutSeconds < 1 || cfg.Delivery.TimeoutSeconds > 120 {
		errs = append(errs, "delivery.timeoutSeconds must be between 1 and 120")
	}
	if cfg.Delivery.MaxInFlight < 1 {
		errs = append(errs, "delivery.maxInFlight must be >= 1")
	}
	if cfg.Delivery.QueueSize < 1 {
		errs = append(errs, "delivery.queueSize must be >= 1")
	}

	if cfg.Retention.Keep < 1 {
		errs = append(errs, "retention.keep must be >= 1")
	}
	if cfg.Retention.SweepEnabled && !gronx.IsValid(cfg.Retention.SweepCron) {
		errs = append(errs, fmt.Sprintf("retention.sweepCron is not a valid cron expression: %q", cfg.Retention.SweepCron))
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials reports the settings the relay cannot start without.
func RequireCredentials(cfg *Config) error {
	if cfg.Discord.Token == "" {
		return errors.New("discord token is not set (DISCORD_TOKEN)")
	}
	if len(cfg.EnabledSinks()) == 0 {
		return errors.New("no sink is enabled (set WEBHOOK_URL, PUSH_SERVER_URL or enable a sink in the config)")
	}
	return nil
}

// EnabledSinks returns the enabled sink names in declared delivery order.
// Enabled sinks missing from delivery.order are appended in default order.
func (c *Config) EnabledSinks() []string {
	enabled := map[string]bool{
		SinkWebhook:  c.Sinks.Webhook.Enabled,
		SinkPush:     c.Sinks.Push.Enabled,
		SinkStore:    c.Sinks.Store.Enabled,
		SinkSlack:    c.Sinks.Slack.Enabled,
		SinkTelegram: c.Sinks.Telegram.Enabled,
		SinkFeed:     c.Sinks.Feed.Enabled,
	}
	var out []string
	added := make(map[string]bool)
	for _, name := range append(append([]string{}, c.Delivery.Order...), knownSinks...) {
		if enabled[name] && !added[name] {
			out = append(out, name)
			added[name] = true
		}
	}
	return out
}

func checkURL(field, raw string) []string {
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []string{field + " must be an absolute http(s) URL"}
	}
	return nil
}

func checkRole(field, role string) []string {
	switch role {
	case "primary", "backup":
		return nil
	}
	return []string{field + " must be primary or backup"}
}

func isKnownSink(name string) bool {
	for _, s := range knownSinks {
		if s == name {
			return true
		}
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

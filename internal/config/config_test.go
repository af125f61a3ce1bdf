package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearRelayEnv blanks every variable ApplyEnv reads so the host
// environment cannot leak into a test.
func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DISCORD_TOKEN", "DISCORD_TOKEN_TYPE", "GUILD_ID", "LOG_LEVEL", "LOG_FORMAT",
		"WEBHOOK_URL", "WEBHOOK_PATH", "PUSH_SERVER_URL", "STORE_PATH",
		"SLACK_WEBHOOK_URL", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID", "ALLOW_BOTS", "PORT",
	} {
		t.Setenv(k, "")
	}
}

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Timeout_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Delivery.TimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeoutSeconds=0")
	}

	cfg.Delivery.TimeoutSeconds = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeoutSeconds=1 should be valid: %v", err)
	}

	cfg.Delivery.TimeoutSeconds = 121
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeoutSeconds=121")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_WebhookRequiresAbsoluteURL(t *testing.T) {
	cfg := Defaults()
	cfg.Sinks.Webhook.Enabled = true
	cfg.Sinks.Webhook.URL = "example.com/hook"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative webhook url")
	}

	cfg.Sinks.Webhook.URL = "https://example.com"
	if err := Validate(cfg); err != nil {
		t.Fatalf("absolute url should be valid: %v", err)
	}
}

func TestValidate_InvalidRole(t *testing.T) {
	cfg := Defaults()
	cfg.Sinks.Push.Enabled = true
	cfg.Sinks.Push.URL = "http://push.local"
	cfg.Sinks.Push.Role = "secondary"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "sinks.push.role") {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestValidate_UnknownSinkInOrder(t *testing.T) {
	cfg := Defaults()
	cfg.Delivery.Order = []string{"webhook", "carrier-pigeon"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown sink")
	}
}

func TestValidate_DuplicateChannel(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Entries = append(cfg.Channels.Entries, cfg.Channels.Entries[0])
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate channel id")
	}
}

func TestValidate_InvalidSweepCron(t *testing.T) {
	cfg := Defaults()
	cfg.Retention.SweepCron = "every half hour"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid cron")
	}

	cfg.Retention.SweepEnabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("cron is not checked when the sweep is off: %v", err)
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := Defaults()
	if err := RequireCredentials(cfg); err == nil {
		t.Fatal("expected error without token")
	}

	cfg.Discord.Token = "token"
	if err := RequireCredentials(cfg); err == nil {
		t.Fatal("expected error without any sink")
	}

	cfg.Sinks.Webhook.Enabled = true
	if err := RequireCredentials(cfg); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

// --- EnabledSinks ---

func TestEnabledSinks_FollowsDeclaredOrder(t *testing.T) {
	cfg := Defaults()
	cfg.Sinks.Webhook.Enabled = true
	cfg.Sinks.Store.Enabled = true
	cfg.Sinks.Push.Enabled = true
	cfg.Delivery.Order = []string{"store", "webhook"}

	got := cfg.EnabledSinks()
	want := []string{"store", "webhook", "push"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// --- ApplyEnv ---

func TestApplyEnv_EnablesSinks(t *testing.T) {
	cfg := Defaults()
	ApplyEnv(cfg, envMap(map[string]string{
		"DISCORD_TOKEN":   "abc",
		"WEBHOOK_URL":     "https://relay.example.com",
		"PUSH_SERVER_URL": "https://push.example.com",
		"GUILD_ID":        "42",
		"ALLOW_BOTS":      "true",
		"PORT":            "9999",
	}))

	if cfg.Discord.Token != "abc" || cfg.Discord.GuildID != "42" {
		t.Fatalf("discord settings not applied: %+v", cfg.Discord)
	}
	if !cfg.Sinks.Webhook.Enabled || cfg.Sinks.Webhook.URL != "https://relay.example.com" {
		t.Fatalf("webhook not enabled: %+v", cfg.Sinks.Webhook)
	}
	if !cfg.Sinks.Push.Enabled {
		t.Fatal("push sink should be enabled")
	}
	if !cfg.Filter.AllowBots {
		t.Fatal("allowBots should be true")
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Server.Port)
	}
}

func TestApplyEnv_IgnoresBlankAndInvalid(t *testing.T) {
	cfg := Defaults()
	ApplyEnv(cfg, envMap(map[string]string{
		"WEBHOOK_URL": "   ",
		"ALLOW_BOTS":  "maybe",
		"PORT":        "http",
	}))
	if cfg.Sinks.Webhook.Enabled {
		t.Fatal("blank WEBHOOK_URL must not enable the sink")
	}
	if cfg.Filter.AllowBots {
		t.Fatal("invalid ALLOW_BOTS must be ignored")
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("invalid PORT must be ignored, got %d", cfg.Server.Port)
	}
}

// --- Load / Save / Resolve ---

func TestLoadSave_RoundTrip(t *testing.T) {
	clearRelayEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	original := Defaults()
	original.Discord.GuildID = "123"
	original.Filter.BlockedAuthors = []string{"rick"}

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Discord.GuildID != "123" {
		t.Fatalf("expected guild 123, got %q", loaded.Discord.GuildID)
	}
	if len(loaded.Filter.BlockedAuthors) != 1 || loaded.Filter.BlockedAuthors[0] != "rick" {
		t.Fatalf("blocked authors not preserved: %v", loaded.Filter.BlockedAuthors)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	clearRelayEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"delivery": {"timeoutSeconds": 0}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_ExplicitEmptyWebhookPath(t *testing.T) {
	clearRelayEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"sinks": {"webhook": {"enabled": true, "url": "https://hooks.example.com/relay", "path": ""}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sinks.Webhook.Path != "" {
		t.Errorf("path = %q, want empty", cfg.Sinks.Webhook.Path)
	}
	if Defaults().Sinks.Webhook.Path != "/api/discord/message" {
		t.Error("default webhook path must be the fixed suffix")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("TEST_RELAY_HOOK", "https://hooks.example.com")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"sinks": {
			"webhook": {"enabled": true, "url": "${TEST_RELAY_HOOK}", "path": "/in", "role": "primary"}
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sinks.Webhook.URL != "https://hooks.example.com" {
		t.Fatalf("expected substituted url, got %q", cfg.Sinks.Webhook.URL)
	}
}

func TestResolve_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("WEBHOOK_URL", "https://relay.example.com")

	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Discord.Token != "tok" || !cfg.Sinks.Webhook.Enabled {
		t.Fatalf("env overrides not applied: %+v", cfg.Discord)
	}
	if err := RequireCredentials(cfg); err != nil {
		t.Fatalf("expected runnable config: %v", err)
	}
}

func TestResolve_MergesChannelFile(t *testing.T) {
	clearRelayEnv(t)
	dir := t.TempDir()
	chPath := filepath.Join(dir, "channels.yaml")
	yml := `channels:
  - id: "1251179699674288208"
    name: SHOCKED
    disabled: true
  - id: "999"
    name: Night Shift
`
	if err := os.WriteFile(chPath, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"channels": {"file": "`+chPath+`"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve(cfgPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var shocked, night *ChannelEntry
	for i := range cfg.Channels.Entries {
		switch cfg.Channels.Entries[i].ID {
		case "1251179699674288208":
			shocked = &cfg.Channels.Entries[i]
		case "999":
			night = &cfg.Channels.Entries[i]
		}
	}
	if shocked == nil || !shocked.Disabled {
		t.Fatalf("expected overlay to disable SHOCKED, got %+v", shocked)
	}
	if night == nil || night.Key != "night-shift" {
		t.Fatalf("expected new channel with slug key, got %+v", night)
	}
}

// --- Accessors ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()
	val, err := GetByPath(cfg, "sinks.webhook.path")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "/api/discord/message" {
		t.Fatalf("unexpected value %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(Defaults(), "sinks.nope.url"); err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "filter.allowBots", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := SetByPath(cfg, "delivery.timeoutSeconds", "30"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if !cfg.Filter.AllowBots || cfg.Delivery.TimeoutSeconds != 30 {
		t.Fatalf("values not applied: %+v %+v", cfg.Filter, cfg.Delivery)
	}
}

func TestSetByPath_ListsAndUnknownKeys(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "filter.blockedAuthors", "Rick, spam bot"); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if len(cfg.Filter.BlockedAuthors) != 2 || cfg.Filter.BlockedAuthors[1] != "spam bot" {
		t.Fatalf("unexpected list %v", cfg.Filter.BlockedAuthors)
	}
	if err := SetByPath(cfg, "delivery.order", "push,webhook"); err != nil {
		t.Fatalf("set order: %v", err)
	}
	if strings.Join(cfg.Delivery.Order, ",") != "push,webhook" {
		t.Fatalf("unexpected order %v", cfg.Delivery.Order)
	}

	before := cfg.Delivery.TimeoutSeconds
	if err := SetByPath(cfg, "sinks.nope", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if err := SetByPath(cfg, "delivery.timeoutSeconds", "soon"); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
	if cfg.Delivery.TimeoutSeconds != before {
		t.Fatal("failed set must leave the config unchanged")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Discord.Token = "MTIzNDU2Nzg5.abcdef.ghijklmnop"
	cfg.Sinks.Telegram.Token = "short"

	s := Sanitize(cfg)
	if s.Discord.Token == cfg.Discord.Token || !strings.Contains(s.Discord.Token, "****") {
		t.Fatalf("discord token not masked: %q", s.Discord.Token)
	}
	if s.Sinks.Telegram.Token != "***" {
		t.Fatalf("short token should be fully masked, got %q", s.Sinks.Telegram.Token)
	}
	if cfg.Discord.Token != "MTIzNDU2Nzg5.abcdef.ghijklmnop" {
		t.Fatal("Sanitize must not modify the original")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	if result != `{"port": "8080"}` {
		t.Fatalf("unexpected %q", result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_RELAY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_RELAY_PORT:-8080}"}`)
	if result != `{"port": "9090"}` {
		t.Fatalf("unexpected %q", result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	input := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Channels ---

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"HEAVEN OR HELL": "heaven-or-hell",
		"DIGI":           "digi",
		"  pf  trenches": "pf-trenches",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaults_ChannelTable(t *testing.T) {
	cfg := Defaults()
	if len(cfg.Channels.Entries) != 14 {
		t.Fatalf("expected 14 default channels, got %d", len(cfg.Channels.Entries))
	}
	for _, e := range cfg.Channels.Entries {
		if e.Key == "" || e.Disabled {
			t.Fatalf("default channel should be enabled with a key: %+v", e)
		}
	}
}

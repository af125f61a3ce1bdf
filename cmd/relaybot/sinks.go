package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/registry"
	"relaybot/internal/retention"
	"relaybot/internal/router"
	"relaybot/internal/sink"
	"relaybot/internal/status"
)

// allSinks is the reporting order for the status document.
var allSinks = []string{
	config.SinkWebhook,
	config.SinkPush,
	config.SinkStore,
	config.SinkSlack,
	config.SinkTelegram,
	config.SinkFeed,
}

// sinkDeps are the shared pieces sinks are built from. Store and Trimmer are
// nil when the store sink is disabled; Feed is nil when the feed is disabled.
type sinkDeps struct {
	Registry *registry.Registry
	Store    domain.RecordStore
	Trimmer  *retention.Trimmer
	Feed     *sink.Feed
	Client   *http.Client
	Logger   *slog.Logger
}

// buildSinks creates the enabled sinks in declared delivery order, and one
// status entry per known sink.
func buildSinks(cfg *config.Config, deps sinkDeps) ([]router.Target, []status.SinkEntry, error) {
	label := func(channelID string) string {
		if e, ok := deps.Registry.Lookup(channelID); ok {
			return e.Name
		}
		return ""
	}

	built := make(map[string]router.Target)
	var targets []router.Target
	for _, name := range cfg.EnabledSinks() {
		t, err := buildSink(cfg, name, deps, label)
		if err != nil {
			return nil, nil, err
		}
		built[name] = t
		targets = append(targets, t)
	}

	entries := make([]status.SinkEntry, 0, len(allSinks))
	for _, name := range allSinks {
		t := built[name]
		entries = append(entries, status.SinkEntry{Name: name, Role: t.Role, Sink: t.Sink})
	}
	return targets, entries, nil
}

func buildSink(cfg *config.Config, name string, deps sinkDeps, label sink.Labeler) (router.Target, error) {
	logger := deps.Logger.With("sink", name)
	s := cfg.Sinks
	switch name {
	case config.SinkWebhook:
		w := sink.NewWebhook(sink.WebhookConfig{URL: s.Webhook.URL, Path: s.Webhook.Path, Client: deps.Client, Logger: logger})
		return target(sink.WithRateLimit(w, s.Webhook.RateLimitPerSecond), s.Webhook.Role), nil

	case config.SinkPush:
		p := sink.NewPush(sink.PushConfig{URL: s.Push.URL, Client: deps.Client, Logger: logger})
		return target(sink.WithRateLimit(p, s.Push.RateLimitPerSecond), s.Push.Role), nil

	case config.SinkStore:
		if deps.Store == nil {
			return router.Target{}, fmt.Errorf("store sink enabled without a record store")
		}
		st := sink.NewStore(sink.StoreConfig{
			Store:   deps.Store,
			Keys:    deps.Registry,
			Trimmer: deps.Trimmer,
			Keep:    cfg.Retention.Keep,
			Logger:  logger,
		})
		return target(st, s.Store.Role), nil

	case config.SinkSlack:
		sl := sink.NewSlack(sink.SlackConfig{WebhookURL: s.Slack.WebhookURL, Label: label, Client: deps.Client, Logger: logger})
		return target(sink.WithRateLimit(sl, s.Slack.RateLimitPerSecond), s.Slack.Role), nil

	case config.SinkTelegram:
		tg := sink.NewTelegram(sink.TelegramConfig{
			Token:  s.Telegram.Token,
			ChatID: s.Telegram.ChatID,
			Label:  label,
			Client: deps.Client,
			Logger: logger,
		})
		return target(sink.WithRateLimit(tg, s.Telegram.RateLimitPerSecond), s.Telegram.Role), nil

	case config.SinkFeed:
		if deps.Feed == nil {
			return router.Target{}, fmt.Errorf("feed sink enabled without a feed hub")
		}
		return target(deps.Feed, s.Feed.Role), nil
	}
	return router.Target{}, fmt.Errorf("unknown sink %q", name)
}

func target(s domain.Sink, role string) router.Target {
	r := domain.SinkRole(role)
	if r == "" {
		r = domain.RoleBackup
	}
	return router.Target{Sink: s, Role: r}
}

// Package filter decides which upstream events are eligible for relay.
package filter

import (
	"log/slog"
	"strings"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// Reason names the rule that rejected an event.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonMalformed     Reason = "malformed"
	ReasonSelf          Reason = "self"
	ReasonBot           Reason = "bot"
	ReasonScope         Reason = "scope"
	ReasonChannel       Reason = "channel"
	ReasonPromotional   Reason = "promotional"
	ReasonBlockedAuthor Reason = "blocked_author"
)

// promotionalMarkers are matched against the lowercased message body.
var promotionalMarkers = []string{
	"go to mention",
	"[go to mention]",
	"discord.com/channels/",
	"referenced message",
	"[referenced message]",
}

// ChannelChecker is the part of the channel registry the filter needs.
type ChannelChecker interface {
	IsEnabled(channelID string) bool
}

// Decision is the outcome of Check.
type Decision struct {
	Accepted bool
	Reason   Reason
}

func accept() Decision { return Decision{Accepted: true} }
func reject(r Reason) Decision { return Decision{Reason: r} }

// Filter applies the admission rules in a fixed order and stops at the first
// rejection. It holds no mutable state.
type Filter struct {
	channels         ChannelChecker
	scope            string
	allowBots        bool
	blockPromotional bool
	blockedAuthors   map[string]bool
	logger           *slog.Logger
}

// Config configures a Filter.
type Config struct {
	Channels ChannelChecker
	Scope    string // guild id; empty allows every guild
	Rules    config.FilterConfig
	Logger   *slog.Logger
}

func New(cfg Config) *Filter {
	blocked := make(map[string]bool, len(cfg.Rules.BlockedAuthors))
	for _, name := range cfg.Rules.BlockedAuthors {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			blocked[name] = true
		}
	}
	return &Filter{
		channels:         cfg.Channels,
		scope:            cfg.Scope,
		allowBots:        cfg.Rules.AllowBots,
		blockPromotional: cfg.Rules.BlockPromotional,
		blockedAuthors:   blocked,
		logger:           cfg.Logger,
	}
}

// Check decides whether ev may be relayed. selfID is the bridge's own
// session user id.
func (f *Filter) Check(ev domain.InboundEvent, selfID string) Decision {
	d := f.check(ev, selfID)
	if !d.Accepted {
		f.logger.Debug("event rejected",
			"reason", d.Reason,
			"channel_id", ev.ChannelID,
			"message_id", ev.MessageID,
		)
	}
	return d
}

func (f *Filter) check(ev domain.InboundEvent, selfID string) Decision {
	if ev.Author == nil || ev.ChannelID == "" {
		return reject(ReasonMalformed)
	}
	if selfID != "" && ev.Author.ID == selfID {
		return reject(ReasonSelf)
	}
	if ev.Author.Bot && !f.allowBots {
		return reject(ReasonBot)
	}
	if f.scope != "" && ev.GuildID != f.scope {
		return reject(ReasonScope)
	}
	if f.channels == nil || !f.channels.IsEnabled(ev.ChannelID) {
		return reject(ReasonChannel)
	}
	if f.blockPromotional && IsPromotional(ev.Content) {
		return reject(ReasonPromotional)
	}
	if f.blockedAuthors[strings.ToLower(strings.TrimSpace(ev.Author.Name))] {
		return reject(ReasonBlockedAuthor)
	}
	return accept()
}

// IsPromotional reports whether content carries a platform promotion marker.
func IsPromotional(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, m := range promotionalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Package upstream connects to the Discord gateway and publishes every
// observed message as a domain.InboundEvent.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"relaybot/internal/domain"
	"relaybot/internal/normalize"
)

// ChannelChecker reports whether a channel id is monitored.
type ChannelChecker interface {
	IsEnabled(channelID string) bool
}

type DiscordConfig struct {
	Token     string
	TokenType string // "bot" | "user"
	GuildID   string // optional scope, used for readiness logging
	Channels  ChannelChecker
	Logger    *slog.Logger
}

// Discord implements domain.Upstream and normalize.ReplyResolver.
type Discord struct {
	token     string
	tokenType string
	guildID   string
	channels  ChannelChecker
	logger    *slog.Logger

	mu      sync.RWMutex
	session *discordgo.Session
	selfID  string
	user    string

	ready atomic.Bool
}

var _ domain.Upstream = (*Discord)(nil)

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.TokenType == "" {
		cfg.TokenType = "bot"
	}
	return &Discord{
		token:     cfg.Token,
		tokenType: cfg.TokenType,
		guildID:   cfg.GuildID,
		channels:  cfg.Channels,
		logger:    cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// authToken applies the "Bot " prefix for bot tokens; user tokens are sent
// as-is.
func authToken(token, tokenType string) string {
	token = strings.TrimSpace(token)
	if strings.EqualFold(tokenType, "user") {
		return token
	}
	if strings.HasPrefix(token, "Bot ") {
		return token
	}
	return "Bot " + token
}

// Start opens the gateway session, publishes messages into queue, and blocks
// until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, queue domain.EventQueue) error {
	session, err := discordgo.New(authToken(d.token, d.tokenType))
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onReady)
	session.AddHandler(d.onGuildCreate)
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.ready.Store(false)
		d.logger.Warn("discord session disconnected")
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		d.ready.Store(true)
		d.logger.Info("discord session resumed")
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			return
		}
		ev := EventFromMessage(m.Message)
		d.logger.Debug("discord message received",
			"author", ev.Author.Name,
			"channel_id", ev.ChannelID,
			"content_len", len(ev.Content),
		)
		queue.Publish(ev)
	})

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	<-ctx.Done()
	d.logger.Info("discord session closing")
	d.ready.Store(false)
	return session.Close()
}

func (d *Discord) onReady(s *discordgo.Session, r *discordgo.Ready) {
	d.mu.Lock()
	if r.User != nil {
		d.selfID = r.User.ID
		d.user = r.User.String()
	}
	d.mu.Unlock()
	d.ready.Store(true)

	scope := d.guildID
	if scope == "" {
		scope = "all guilds"
	}
	d.logger.Info("discord session ready",
		"user", d.user,
		"guilds", len(r.Guilds),
		"scope", scope,
	)
}

// onGuildCreate logs how many monitored channels a guild exposes, which is
// the quickest way to spot a wrong token or scope.
func (d *Discord) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || (d.guildID != "" && g.ID != d.guildID) {
		return
	}
	monitored := 0
	for _, ch := range g.Channels {
		if d.channels != nil && d.channels.IsEnabled(ch.ID) {
			monitored++
		}
	}
	d.logger.Info("discord guild available",
		"guild", g.Name,
		"guild_id", g.ID,
		"channels", len(g.Channels),
		"monitored", monitored,
	)
}

// SelfID is the session user's id, or "" before the session is ready.
func (d *Discord) SelfID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selfID
}

func (d *Discord) State() domain.SessionState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := domain.SessionState{Ready: d.ready.Load(), User: d.user}
	if d.session != nil && d.session.State != nil {
		d.session.State.RLock()
		st.Guilds = len(d.session.State.Guilds)
		d.session.State.RUnlock()
	}
	return st
}

// ResolveReply fetches the referenced message over REST. A 404 maps to
// normalize.ErrReplyNotFound.
func (d *Discord) ResolveReply(ctx context.Context, ref domain.ReplyReference) (domain.ReplyTarget, error) {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return domain.ReplyTarget{}, errors.New("discord session not started")
	}

	m, err := session.ChannelMessage(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return domain.ReplyTarget{}, normalize.ErrReplyNotFound
		}
		return domain.ReplyTarget{}, fmt.Errorf("fetch message %s: %w", ref.MessageID, err)
	}
	if m == nil || m.Author == nil {
		return domain.ReplyTarget{}, normalize.ErrReplyNotFound
	}
	return domain.ReplyTarget{AuthorName: displayName(m.Author, m.Member), Content: m.Content}, nil
}

// EventFromMessage converts a gateway message. The referenced message, when
// Discord includes it, is carried as a pre-resolved reply.
func EventFromMessage(m *discordgo.Message) domain.InboundEvent {
	ev := domain.InboundEvent{
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		MessageID: m.ID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		ev.Author = &domain.EventAuthor{
			ID:        m.Author.ID,
			Name:      displayName(m.Author, m.Member),
			AvatarURL: m.Author.AvatarURL(""),
			Bot:       m.Author.Bot,
		}
	}

	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		ev.Attachments = append(ev.Attachments, domain.EventAttachment{
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		ev.Embeds = append(ev.Embeds, embedFromDiscord(e))
	}

	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		reply := &domain.ReplyReference{MessageID: ref.MessageID, ChannelID: ref.ChannelID}
		if reply.ChannelID == "" {
			reply.ChannelID = m.ChannelID
		}
		if rm := m.ReferencedMessage; rm != nil && rm.Author != nil {
			reply.Resolved = &domain.ReplyTarget{
				AuthorName: displayName(rm.Author, rm.Member),
				Content:    rm.Content,
			}
		}
		ev.Reply = reply
	}
	return ev
}

func embedFromDiscord(e *discordgo.MessageEmbed) domain.Embed {
	var out domain.Embed
	out.Title = optional(e.Title)
	out.Description = optional(e.Description)
	out.URL = optional(e.URL)
	if e.Image != nil {
		out.ImageURL = optional(e.Image.URL)
	}
	if e.Thumbnail != nil {
		out.ThumbnailURL = optional(e.Thumbnail.URL)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// displayName prefers the guild nickname, then the global display name,
// then the username.
func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

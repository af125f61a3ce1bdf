package sink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"relaybot/internal/domain"
)

// WebhookPayload is the flat document the webhook sink posts.
type WebhookPayload struct {
	ChannelID    string              `json:"channel_id"`
	AuthorName   string              `json:"author_name"`
	AuthorAvatar *string             `json:"author_avatar"`
	Content      string              `json:"content"`
	Timestamp    string              `json:"timestamp"`
	MessageID    string              `json:"message_id"`
	Attachments  []domain.Attachment `json:"attachments"`
	Embeds       []domain.Embed      `json:"embeds"`
	Reply        *domain.Reply       `json:"reply"`
	IsBot        bool                `json:"is_bot"`
}

// PushPayload is the nested document the push server and the live feed
// receive. ChannelID is numeric on this wire.
type PushPayload struct {
	ChannelID   int64               `json:"channel_id"`
	MessageID   string              `json:"message_id"`
	Content     string              `json:"content"`
	Timestamp   string              `json:"timestamp"`
	Author      PushAuthor          `json:"author"`
	Attachments []domain.Attachment `json:"attachments"`
	Embeds      []domain.Embed      `json:"embeds"`
	Reply       *domain.Reply       `json:"reply"`
}

type PushAuthor struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
	Bot    bool    `json:"bot"`
}

func WebhookPayloadFor(msg domain.CanonicalMessage) WebhookPayload {
	return WebhookPayload{
		ChannelID:    msg.ChannelID,
		AuthorName:   msg.Author.Name,
		AuthorAvatar: msg.Author.Avatar,
		Content:      msg.Content,
		Timestamp:    msg.Timestamp(),
		MessageID:    msg.MessageID,
		Attachments:  nonNilAttachments(msg.Attachments),
		Embeds:       nonNilEmbeds(msg.Embeds),
		Reply:        msg.Reply,
		IsBot:        msg.Author.IsBot,
	}
}

// PushPayloadFor fails only when the channel id is not numeric.
func PushPayloadFor(msg domain.CanonicalMessage) (PushPayload, error) {
	id, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return PushPayload{}, fmt.Errorf("channel id %q is not numeric", msg.ChannelID)
	}
	return PushPayload{
		ChannelID: id,
		MessageID: msg.MessageID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp(),
		Author: PushAuthor{
			Name:   msg.Author.Name,
			Avatar: msg.Author.Avatar,
			Bot:    msg.Author.IsBot,
		},
		Attachments: nonNilAttachments(msg.Attachments),
		Embeds:      nonNilEmbeds(msg.Embeds),
		Reply:       msg.Reply,
	}, nil
}

// RenderText is the plain-text form used by chat sinks. label, when set,
// prefixes the message with the source channel name.
func RenderText(msg domain.CanonicalMessage, label string) string {
	var sb strings.Builder
	if label != "" {
		fmt.Fprintf(&sb, "[%s] ", label)
	}
	sb.WriteString(msg.Author.Name)
	if msg.Author.IsBot {
		sb.WriteString(" (bot)")
	}
	sb.WriteString(":")
	if msg.Content != "" {
		sb.WriteString(" ")
		sb.WriteString(msg.Content)
	}
	if msg.Reply != nil {
		fmt.Fprintf(&sb, "\n> replying to %s: %s", msg.Reply.AuthorName, msg.Reply.ContentPreview)
	}
	for _, a := range msg.Attachments {
		fmt.Fprintf(&sb, "\n%s (%s) %s", a.Filename, humanize.Bytes(uint64(max(a.SizeBytes, 0))), a.URL)
	}
	for _, e := range msg.Embeds {
		var parts []string
		for _, p := range []*string{e.Title, e.Description, e.URL} {
			if p != nil && *p != "" {
				parts = append(parts, *p)
			}
		}
		if len(parts) > 0 {
			sb.WriteString("\n")
			sb.WriteString(strings.Join(parts, " | "))
		}
	}
	return sb.String()
}

func nonNilAttachments(a []domain.Attachment) []domain.Attachment {
	if a == nil {
		return []domain.Attachment{}
	}
	return a
}

func nonNilEmbeds(e []domain.Embed) []domain.Embed {
	if e == nil {
		return []domain.Embed{}
	}
	return e
}

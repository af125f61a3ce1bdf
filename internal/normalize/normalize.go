// Package normalize turns accepted upstream events into canonical messages.
package normalize

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const (
	replyPreviewLen = 50
	// replyTimeout bounds a resolver lookup; normalization runs on the
	// pipeline's single consumer.
	replyTimeout = 3 * time.Second
)

// ErrReplyNotFound is returned by resolvers when the referenced message is gone.
var ErrReplyNotFound = errors.New("reply target not found")

// UnknownReply is substituted whenever a reply reference cannot be resolved.
var UnknownReply = domain.Reply{AuthorName: "Unknown", ContentPreview: "Message not found"}

var mentionEmphasis = regexp.MustCompile(`\*\*(@[^*]+)\*\*`)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true,
}

// ReplyResolver looks up the message a reply points to.
type ReplyResolver interface {
	ResolveReply(ctx context.Context, ref domain.ReplyReference) (domain.ReplyTarget, error)
}

// Normalizer builds CanonicalMessages. It never fails: a field that cannot
// be extracted degrades to its nil or sentinel form.
type Normalizer struct {
	resolver     ReplyResolver
	replyTimeout time.Duration
	logger       *slog.Logger
}

func New(resolver ReplyResolver, logger *slog.Logger) *Normalizer {
	return &Normalizer{resolver: resolver, replyTimeout: replyTimeout, logger: logger}
}

// Normalize converts an accepted event.
func (n *Normalizer) Normalize(ctx context.Context, ev domain.InboundEvent) domain.CanonicalMessage {
	msg := domain.CanonicalMessage{
		ChannelID:   ev.ChannelID,
		MessageID:   ev.MessageID,
		Content:     CleanContent(ev.Content),
		Attachments: make([]domain.Attachment, 0, len(ev.Attachments)),
		Embeds:      make([]domain.Embed, 0, len(ev.Embeds)),
		CreatedAt:   ev.CreatedAt,
	}

	if ev.Author != nil {
		msg.Author = domain.Author{Name: ev.Author.Name, IsBot: ev.Author.Bot}
		if ev.Author.AvatarURL != "" {
			avatar := ev.Author.AvatarURL
			msg.Author.Avatar = &avatar
		}
	}

	for _, a := range ev.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Filename:  a.Filename,
			URL:       a.URL,
			IsImage:   IsImage(a.Filename, a.ContentType),
			SizeBytes: a.Size,
		})
	}

	for _, e := range ev.Embeds {
		msg.Embeds = append(msg.Embeds, copyEmbed(e))
	}

	if ev.Reply != nil && ev.Reply.MessageID != "" {
		reply := n.resolveReply(ctx, *ev.Reply)
		msg.Reply = &reply
	}

	return msg
}

func (n *Normalizer) resolveReply(ctx context.Context, ref domain.ReplyReference) domain.Reply {
	if ref.Resolved != nil {
		return domain.Reply{
			AuthorName:     ref.Resolved.AuthorName,
			ContentPreview: Preview(ref.Resolved.Content, replyPreviewLen),
		}
	}
	if n.resolver == nil {
		return UnknownReply
	}
	ctx, cancel := context.WithTimeout(ctx, n.replyTimeout)
	defer cancel()
	target, err := n.resolver.ResolveReply(ctx, ref)
	if err != nil {
		n.logger.Debug("reply resolution failed", "message_id", ref.MessageID, "err", err)
		return UnknownReply
	}
	return domain.Reply{
		AuthorName:     target.AuthorName,
		ContentPreview: Preview(target.Content, replyPreviewLen),
	}
}

// CleanContent unwraps bold markup around at-mentions: "**@bob**" -> "@bob".
// Unwrapping repeats until nothing matches, so nested emphasis is fully
// removed and applying CleanContent twice gives the same result as once.
func CleanContent(s string) string {
	for s != "" {
		out := mentionEmphasis.ReplaceAllString(s, "$1")
		if out == s {
			break
		}
		s = out
	}
	return s
}

// IsImage classifies an attachment by content type or file extension;
// either is enough.
func IsImage(filename, contentType string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return true
	}
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Preview returns the first max characters of s followed by "..." when s
// is longer than max.
func Preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func copyEmbed(e domain.Embed) domain.Embed {
	return domain.Embed{
		Title:        copyString(e.Title),
		Description:  copyString(e.Description),
		URL:          copyString(e.URL),
		ImageURL:     copyString(e.ImageURL),
		ThumbnailURL: copyString(e.ThumbnailURL),
	}
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package domain

import "time"

// InboundEvent is the upstream view of a chat message before admission.
type InboundEvent struct {
	ChannelID   string
	GuildID     string // empty for direct messages
	MessageID   string
	Author      *EventAuthor
	Content     string
	CreatedAt   time.Time
	Attachments []EventAttachment
	Embeds      []Embed
	Reply       *ReplyReference
}

// EventAuthor identifies who posted an InboundEvent.
type EventAuthor struct {
	ID        string
	Name      string // display name
	AvatarURL string
	Bot       bool
}

type EventAttachment struct {
	Filename    string
	URL         string
	ContentType string
	Size        int
}

// ReplyReference points at the message an event replies to. Resolved is set
// when the upstream already delivered the target with the event.
type ReplyReference struct {
	MessageID string
	ChannelID string
	Resolved  *ReplyTarget
}

// ReplyTarget is a resolved ReplyReference.
type ReplyTarget struct {
	AuthorName string
	Content    string
}

// CanonicalMessage is the sink-independent form of an accepted event.
// It is built once by the normalizer and only read afterwards.
type CanonicalMessage struct {
	ChannelID   string       `json:"channel_id"`
	MessageID   string       `json:"message_id"`
	Author      Author       `json:"author"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	Embeds      []Embed      `json:"embeds"`
	Reply       *Reply       `json:"reply"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Author struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
	IsBot  bool    `json:"is_bot"`
}

type Attachment struct {
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	IsImage   bool   `json:"is_image"`
	SizeBytes int    `json:"size"`
}

// Embed fields are nil when the upstream embed does not carry them.
type Embed struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	URL          *string `json:"url"`
	ImageURL     *string `json:"image_url"`
	ThumbnailURL *string `json:"thumbnail_url"`
}

type Reply struct {
	AuthorName     string `json:"author"`
	ContentPreview string `json:"content"`
}

// Timestamp renders CreatedAt the way every sink expects it.
func (m CanonicalMessage) Timestamp() string {
	return m.CreatedAt.UTC().Format(time.RFC3339Nano)
}

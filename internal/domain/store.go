package domain

import (
	"context"
	"time"
)

// RetainedRecord is one relayed message persisted under a channel key.
type RetainedRecord struct {
	ID         int64     `json:"id"`
	ChannelKey string    `json:"channel_key"`
	MessageID  string    `json:"message_id"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordStore is the persistence contract the store sink and the retention
// trimmer rely on. CreatedAt is always assigned by the store.
type RecordStore interface {
	Append(ctx context.Context, channelKey, messageID string, payload []byte) (RetainedRecord, error)
	Delete(ctx context.Context, id int64) error
	// ListIDs returns record ids of a channel ordered newest first, skipping offset.
	ListIDs(ctx context.Context, channelKey string, offset int) ([]int64, error)
	ChannelKeys(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"relaybot/internal/domain"
)

// KeyResolver maps an upstream channel id to its store collection key.
type KeyResolver interface {
	SinkKey(channelID string) (string, bool)
}

// Trimmer bounds a channel key to its newest records.
type Trimmer interface {
	Trim(ctx context.Context, channelKey string, keep int) (int, error)
}

type StoreConfig struct {
	Store   domain.RecordStore
	Keys    KeyResolver
	Trimmer Trimmer
	Keep    int
	Logger  *slog.Logger
}

// Store appends each message to the record store under its channel key and
// trims the key afterwards.
type Store struct {
	store   domain.RecordStore
	keys    KeyResolver
	trimmer Trimmer
	keep    int
	logger  *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Keep <= 0 {
		cfg.Keep = 100
	}
	return &Store{
		store:   cfg.Store,
		keys:    cfg.Keys,
		trimmer: cfg.Trimmer,
		keep:    cfg.Keep,
		logger:  cfg.Logger,
	}
}

func (s *Store) Name() string { return "store" }

func (s *Store) Send(ctx context.Context, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	key, ok := s.keys.SinkKey(msg.ChannelID)
	if !ok {
		return skipped(s.Name(), fmt.Sprintf("no mapping for channel %s", msg.ChannelID))
	}

	body, err := json.Marshal(WebhookPayloadFor(msg))
	if err != nil {
		return failed(s.Name(), fmt.Sprintf("encode: %v", err))
	}

	rec, err := s.store.Append(ctx, key, msg.MessageID, body)
	if err != nil {
		return failed(s.Name(), fmt.Sprintf("append to %s: %v", key, err))
	}

	if s.trimmer != nil {
		if _, err := s.trimmer.Trim(ctx, key, s.keep); err != nil {
			s.logger.Warn("retention trim failed", "channel_key", key, "err", err)
		}
	}
	return succeeded(s.Name(), fmt.Sprintf("stored %s/%d", key, rec.ID))
}

func (s *Store) Probe(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Package retention bounds each channel key in the record store to its newest
// records, both inline after writes and on a cron-scheduled sweep.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// DefaultKeep is the retention window per channel key.
const DefaultKeep = 100

// Trimmer deletes records beyond a retention window.
type Trimmer struct {
	store  domain.RecordStore
	logger *slog.Logger
}

func NewTrimmer(store domain.RecordStore, logger *slog.Logger) *Trimmer {
	return &Trimmer{store: store, logger: logger}
}

// Trim keeps the newest keep records of channelKey and deletes the rest,
// returning how many were removed. Deletion stops at the first error.
func (t *Trimmer) Trim(ctx context.Context, channelKey string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	ids, err := t.store.ListIDs(ctx, channelKey, keep)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", channelKey, err)
	}

	deleted := 0
	for _, id := range ids {
		if err := t.store.Delete(ctx, id); err != nil {
			metrics.RetentionDeleted.WithLabelValues(channelKey).Add(float64(deleted))
			return deleted, fmt.Errorf("delete %s/%d: %w", channelKey, id, err)
		}
		deleted++
	}
	if deleted > 0 {
		metrics.RetentionDeleted.WithLabelValues(channelKey).Add(float64(deleted))
		t.logger.Debug("retention trimmed", "channel_key", channelKey, "deleted", deleted)
	}
	return deleted, nil
}

// Sweep trims every channel key present in the store. Per-key failures are
// logged and the sweep continues.
func (t *Trimmer) Sweep(ctx context.Context, keep int) (int, error) {
	keys, err := t.store.ChannelKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channel keys: %w", err)
	}

	total := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := t.Trim(ctx, key, keep)
		total += n
		if err != nil {
			t.logger.Warn("retention sweep failed for key", "channel_key", key, "err", err)
		}
	}
	return total, nil
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Trimmer *Trimmer
	Cron    string
	Keep    int
	Logger  *slog.Logger
	// Now overrides the clock used to compute the next tick.
	Now func() time.Time
}

// Scheduler runs Sweep on a cron expression.
type Scheduler struct {
	trimmer *Trimmer
	cron    string
	keep    int
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", cfg.Cron)
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		trimmer: cfg.Trimmer,
		cron:    cfg.Cron,
		keep:    cfg.Keep,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("retention sweep scheduled", "cron", s.cron, "keep", s.keep)
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now(), false)
		if err != nil {
			s.logger.Error("retention next tick failed", "cron", s.cron, "err", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(s.now())
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single sweep unless one is already in progress.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = s.now()
		s.mu.Unlock()
	}()

	start := time.Now()
	deleted, err := s.trimmer.Sweep(ctx, s.keep)
	if err != nil {
		s.logger.Error("retention sweep failed", "err", err)
		return
	}
	s.logger.Info("retention sweep complete", "deleted", deleted, "duration", time.Since(start))
}

// LastRun reports when the most recent sweep finished.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

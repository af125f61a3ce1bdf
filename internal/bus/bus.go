// Package bus carries inbound chat events from the upstream session to the
// relay pipeline, and relay lifecycle events to observers.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const publishTimeout = 10 * time.Second

// Queue is a buffered channel of inbound events with a single consumer.
type Queue struct {
	inbound chan domain.InboundEvent
	// done is closed first by Close so publishers waiting on a full queue
	// give up and release the read lock.
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Queue with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Queue{
		inbound: make(chan domain.InboundEvent, bufferSize),
		done:    make(chan struct{}),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish blocks up to 10 seconds if the queue is full, then drops the event.
// A Close during the wait drops it immediately.
func (q *Queue) Publish(ev domain.InboundEvent) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "message_id", ev.MessageID)
		return
	}

	select {
	case q.inbound <- ev:
	default:
		q.logger.Warn("inbound queue full, waiting...", "channel_id", ev.ChannelID, "message_id", ev.MessageID)
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		select {
		case q.inbound <- ev:
			q.logger.Info("event queued after wait", "message_id", ev.MessageID)
		case <-q.done:
			q.logger.Warn("event dropped: queue closing", "channel_id", ev.ChannelID, "message_id", ev.MessageID)
		case <-timer.C:
			q.logger.Error("event dropped: queue full",
				"channel_id", ev.ChannelID,
				"message_id", ev.MessageID,
				"waited", q.timeout,
			)
		}
	}
}

func (q *Queue) Subscribe() <-chan domain.InboundEvent {
	return q.inbound
}

// Len reports how many events are waiting.
func (q *Queue) Len() int {
	return len(q.inbound)
}

func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		close(q.inbound)
	})
}

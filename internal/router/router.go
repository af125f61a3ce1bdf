// Package router fans one canonical message out to every configured sink.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// DefaultTimeout bounds a single sink attempt.
const DefaultTimeout = 10 * time.Second

// Target is a sink with its reporting role.
type Target struct {
	Sink domain.Sink
	Role domain.SinkRole
}

type Config struct {
	Targets []Target
	Timeout time.Duration
	Logger  *slog.Logger
}

// Router attempts every target exactly once per message, concurrently. It
// never retries and never queues.
type Router struct {
	targets []Target
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Router{
		targets: cfg.Targets,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

func (r *Router) Targets() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

func (r *Router) Name() string {
	names := make([]string, len(r.targets))
	for i, t := range r.targets {
		names[i] = t.Sink.Name()
	}
	return "router(" + strings.Join(names, ",") + ")"
}

// Deliver returns one outcome per target, in declared order. A slow or
// panicking sink only affects its own outcome.
func (r *Router) Deliver(ctx context.Context, msg domain.CanonicalMessage) []domain.DeliveryOutcome {
	deliveryID := uuid.NewString()
	outcomes := make([]domain.DeliveryOutcome, len(r.targets))

	var wg sync.WaitGroup
	for i, t := range r.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = r.attempt(ctx, t, msg)
		}()
	}
	wg.Wait()

	r.report(deliveryID, msg, outcomes)
	return outcomes
}

func (r *Router) attempt(ctx context.Context, t Target, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	name := t.Sink.Name()
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	// Buffered so an abandoned Send can still complete its write and exit.
	done := make(chan domain.DeliveryOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("sink panicked", "sink", name, "panic", p)
				done <- domain.DeliveryOutcome{Attempted: true, Detail: fmt.Sprintf("panic: %v", p)}
			}
		}()
		done <- t.Sink.Send(attemptCtx, msg)
	}()

	var out domain.DeliveryOutcome
	select {
	case out = <-done:
	case <-attemptCtx.Done():
		detail := fmt.Sprintf("timed out after %s", r.timeout)
		if ctx.Err() != nil {
			detail = "cancelled: " + ctx.Err().Error()
		}
		out = domain.DeliveryOutcome{Attempted: true, Detail: detail}
	}

	out.Sink = name
	out.Role = t.Role
	out.Latency = time.Since(start)
	metrics.ObserveDelivery(name, out.Attempted, out.Succeeded, out.Latency)
	return out
}

func (r *Router) report(deliveryID string, msg domain.CanonicalMessage, outcomes []domain.DeliveryOutcome) {
	var via *domain.DeliveryOutcome
	primaryOK := false
	for i := range outcomes {
		o := &outcomes[i]
		if !o.Succeeded {
			if o.Attempted {
				r.logger.Warn("delivery failed",
					"delivery_id", deliveryID,
					"sink", o.Sink,
					"role", o.Role,
					"detail", o.Detail,
				)
			}
			continue
		}
		if via == nil {
			via = o
		}
		if o.Role == domain.RolePrimary {
			primaryOK = true
		}
	}

	if via == nil {
		metrics.MessagesLost.Inc()
		r.logger.Error("message lost",
			"delivery_id", deliveryID,
			"channel_id", msg.ChannelID,
			"message_id", msg.MessageID,
			"author", msg.Author.Name,
			"sinks", len(outcomes),
		)
		return
	}

	if !primaryOK {
		r.logger.Warn("only backup sinks succeeded",
			"delivery_id", deliveryID,
			"message_id", msg.MessageID,
			"via", via.Sink,
		)
	}
	r.logger.Info("delivered via "+via.Sink,
		"delivery_id", deliveryID,
		"channel_id", msg.ChannelID,
		"message_id", msg.MessageID,
		"author", msg.Author.Name,
		"latency", via.Latency,
	)
}

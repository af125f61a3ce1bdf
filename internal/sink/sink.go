// Package sink implements the downstream delivery destinations. Every Send
// reports its result through a domain.DeliveryOutcome; none of them return
// errors or panic.
package sink

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"relaybot/internal/domain"
)

func succeeded(name, detail string) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{Sink: name, Attempted: true, Succeeded: true, Detail: detail}
}

func failed(name, detail string) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{Sink: name, Attempted: true, Detail: detail}
}

// skipped reports a sink that declined the message without attempting a write.
func skipped(name, detail string) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{Sink: name, Detail: detail}
}

// Labeler returns a display name for a channel id, or "".
type Labeler func(channelID string) string

// limited throttles Send with a token bucket. Waiting for a token consumes
// the caller's deadline.
type limited struct {
	domain.Sink
	limiter *rate.Limiter
}

// WithRateLimit wraps s so that at most perSecond messages are sent per
// second, with a burst of one. A non-positive rate returns s unchanged.
func WithRateLimit(s domain.Sink, perSecond float64) domain.Sink {
	if perSecond <= 0 {
		return s
	}
	return &limited{Sink: s, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (l *limited) Send(ctx context.Context, msg domain.CanonicalMessage) domain.DeliveryOutcome {
	if err := l.limiter.Wait(ctx); err != nil {
		return failed(l.Name(), fmt.Sprintf("rate limited: %v", err))
	}
	return l.Sink.Send(ctx, msg)
}

func (l *limited) Unwrap() domain.Sink { return l.Sink }

// ProberOf returns the reachability probe of s, looking through wrappers.
func ProberOf(s domain.Sink) (domain.Prober, bool) {
	for s != nil {
		if p, ok := s.(domain.Prober); ok {
			return p, true
		}
		u, ok := s.(interface{ Unwrap() domain.Sink })
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
	return nil, false
}

// Package pipeline drives inbound events through admission, normalization
// and delivery.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/filter"
	"relaybot/internal/metrics"
)

const DefaultMaxInFlight = 16

// Admitter decides whether an event may be relayed.
type Admitter interface {
	Check(ev domain.InboundEvent, selfID string) filter.Decision
}

type Normalizer interface {
	Normalize(ctx context.Context, ev domain.InboundEvent) domain.CanonicalMessage
}

type Deliverer interface {
	Deliver(ctx context.Context, msg domain.CanonicalMessage) []domain.DeliveryOutcome
}

type Config struct {
	Queue      domain.EventQueue
	Filter     Admitter
	Normalizer Normalizer
	Router     Deliverer
	// SelfID returns the session user id; nil means unknown.
	SelfID      func() string
	Events      *bus.EventBus
	MaxInFlight int
	Logger      *slog.Logger
}

// Pipeline is the single consumer of the event queue. Admission and
// normalization run in arrival order on the consumer; each accepted message
// is delivered on its own goroutine, at most MaxInFlight at a time.
type Pipeline struct {
	queue      domain.EventQueue
	filter     Admitter
	normalizer Normalizer
	router     Deliverer
	selfID     func() string
	events     *bus.EventBus
	logger     *slog.Logger

	sem      chan struct{}
	inflight sync.WaitGroup
}

func New(cfg Config) *Pipeline {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.SelfID == nil {
		cfg.SelfID = func() string { return "" }
	}
	return &Pipeline{
		queue:      cfg.Queue,
		filter:     cfg.Filter,
		normalizer: cfg.Normalizer,
		router:     cfg.Router,
		selfID:     cfg.SelfID,
		events:     cfg.Events,
		logger:     cfg.Logger,
		sem:        make(chan struct{}, cfg.MaxInFlight),
	}
}

// Run consumes the queue until it is closed or ctx is cancelled, then waits
// for in-flight deliveries to finish.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.inflight.Wait()

	events := p.queue.Subscribe()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping, draining deliveries")
			return
		case ev, ok := <-events:
			if !ok {
				p.logger.Info("event queue closed, draining deliveries")
				return
			}
			p.Process(ctx, ev)
		}
	}
}

// Process admits, normalizes and dispatches one event. It returns true when
// a delivery was started. It blocks while MaxInFlight deliveries are running.
func (p *Pipeline) Process(ctx context.Context, ev domain.InboundEvent) bool {
	p.emit(bus.Event{Type: bus.EventReceived, ChannelID: ev.ChannelID, MessageID: ev.MessageID})

	decision := p.filter.Check(ev, p.selfID())
	if !decision.Accepted {
		metrics.EventsTotal.WithLabelValues(string(decision.Reason)).Inc()
		p.emit(bus.Event{Type: bus.EventRejected, ChannelID: ev.ChannelID, MessageID: ev.MessageID, Detail: string(decision.Reason)})
		return false
	}
	metrics.EventsTotal.WithLabelValues("accepted").Inc()
	p.emit(bus.Event{Type: bus.EventAccepted, ChannelID: ev.ChannelID, MessageID: ev.MessageID})

	msg := p.normalizer.Normalize(ctx, ev)

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.logger.Warn("delivery not started, shutting down", "message_id", msg.MessageID)
		return false
	}

	// Deliveries outlive shutdown of the consumer; the router's per-sink
	// timeout bounds them.
	deliverCtx := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	metrics.InFlight.Inc()
	go func() {
		defer func() {
			metrics.InFlight.Dec()
			<-p.sem
			p.inflight.Done()
		}()
		p.deliver(deliverCtx, msg)
	}()
	return true
}

func (p *Pipeline) deliver(ctx context.Context, msg domain.CanonicalMessage) {
	outcomes := p.router.Deliver(ctx, msg)
	for _, o := range outcomes {
		if o.Succeeded {
			p.emit(bus.Event{Type: bus.EventRelayed, ChannelID: msg.ChannelID, MessageID: msg.MessageID, Detail: o.Sink})
			return
		}
	}
	p.emit(bus.Event{Type: bus.EventLost, ChannelID: msg.ChannelID, MessageID: msg.MessageID})
}

// Wait blocks until every started delivery has finished.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

func (p *Pipeline) emit(ev bus.Event) {
	if p.events != nil {
		p.events.Emit(ev)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/filter"
	"relaybot/internal/normalize"
	"relaybot/internal/registry"
	"relaybot/internal/retention"
	"relaybot/internal/router"
	"relaybot/internal/sink"
	"relaybot/internal/store"
)

const (
	monitoredID = "1392587523838185592"
	selfID      = "42"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type harness struct {
	pipeline *Pipeline
	queue    *bus.Queue
	events   *bus.EventBus
	store    *store.SQLiteStore

	mu       sync.Mutex
	webhooks []sink.WebhookPayload
	pushes   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	logger := testLogger()

	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p sink.WebhookPayload
		json.NewDecoder(r.Body).Decode(&p)
		h.mu.Lock()
		h.webhooks = append(h.webhooks, p)
		h.mu.Unlock()
	}))
	t.Cleanup(webhookSrv.Close)

	pushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.pushes++
		h.mu.Unlock()
	}))
	t.Cleanup(pushSrv.Close)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	h.store = st

	reg := registry.New([]registry.Entry{
		{ID: monitoredID, Name: "SERENITY", Key: "serenity", Enabled: true},
	})

	rt := router.New(router.Config{
		Targets: []router.Target{
			{Sink: sink.NewWebhook(sink.WebhookConfig{URL: webhookSrv.URL, Logger: logger}), Role: domain.RolePrimary},
			{Sink: sink.NewPush(sink.PushConfig{URL: pushSrv.URL, Logger: logger}), Role: domain.RoleBackup},
			{Sink: sink.NewStore(sink.StoreConfig{
				Store:   st,
				Keys:    reg,
				Trimmer: retention.NewTrimmer(st, logger),
				Logger:  logger,
			}), Role: domain.RoleBackup},
		},
		Timeout: 2 * time.Second,
		Logger:  logger,
	})

	h.queue = bus.New(10, logger)
	h.events = bus.NewEventBus(logger)
	h.pipeline = New(Config{
		Queue: h.queue,
		Filter: filter.New(filter.Config{
			Channels: reg,
			Rules:    config.FilterConfig{BlockPromotional: true},
			Logger:   logger,
		}),
		Normalizer: normalize.New(nil, logger),
		Router:     rt,
		SelfID:     func() string { return selfID },
		Events:     h.events,
		Logger:     logger,
	})
	return h
}

func event(channelID, content string) domain.InboundEvent {
	return domain.InboundEvent{
		ChannelID: channelID,
		GuildID:   "1",
		MessageID: "5001",
		Author:    &domain.EventAuthor{ID: "u1", Name: "alice"},
		Content:   content,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	h := newHarness(t)

	var got atomic.Bool
	h.events.On(bus.EventRelayed, func(bus.Event) { got.Store(true) })

	ctx := context.Background()
	if !h.pipeline.Process(ctx, event(monitoredID, "hello **@world**")) {
		t.Fatal("expected delivery to start")
	}
	h.pipeline.Wait()

	if !got.Load() {
		t.Fatal("expected relayed event")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.webhooks) != 1 {
		t.Fatalf("expected 1 webhook post, got %d", len(h.webhooks))
	}
	if h.webhooks[0].Content != "hello @world" {
		t.Errorf("content = %q, want %q", h.webhooks[0].Content, "hello @world")
	}
	if h.pushes != 1 {
		t.Errorf("expected 1 push, got %d", h.pushes)
	}
	if n, _ := h.store.Count(ctx, "serenity"); n != 1 {
		t.Errorf("stored records = %d, want 1", n)
	}
}

// recordingRouter captures what reaches delivery.
type recordingRouter struct {
	mu       sync.Mutex
	messages []domain.CanonicalMessage
}

func (r *recordingRouter) Deliver(_ context.Context, msg domain.CanonicalMessage) []domain.DeliveryOutcome {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	return []domain.DeliveryOutcome{{Sink: "x", Attempted: true, Succeeded: true}}
}

func newRecordingPipeline(rr *recordingRouter, maxInFlight int) *Pipeline {
	logger := testLogger()
	reg := registry.New([]registry.Entry{{ID: monitoredID, Name: "SERENITY", Key: "serenity", Enabled: true}})
	return New(Config{
		Queue:       bus.New(10, logger),
		Filter:      filter.New(filter.Config{Channels: reg, Rules: config.FilterConfig{BlockPromotional: true}, Logger: logger}),
		Normalizer:  normalize.New(nil, logger),
		Router:      rr,
		SelfID:      func() string { return selfID },
		MaxInFlight: maxInFlight,
		Logger:      logger,
	})
}

func TestPipeline_UnregisteredChannelNoAttempts(t *testing.T) {
	h := newHarness(t)
	if h.pipeline.Process(context.Background(), event("999", "hello")) {
		t.Fatal("unregistered channel must not be delivered")
	}
	h.pipeline.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.webhooks) != 0 || h.pushes != 0 {
		t.Errorf("expected zero sink attempts, got webhooks=%d pushes=%d", len(h.webhooks), h.pushes)
	}
}

func TestPipeline_RejectsDeepLinks(t *testing.T) {
	rr := &recordingRouter{}
	p := newRecordingPipeline(rr, 0)

	var reason string
	p.events = bus.NewEventBus(testLogger())
	p.events.On(bus.EventRejected, func(e bus.Event) { reason = e.Detail })

	p.Process(context.Background(), event(monitoredID, "see https://discord.com/channels/1/2/3"))
	p.Wait()

	if len(rr.messages) != 0 {
		t.Error("deep-link message must not reach delivery")
	}
	if reason != string(filter.ReasonPromotional) {
		t.Errorf("reason = %q", reason)
	}
}

func TestPipeline_RejectsSelf(t *testing.T) {
	rr := &recordingRouter{}
	p := newRecordingPipeline(rr, 0)

	ev := event(monitoredID, "hi")
	ev.Author.ID = selfID
	if p.Process(context.Background(), ev) {
		t.Error("own message must be rejected")
	}
}

func TestPipeline_RunConsumesInOrderAndDrains(t *testing.T) {
	rr := &recordingRouter{}
	p := newRecordingPipeline(rr, 1)

	q := p.queue.(*bus.Queue)
	for _, id := range []string{"a", "b", "c"} {
		ev := event(monitoredID, "msg "+id)
		ev.MessageID = id
		q.Publish(ev)
	}
	q.Close()

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after queue close")
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	if len(rr.messages) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(rr.messages))
	}
	// With one slot in flight deliveries complete in arrival order.
	for i, id := range []string{"a", "b", "c"} {
		if rr.messages[i].MessageID != id {
			t.Errorf("message %d = %q, want %q", i, rr.messages[i].MessageID, id)
		}
	}
}

// blockingRouter holds every delivery until released.
type blockingRouter struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (b *blockingRouter) Deliver(context.Context, domain.CanonicalMessage) []domain.DeliveryOutcome {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-b.release
	b.active.Add(-1)
	return nil
}

func TestPipeline_BoundsInFlight(t *testing.T) {
	br := &blockingRouter{release: make(chan struct{})}
	logger := testLogger()
	reg := registry.New([]registry.Entry{{ID: monitoredID, Key: "k", Enabled: true}})
	p := New(Config{
		Queue:       bus.New(10, logger),
		Filter:      filter.New(filter.Config{Channels: reg, Logger: logger}),
		Normalizer:  normalize.New(nil, logger),
		Router:      br,
		MaxInFlight: 2,
		Logger:      logger,
	})

	started := make(chan struct{})
	go func() {
		for i := 0; i < 4; i++ {
			p.Process(context.Background(), event(monitoredID, "x"))
		}
		close(started)
	}()

	time.Sleep(50 * time.Millisecond)
	if got := br.active.Load(); got != 2 {
		t.Errorf("active deliveries = %d, want 2", got)
	}
	close(br.release)
	<-started
	p.Wait()

	if br.peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", br.peak.Load())
	}
}

func TestPipeline_LostEmitsEvent(t *testing.T) {
	logger := testLogger()
	reg := registry.New([]registry.Entry{{ID: monitoredID, Key: "k", Enabled: true}})
	events := bus.NewEventBus(logger)
	failing := router.New(router.Config{
		Targets: []router.Target{{Sink: sink.NewPush(sink.PushConfig{URL: "http://127.0.0.1:1", Logger: logger}), Role: domain.RolePrimary}},
		Timeout: time.Second,
		Logger:  logger,
	})
	p := New(Config{
		Queue:      bus.New(1, logger),
		Filter:     filter.New(filter.Config{Channels: reg, Logger: logger}),
		Normalizer: normalize.New(nil, logger),
		Router:     failing,
		Events:     events,
		Logger:     logger,
	})

	p.Process(context.Background(), event(monitoredID, "x"))
	p.Wait()

	if lost := events.Recent(bus.EventLost, 10); len(lost) != 1 {
		t.Errorf("expected one lost event, got %d", len(lost))
	}
}

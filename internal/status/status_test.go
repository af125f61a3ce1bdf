package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeUpstream struct{ st domain.SessionState }

func (f fakeUpstream) State() domain.SessionState { return f.st }

type fakeChannels int

func (f fakeChannels) EnabledCount() int { return int(f) }

type probeSink struct {
	name  string
	err   error
	delay time.Duration
}

func (p *probeSink) Name() string { return p.name }

func (p *probeSink) Send(context.Context, domain.CanonicalMessage) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{}
}

func (p *probeSink) Probe(ctx context.Context) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.err
}

type plainSink struct{}

func (plainSink) Name() string { return "slack" }

func (plainSink) Send(context.Context, domain.CanonicalMessage) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{}
}

func newAggregator(events *bus.EventBus, sinks ...SinkEntry) *Aggregator {
	return NewAggregator(Config{
		Version:      "test",
		Upstream:     fakeUpstream{domain.SessionState{Ready: true, User: "relay#0001", Guilds: 3}},
		Scope:        "1",
		Channels:     fakeChannels(14),
		Sinks:        sinks,
		Events:       events,
		ProbeTimeout: 100 * time.Millisecond,
		Logger:       testLogger(),
	})
}

func TestSnapshot_Fields(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	agg := newAggregator(events,
		SinkEntry{Name: "webhook", Role: domain.RolePrimary, Sink: plainSink{}},
		SinkEntry{Name: "push", Role: domain.RoleBackup, Sink: &probeSink{name: "push"}},
		SinkEntry{Name: "store", Role: domain.RoleBackup, Sink: &probeSink{name: "store", err: errors.New("database is locked")}},
		SinkEntry{Name: "telegram"},
	)

	events.Emit(bus.Event{Type: bus.EventReceived})
	events.Emit(bus.Event{Type: bus.EventReceived})
	events.Emit(bus.Event{Type: bus.EventRejected})
	events.Emit(bus.Event{Type: bus.EventAccepted})
	events.Emit(bus.Event{Type: bus.EventRelayed, Detail: "webhook"})

	snap := agg.Snapshot(context.Background())
	if snap.Status != "ok" || snap.Version != "test" {
		t.Errorf("status/version = %q/%q", snap.Status, snap.Version)
	}
	if !snap.Upstream.Ready || snap.Upstream.Guilds != 3 || snap.Upstream.Scope != "1" {
		t.Errorf("upstream = %+v", snap.Upstream)
	}
	if snap.MonitoredChannels != 14 {
		t.Errorf("monitored = %d", snap.MonitoredChannels)
	}
	want := Counters{Received: 2, Accepted: 1, Rejected: 1, Relayed: 1}
	if snap.Events != want {
		t.Errorf("events = %+v, want %+v", snap.Events, want)
	}
	if snap.LastRelayedAt == nil {
		t.Error("expected last_relayed_at")
	}

	if len(snap.Sinks) != 4 {
		t.Fatalf("expected 4 sinks, got %d", len(snap.Sinks))
	}
	if s := snap.Sinks[0]; !s.Configured || s.Reachable != nil || s.Role != "primary" {
		t.Errorf("webhook = %+v (no probe means no reachability)", s)
	}
	if s := snap.Sinks[1]; s.Reachable == nil || !*s.Reachable {
		t.Errorf("push = %+v", s)
	}
	if s := snap.Sinks[2]; s.Reachable == nil || *s.Reachable || s.Error != "database is locked" {
		t.Errorf("store = %+v", s)
	}
	if s := snap.Sinks[3]; s.Configured || s.Role != "" {
		t.Errorf("telegram = %+v", s)
	}
}

func TestSnapshot_ProbeTimeout(t *testing.T) {
	agg := newAggregator(nil, SinkEntry{Name: "push", Role: domain.RoleBackup, Sink: &probeSink{name: "push", delay: time.Second}})

	start := time.Now()
	snap := agg.Snapshot(context.Background())
	if time.Since(start) > 500*time.Millisecond {
		t.Error("snapshot waited past the probe timeout")
	}
	if s := snap.Sinks[0]; s.Reachable == nil || *s.Reachable || !strings.Contains(s.Error, "deadline") {
		t.Errorf("push = %+v", s)
	}
}

func TestSnapshot_NotReady(t *testing.T) {
	agg := NewAggregator(Config{Upstream: fakeUpstream{}, Logger: testLogger()})
	if snap := agg.Snapshot(context.Background()); snap.Status != "connecting" {
		t.Errorf("status = %q, want connecting", snap.Status)
	}
}

func TestServer_Routes(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	events.Emit(bus.Event{Type: bus.EventLost, MessageID: "m1"})
	events.Emit(bus.Event{Type: bus.EventReceived, MessageID: "m2"})

	feed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	srv := NewServer(ServerConfig{
		Aggregator: newAggregator(events),
		Events:     events,
		Metrics:    true,
		Feed:       feed,
		Logger:     testLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var snap Snapshot
		json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || snap.Version != "test" {
			t.Errorf("%s: status %d snapshot %+v", path, resp.StatusCode, snap)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type %q", path, ct)
		}
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "relaybot_") {
		t.Error("metrics endpoint should expose relay metrics")
	}

	resp, err = http.Get(ts.URL + "/events?type=message.lost")
	if err != nil {
		t.Fatal(err)
	}
	var ev struct {
		Events []bus.Event `json:"events"`
	}
	json.NewDecoder(resp.Body).Decode(&ev)
	resp.Body.Close()
	if len(ev.Events) != 1 || ev.Events[0].MessageID != "m1" {
		t.Errorf("events = %+v", ev.Events)
	}

	resp, _ = http.Get(ts.URL + "/events?limit=zero")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/ws")
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("feed not mounted, status %d", resp.StatusCode)
	}
}

func TestServer_NoMetricsWhenDisabled(t *testing.T) {
	srv := NewServer(ServerConfig{Aggregator: newAggregator(nil), Logger: testLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if srv.Addr() != "0.0.0.0:8080" && srv.Addr() != ":8080" {
		t.Errorf("Addr = %q", srv.Addr())
	}
}

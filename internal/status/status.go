// Package status aggregates relay health into a snapshot and serves it over
// HTTP together with metrics and the live feed.
package status

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/sink"
)

const DefaultProbeTimeout = 3 * time.Second

type UpstreamInfo struct {
	Ready  bool   `json:"ready"`
	User   string `json:"user,omitempty"`
	Guilds int    `json:"guilds"`
	Scope  string `json:"scope,omitempty"`
}

type SinkInfo struct {
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	Configured bool   `json:"configured"`
	Reachable  *bool  `json:"reachable,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Counters struct {
	Received uint64 `json:"received"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Relayed  uint64 `json:"relayed"`
	Lost     uint64 `json:"lost"`
}

// Snapshot is the liveness document.
type Snapshot struct {
	Status            string       `json:"status"`
	Version           string       `json:"version"`
	UptimeSeconds     int64        `json:"uptime_seconds"`
	Started           string       `json:"started"`
	Upstream          UpstreamInfo `json:"upstream"`
	MonitoredChannels int          `json:"monitored_channels"`
	Sinks             []SinkInfo   `json:"sinks"`
	Events            Counters     `json:"events"`
	LastRelayedAt     *time.Time   `json:"last_relayed_at,omitempty"`
}

// SessionReporter is the upstream view the aggregator needs.
type SessionReporter interface {
	State() domain.SessionState
}

type ChannelCounter interface {
	EnabledCount() int
}

// SinkEntry describes one known sink. Sink is nil when it is not configured.
type SinkEntry struct {
	Name string
	Role domain.SinkRole
	Sink domain.Sink
}

type Config struct {
	Version      string
	Upstream     SessionReporter
	Scope        string
	Channels     ChannelCounter
	Sinks        []SinkEntry
	Events       *bus.EventBus
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// Aggregator builds Snapshots. It keeps lifecycle counters by listening on
// the event bus.
type Aggregator struct {
	version      string
	upstream     SessionReporter
	scope        string
	channels     ChannelCounter
	sinks        []SinkEntry
	probeTimeout time.Duration
	logger       *slog.Logger

	received, accepted, rejected, relayed, lost atomic.Uint64
	lastRelayed                                 atomic.Int64
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	a := &Aggregator{
		version:      cfg.Version,
		upstream:     cfg.Upstream,
		scope:        cfg.Scope,
		channels:     cfg.Channels,
		sinks:        cfg.Sinks,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}
	if cfg.Events != nil {
		cfg.Events.On("*", a.count)
	}
	return a
}

func (a *Aggregator) count(e bus.Event) {
	switch e.Type {
	case bus.EventReceived:
		a.received.Add(1)
	case bus.EventAccepted:
		a.accepted.Add(1)
	case bus.EventRejected:
		a.rejected.Add(1)
	case bus.EventRelayed:
		a.relayed.Add(1)
		a.lastRelayed.Store(e.Timestamp.UnixNano())
	case bus.EventLost:
		a.lost.Add(1)
	}
}

// Snapshot never fails; probe errors are reported per sink.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	up := metrics.Uptime()
	snap := Snapshot{
		Status:        "ok",
		Version:       a.version,
		UptimeSeconds: int64(up.Seconds()),
		Started:       humanize.Time(time.Now().Add(-up)),
		Events: Counters{
			Received: a.received.Load(),
			Accepted: a.accepted.Load(),
			Rejected: a.rejected.Load(),
			Relayed:  a.relayed.Load(),
			Lost:     a.lost.Load(),
		},
	}
	if ns := a.lastRelayed.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		snap.LastRelayedAt = &t
	}

	if a.upstream != nil {
		st := a.upstream.State()
		snap.Upstream = UpstreamInfo{Ready: st.Ready, User: st.User, Guilds: st.Guilds, Scope: a.scope}
	}
	if !snap.Upstream.Ready {
		snap.Status = "connecting"
	}
	if a.channels != nil {
		snap.MonitoredChannels = a.channels.EnabledCount()
	}

	snap.Sinks = a.probeSinks(ctx)
	return snap
}

func (a *Aggregator) probeSinks(ctx context.Context) []SinkInfo {
	infos := make([]SinkInfo, len(a.sinks))
	var wg sync.WaitGroup
	for i, entry := range a.sinks {
		infos[i] = SinkInfo{Name: entry.Name, Configured: entry.Sink != nil}
		if entry.Sink == nil {
			continue
		}
		infos[i].Role = string(entry.Role)

		prober, ok := sink.ProberOf(entry.Sink)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
			defer cancel()

			err := probe(probeCtx, prober)
			reachable := err == nil
			infos[i].Reachable = &reachable
			if err != nil {
				infos[i].Error = err.Error()
				a.logger.Debug("sink probe failed", "sink", entry.Name, "err", err)
			}
		}()
	}
	wg.Wait()
	return infos
}

// probe runs p but gives up at the deadline even if p ignores ctx.
func probe(ctx context.Context, p domain.Prober) error {
	done := make(chan error, 1)
	go func() { done <- p.Probe(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

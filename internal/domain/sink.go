package domain

import (
	"context"
	"time"
)

// SinkRole tags a sink for delivery reporting.
type SinkRole string

const (
	RolePrimary SinkRole = "primary"
	RoleBackup  SinkRole = "backup"
)

// Sink is a downstream delivery destination. Send must not panic and must
// report every failure through the returned outcome.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg CanonicalMessage) DeliveryOutcome
}

// Prober is implemented by sinks that can check their own reachability.
type Prober interface {
	Probe(ctx context.Context) error
}

// DeliveryOutcome is the result of one attempt against one sink.
type DeliveryOutcome struct {
	Sink      string        `json:"sink"`
	Role      SinkRole      `json:"role"`
	Attempted bool          `json:"attempted"`
	Succeeded bool          `json:"succeeded"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency"`
}

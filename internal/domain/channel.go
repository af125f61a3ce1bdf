package domain

import "context"

// Upstream is the chat platform session feeding the pipeline.
type Upstream interface {
	Name() string
	Start(ctx context.Context, queue EventQueue) error
	SelfID() string
	State() SessionState
}

// SessionState is a point-in-time view of the upstream session.
type SessionState struct {
	Ready  bool   `json:"ready"`
	User   string `json:"user,omitempty"`
	Guilds int    `json:"guilds"`
}

// Package registry holds the static table of monitored upstream channels.
package registry

import "relaybot/internal/config"

// Entry is one channel row.
type Entry struct {
	ID      string
	Name    string
	Key     string // sink-local key, empty when the channel has none
	Enabled bool
}

// Registry maps upstream channel ids to relay settings. It is built once and
// never modified, so concurrent reads need no locking.
type Registry struct {
	entries map[string]Entry
	order   []string
}

// New builds a registry from entries; later duplicates replace earlier ones.
func New(entries []Entry) *Registry {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if _, ok := r.entries[e.ID]; !ok {
			r.order = append(r.order, e.ID)
		}
		r.entries[e.ID] = e
	}
	return r
}

// FromConfig builds a registry from the configured channel table.
func FromConfig(cfg config.ChannelsConfig) *Registry {
	entries := make([]Entry, 0, len(cfg.Entries))
	for _, c := range cfg.Entries {
		entries = append(entries, Entry{
			ID:      c.ID,
			Name:    c.Name,
			Key:     c.Key,
			Enabled: !c.Disabled,
		})
	}
	return New(entries)
}

// IsEnabled reports whether messages from channelID should be relayed.
func (r *Registry) IsEnabled(channelID string) bool {
	e, ok := r.entries[channelID]
	return ok && e.Enabled
}

// SinkKey translates channelID into the key used by sinks that do not accept
// upstream ids directly.
func (r *Registry) SinkKey(channelID string) (string, bool) {
	e, ok := r.entries[channelID]
	if !ok || e.Key == "" {
		return "", false
	}
	return e.Key, true
}

// Lookup returns the full entry for channelID.
func (r *Registry) Lookup(channelID string) (Entry, bool) {
	e, ok := r.entries[channelID]
	return e, ok
}

// Entries returns all rows in insertion order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// EnabledCount is the number of channels being relayed.
func (r *Registry) EnabledCount() int {
	n := 0
	for _, e := range r.entries {
		if e.Enabled {
			n++
		}
	}
	return n
}

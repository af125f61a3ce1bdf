package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// channelFile is the YAML layout of channels.file.
type channelFile struct {
	Channels []ChannelEntry `yaml:"channels"`
}

// LoadChannelFile reads a YAML channel table.
func LoadChannelFile(path string) ([]ChannelEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read channel file %s: %v", path, err)
	}
	var f channelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cannot parse channel file %s: %w", path, err)
	}
	for i := range f.Channels {
		if f.Channels[i].Key == "" && f.Channels[i].Name != "" {
			f.Channels[i].Key = Slug(f.Channels[i].Name)
		}
	}
	return f.Channels, nil
}

// MergeChannels returns base with entries from overlay replacing or
// extending it by id. Order: base order first, then new overlay ids.
func MergeChannels(base, overlay []ChannelEntry) []ChannelEntry {
	out := make([]ChannelEntry, 0, len(base)+len(overlay))
	index := make(map[string]int, len(base))
	for _, e := range base {
		index[e.ID] = len(out)
		out = append(out, e)
	}
	for _, e := range overlay {
		if i, ok := index[e.ID]; ok {
			out[i] = e
			continue
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// Slug turns a channel name into a sink key: "HEAVEN OR HELL" -> "heaven-or-hell".
func Slug(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, "-")
}

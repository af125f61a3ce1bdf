package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetByPath returns the value at a dot path such as "sinks.webhook.url".
// Numeric segments index into lists ("channels.entries.0.name").
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := asTree(cfg)
	if err != nil {
		return nil, err
	}
	return walk(tree, strings.Split(path, "."))
}

// SetByPath replaces the value at path and decodes the result back into cfg.
// Only existing keys can be set; a string value is coerced to the type of the
// value it replaces, and comma-separated for list fields.
func SetByPath(cfg *Config, path string, value string) error {
	tree, err := asTree(cfg)
	if err != nil {
		return err
	}
	keys := strings.Split(path, ".")
	parent, err := walk(tree, keys[:len(keys)-1])
	if err != nil {
		return err
	}
	obj, ok := parent.(map[string]any)
	if !ok {
		return fmt.Errorf("%s is not an object", strings.Join(keys[:len(keys)-1], "."))
	}
	last := keys[len(keys)-1]
	// Keys tagged omitempty are absent while empty; they are checked after
	// decoding instead.
	old, existed := obj[last]
	v, err := coerce(old, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	obj[last] = v

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return err
	}
	if !existed {
		if _, err := GetByPath(&updated, path); err != nil {
			return fmt.Errorf("unknown config key %q", path)
		}
	}
	*cfg = updated
	return nil
}

func asTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func walk(node any, keys []string) (any, error) {
	for i, key := range keys {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", strings.Join(keys[:i+1], "."))
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid list index %q", key)
			}
			node = v[idx]
		default:
			return nil, fmt.Errorf("%s is a %T, not an object", strings.Join(keys[:i], "."), node)
		}
	}
	return node, nil
}

// coerce parses s into the JSON kind of old.
func coerce(old any, s string) (any, error) {
	switch old.(type) {
	case bool:
		return strconv.ParseBool(s)
	case float64:
		return strconv.ParseFloat(s, 64)
	case []any, nil:
		if _, isList := old.([]any); isList || strings.Contains(s, ",") {
			var items []any
			for _, part := range strings.Split(s, ",") {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, part)
				}
			}
			return items, nil
		}
		return s, nil
	case map[string]any:
		return nil, fmt.Errorf("cannot replace an object with a scalar")
	default:
		return s, nil
	}
}

// Sanitize returns a copy of cfg with tokens and secret-bearing URLs masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Discord.Token = maskString(c.Discord.Token)
	c.Sinks.Telegram.Token = maskString(c.Sinks.Telegram.Token)
	// Slack incoming webhook URLs carry their secret in the path.
	c.Sinks.Slack.WebhookURL = maskString(c.Sinks.Slack.WebhookURL)
	return &c
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

package streams

import "time"

// Config is a key-value map of backend-specific settings. Factories read
// the keys they understand and ignore the rest.
type Config map[string]any

// String returns the string at key, or def when unset or not a string.
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer at key, or def when unset.
func (c Config) Int(key string, def int64) int64 {
	switch v := c[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return def
}

// Duration returns the duration at key, or def when unset or unparsable.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

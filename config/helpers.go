package config

import (
	"strconv"
	"strings"
	"time"
)

// Safe type assertion helpers prevent panics when reading raw configuration maps.
// Values decoded from YAML arrive as int, values from JSON as float64; both are accepted.

// ParseBool normalizes a configuration flag. It accepts booleans, the strings
// true/t/1/false/f/0 in any case, and the numbers 0 and 1.
func ParseBool(val any) (bool, bool) {
	switch v := val.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "1":
			return true, true
		case "false", "f", "0":
			return false, true
		}
	case int:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	}
	return false, false
}

// GetString safely extracts a string value from a config map
func GetString(cfg map[string]any, key string, defaultVal string) string {
	if val, ok := cfg[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetInt safely extracts an integer value from a config map
func GetInt(cfg map[string]any, key string, defaultVal int) int {
	if val, ok := cfg[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return defaultVal
}

// GetFloat64 safely extracts a float64 value from a config map
func GetFloat64(cfg map[string]any, key string, defaultVal float64) float64 {
	if val, ok := cfg[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return defaultVal
}

// GetBool safely extracts a normalized boolean value from a config map.
// The second result is false when the key is present but not a recognised flag.
func GetBool(cfg map[string]any, key string, defaultVal bool) (bool, bool) {
	val, ok := cfg[key]
	if !ok {
		return defaultVal, true
	}
	b, ok := ParseBool(val)
	if !ok {
		return defaultVal, false
	}
	return b, true
}

// GetStringSlice safely extracts a string slice from a config map.
// A single comma separated string is split.
func GetStringSlice(cfg map[string]any, key string, defaultVal []string) []string {
	if val, ok := cfg[key]; ok {
		switch v := val.(type) {
		case []string:
			return v
		case string:
			return splitList(v)
		case []any:
			result := make([]string, 0, len(v))
			for _, item := range v {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			if len(result) == len(v) {
				return result
			}
		}
	}
	return defaultVal
}

// GetDuration extracts a duration. Strings use time.ParseDuration syntax,
// bare numbers are seconds.
func GetDuration(cfg map[string]any, key string, defaultVal time.Duration) time.Duration {
	val, ok := cfg[key]
	if !ok {
		return defaultVal
	}
	switch v := val.(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64:
		return seconds(v)
	case int:
		return seconds(float64(v))
	}
	return defaultVal
}

// GetSection safely extracts a nested section from a config map
func GetSection(cfg map[string]any, key string) map[string]any {
	if val, ok := cfg[key]; ok {
		if section, ok := val.(map[string]any); ok {
			return section
		}
	}
	return nil
}

// HasKey checks if a key exists in the config map
func HasKey(cfg map[string]any, key string) bool {
	_, ok := cfg[key]
	return ok
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

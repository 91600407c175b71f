package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		in     any
		want   bool
		wantOK bool
	}{
		{true, true, true},
		{false, false, true},
		{"True", true, true},
		{"FALSE", false, true},
		{"t", true, true},
		{"F", false, true},
		{"1", true, true},
		{"0", false, true},
		{1, true, true},
		{0.0, false, true},
		{"yes", false, false},
		{2, false, false},
		{nil, false, false},
	}

	for _, tt := range tests {
		got, ok := ParseBool(tt.in)
		assert.Equal(t, tt.wantOK, ok, "input %#v", tt.in)
		assert.Equal(t, tt.want, got, "input %#v", tt.in)
	}
}

func TestGetDuration(t *testing.T) {
	cfg := map[string]any{"a": "250ms", "b": 2, "c": 1.5, "d": "bogus"}

	assert.Equal(t, 250*time.Millisecond, GetDuration(cfg, "a", 0))
	assert.Equal(t, 2*time.Second, GetDuration(cfg, "b", 0))
	assert.Equal(t, 1500*time.Millisecond, GetDuration(cfg, "c", 0))
	assert.Equal(t, time.Minute, GetDuration(cfg, "d", time.Minute))
	assert.Equal(t, time.Hour, GetDuration(cfg, "missing", time.Hour))
}

func TestGetStringSlice(t *testing.T) {
	cfg := map[string]any{
		"list":  []any{"a", "b"},
		"csv":   "a, b,,c",
		"mixed": []any{"a", 1},
	}

	assert.Equal(t, []string{"a", "b"}, GetStringSlice(cfg, "list", nil))
	assert.Equal(t, []string{"a", "b", "c"}, GetStringSlice(cfg, "csv", nil))
	assert.Equal(t, []string{"d"}, GetStringSlice(cfg, "mixed", []string{"d"}))
}

func TestGetBool(t *testing.T) {
	cfg := map[string]any{"on": "True", "bad": "sometimes"}

	v, ok := GetBool(cfg, "on", false)
	assert.True(t, v)
	assert.True(t, ok)

	v, ok = GetBool(cfg, "bad", true)
	assert.True(t, v)
	assert.False(t, ok)

	v, ok = GetBool(cfg, "missing", true)
	assert.True(t, v)
	assert.True(t, ok)
}

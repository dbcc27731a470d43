package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		parts  []any
		want   string
	}{
		{"prefix only", "fortune", nil, "fortune"},
		{"strings", "fortune", []any{"daily", "aries"}, "fortune:daily:aries"},
		{"mixed types", "zodiac", []any{"rat", 1984, true}, "zodiac:rat:1984:true"},
		{"empty part", "x", []any{""}, "x:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.prefix, tt.parts...))
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	a := Build("p", "x", 1, 2.5)
	b := Build("p", "x", 1, 2.5)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Build("p", 1, "x", 2.5), "order matters")
}

func TestAPIResponseKey_Canonical(t *testing.T) {
	k1 := APIResponseKey("e", map[string]any{"b": 1, "a": 2})
	k2 := APIResponseKey("e", map[string]any{"a": 2, "b": 1})

	assert.Equal(t, k1, k2)
	assert.Equal(t, "api:e:a=2&b=1", k1)
}

func TestAPIResponseKey_DistinguishesValues(t *testing.T) {
	assert.NotEqual(t,
		APIResponseKey("fortune", map[string]any{"sign": "aries"}),
		APIResponseKey("fortune", map[string]any{"sign": "leo"}),
	)
	assert.NotEqual(t,
		APIResponseKey("fortune", map[string]any{"sign": "aries"}),
		APIResponseKey("zodiac", map[string]any{"sign": "aries"}),
	)
	assert.Equal(t, "api:empty:", APIResponseKey("empty", nil))
}

func TestAPIResponseKey_EscapesSeparators(t *testing.T) {
	smuggled := APIResponseKey("e", map[string]any{"a": "1&b=2"})
	split := APIResponseKey("e", map[string]any{"a": "1", "b": "2"})

	assert.NotEqual(t, smuggled, split)
	assert.Equal(t, "api:e:a=1%26b%3D2", smuggled)
	assert.Equal(t, "api:e:a=1&b=2", split)
	assert.NotEqual(t,
		APIResponseKey("e", map[string]any{"a=1": "x"}),
		APIResponseKey("e", map[string]any{"a": "1=x"}),
	)
}

func TestStringParams(t *testing.T) {
	params := StringParams(map[string]string{"sign": "leo", "date": "2024-01-01"})
	assert.Equal(t, "api:daily:date=2024-01-01&sign=leo", APIResponseKey("daily", params))
}

func TestUserScopedKey(t *testing.T) {
	assert.Equal(t, "user:u-1:history:3", UserScopedKey("u-1", "history", 3))
	assert.Equal(t, "user:u-1", UserScopedKey("u-1"))
}

func TestTemporaryKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := TemporaryKey("upload", "session")
		assert.True(t, strings.HasPrefix(k, "temp:upload:session:"), k)
		assert.False(t, seen[k], "duplicate temporary key %s", k)
		seen[k] = true
	}
}

func TestTemporaryKey_DoesNotMutateArgs(t *testing.T) {
	parts := make([]any, 1, 4)
	parts[0] = "a"
	k1 := TemporaryKey(parts...)
	k2 := TemporaryKey(parts...)
	assert.NotEqual(t, k1, k2)
	assert.Len(t, parts, 1)
}

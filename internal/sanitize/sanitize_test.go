package sanitize

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// injectSeparators adds a comma before every closing delimiter outside strings.
func injectSeparators(s string) string {
	var out []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		} else if c == '"' {
			inString = true
		} else if c == ']' || c == '}' {
			out = append(out, ',', ' ')
		}
		out = append(out, c)
	}
	return string(out)
}

func TestDecodeRoundTrip(t *testing.T) {
	values := []any{
		map[string]any{"items": []any{}},
		map[string]any{
			"items": []any{
				map[string]any{"name": "rice, white", "alternatives": []any{"risotto]"}, "confidence": "high"},
				map[string]any{"name": "beans {black}", "alternatives": []any{}, "confidence": "low"},
			},
			"visual_notes": []any{"comma before bracket ,]", "quote \" inside"},
		},
		[]any{1.0, 2.5, map[string]any{"nested": []any{[]any{}}}},
		map[string]any{
			"visual_notes": []any{"plate rim shows ``` marks", "```json"},
			"items":        []any{},
		},
	}

	wrappers := map[string]func(string) string{
		"bare":           func(s string) string { return s },
		"fence":          func(s string) string { return "```\n" + s + "\n```" },
		"fence with tag": func(s string) string { return "```json\n" + s + "\n```" },
		"inline tag":     func(s string) string { return "```json" + s + "```" },
		"prose around":   func(s string) string { return "Here it is:\n```json\n" + s + "\n```\nEnjoy." },
	}

	for i, v := range values {
		original, err := json.Marshal(v)
		require.NoError(t, err)

		for name, wrap := range wrappers {
			for _, broken := range []string{string(original), injectSeparators(string(original))} {
				var got any
				require.NoError(t, Decode(wrap(broken), &got), "value %d, %s: %s", i, name, broken)
				assert.Equal(t, v, got, "value %d, %s", i, name)
			}
		}
	}
}

func TestCleanRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "empty fence", raw: "```json\n```"},
		{name: "prose", raw: "I could not identify any food."},
		{name: "truncated", raw: `{"items": [{"name": "rice"`},
		{name: "double comma", raw: `{"a": [1,,]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Clean(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))

			var malformed *MalformedError
			assert.True(t, errors.As(err, &malformed))
		})
	}
}

func TestCleanIgnoresFenceMarkersInStrings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "bare", raw: "{\"note\": \"```\", \"items\": [],}"},
		{name: "fenced", raw: "```json\n{\"note\": \"```\", \"items\": [],}\n```"},
		{name: "prose before fence", raw: "Result:\n```\n{\"note\": \"```\", \"items\": []}\n```"},
		{name: "unclosed fence", raw: "```json\n{\"note\": \"a\", \"items\": []}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Clean(tt.raw)
			require.NoError(t, err)
			assert.Contains(t, string(got), `"items":[]`)
		})
	}
}

func TestCleanKeepsCommasInStrings(t *testing.T) {
	got, err := Clean(`{"note": "a, ]", "list": ["x", ],}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"note": "a, ]", "list": ["x"]}`, string(got))
}

func TestDecodeShapeMismatch(t *testing.T) {
	var target struct {
		Items []string `json:"items"`
	}
	err := Decode(`{"items": "rice"}`, &target)
	assert.ErrorIs(t, err, ErrMalformed)
}

// Package sanitize turns raw model output into parseable JSON.
//
// Models wrap JSON in markdown fences, sometimes with a line of prose around
// the fence, and leave trailing commas. Clean unwraps one fence and drops
// separators that directly precede a closing bracket or brace. Nothing else is rewritten: missing fields and invalid values are left
// for the caller's schema checks.
package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const fence = "```"

// ErrMalformed is matched by every error returned from this package.
var ErrMalformed = errors.New("malformed response")

// MalformedError describes why a response could not be parsed.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return "malformed response: " + e.Reason
}

func (e *MalformedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

// Clean returns the JSON document contained in raw, compacted.
func Clean(raw string) ([]byte, error) {
	body := strings.TrimSpace(unfence(raw))
	if body == "" {
		return nil, &MalformedError{Reason: "empty body"}
	}

	repaired := dropTrailingSeparators(body)

	var out bytes.Buffer
	if err := json.Compact(&out, repaired); err != nil {
		return nil, &MalformedError{Reason: "invalid json", Err: err}
	}
	return out.Bytes(), nil
}

// Decode cleans raw and unmarshals it into v.
func Decode(raw string, v any) error {
	data, err := Clean(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &MalformedError{Reason: "unexpected shape", Err: err}
	}
	return nil
}

// unfence returns the content of the fenced block in raw, or raw unchanged
// when there is none. Only a fence that opens the body or a line counts as an
// opening fence; JSON strings cannot hold raw newlines, so backticks inside a
// value never match. The closing fence is the last one in the input, and an
// unclosed fence runs to the end. A language tag on the opening fence is skipped.
func unfence(raw string) string {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		return body
	}

	start := -1
	if strings.HasPrefix(body, fence) {
		start = 0
	} else if i := strings.Index(body, "\n"+fence); i >= 0 {
		start = i + 1
	}
	if start < 0 {
		return raw
	}
	rest := body[start+len(fence):]

	// language tag: everything up to the first newline, if it is a bare word
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && isTag(rest[:nl]) {
		rest = rest[nl+1:]
	} else if isTag(rest) {
		rest = ""
	} else if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
		rest = rest[4:]
	}

	if end := strings.LastIndex(rest, fence); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func isTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// dropTrailingSeparators removes a comma whose next non-space byte is ']' or '}'.
// Commas inside string literals are kept.
func dropTrailingSeparators(s string) []byte {
	out := make([]byte, 0, len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			if closesNext(s, i+1) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func closesNext(s string, from int) bool {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case ']', '}':
			return true
		default:
			return false
		}
	}
	return false
}

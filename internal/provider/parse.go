package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// rawEnvelope is the wire shape the actor is asked to emit.
type rawEnvelope struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

// ParseAction decodes an actor response into a RawAction. Model output
// is messy: code fences, prose around the JSON, trailing commentary.
// The salvage path strips fences and then extracts the first balanced
// object before giving up.
func ParseAction(raw string) (RawAction, error) {
	text := stripFences(raw)

	var env rawEnvelope
	if err := json.Unmarshal([]byte(text), &env); err == nil && env.Tool != "" {
		return RawAction{Name: env.Tool, Args: nonNilArgs(env.Args)}, nil
	}

	obj, ok := firstObject(text)
	if ok {
		if err := json.Unmarshal([]byte(obj), &env); err == nil && env.Tool != "" {
			return RawAction{Name: env.Tool, Args: nonNilArgs(env.Args)}, nil
		}
	}

	return RawAction{}, domain.WrapEngineError(
		domain.ErrUnparseableResponse.Code,
		"actor response could not be parsed",
		fmt.Errorf("no tool call in %d bytes", len(raw)),
	)
}

func nonNilArgs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// firstObject extracts the first balanced top-level JSON object,
// tracking string and escape state so braces inside values do not
// unbalance the scan.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inStr {
				escaped = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				depth++
			}
		case '}':
			if !inStr {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

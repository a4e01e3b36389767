// Package articulation recovers structured JSON from free-form model output.
//
// Model responses usually carry one JSON payload, but it may be fenced in a
// markdown code block, surrounded by prose, or followed by commentary that
// itself contains braces. ExtractJSON applies the recovery steps in a fixed
// order and, when nothing parses, returns the untouched response inside a
// *JSONRecoveryError so the caller can persist it.
package articulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const fence = "```"

// JSONRecoveryError carries the original response that could not be parsed.
type JSONRecoveryError struct {
	Raw string
	Err error
}

func (e *JSONRecoveryError) Error() string {
	return fmt.Sprintf("could not recover JSON from response (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *JSONRecoveryError) Unwrap() error { return e.Err }

// ExtractJSON recovers a JSON value from raw model text:
//
//  1. strip one pair of ``` fences, with an optional language tag
//  2. if the result does not start with { or [, slice from the first { to the last }
//  3. parse
//  4. on failure, try each balanced candidate from the scanner, last first
func ExtractJSON(raw string) (any, error) {
	body := StripFences(raw)

	sliced := body
	if !strings.HasPrefix(sliced, "{") && !strings.HasPrefix(sliced, "[") {
		first := strings.Index(sliced, "{")
		last := strings.LastIndex(sliced, "}")
		if first >= 0 && last > first {
			sliced = sliced[first : last+1]
		}
	}

	v, firstErr := parse(sliced)
	if firstErr == nil {
		return v, nil
	}
	if sliced != body {
		if v, err := parse(body); err == nil {
			return v, nil
		}
	}

	candidates := findJSONCandidates(body)
	for i := len(candidates) - 1; i >= 0; i-- {
		if v, err := parse(candidates[i]); err == nil {
			return v, nil
		}
	}
	return nil, &JSONRecoveryError{Raw: raw, Err: firstErr}
}

// ExtractObject is ExtractJSON restricted to a top-level object.
func ExtractObject(raw string) (map[string]any, error) {
	v, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &JSONRecoveryError{Raw: raw, Err: fmt.Errorf("top-level value is %T, want object", v)}
	}
	return obj, nil
}

// ExtractInto recovers an object and decodes it into dst.
func ExtractInto(raw string, dst any) error {
	obj, err := ExtractObject(raw)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return &JSONRecoveryError{Raw: raw, Err: err}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &JSONRecoveryError{Raw: raw, Err: err}
	}
	return nil
}

// StripFences returns the body of the first fenced code block in s, without
// the language tag. Text with no fence is returned trimmed. An unterminated
// fence (a truncated response) keeps everything after the opening line.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	open := strings.Index(s, fence)
	if open < 0 {
		return s
	}
	rest := s[open+len(fence):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		// Single-line fence: ```json{"a":1}```
		if trimmed := strings.TrimLeft(rest, "abcdefghijklmnopqrstuvwxyz"); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			rest = trimmed
		}
	} else if tag := strings.TrimSpace(rest[:nl]); !strings.ContainsAny(tag, "{[") {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, fence); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func parse(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty response")
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

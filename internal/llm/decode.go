package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
)

var errNoJSON = errors.New("no JSON value in response")

// DecodeJSON extracts a JSON object or array from model output and
// unmarshals it into v. Models often wrap JSON in markdown code fences or
// add conversational filler around it, so the parser:
//  1. Strips markdown code fences if present (```json ... ```)
//  2. Takes the span from the first { or [ to the matching last } or ]
//  3. Unmarshals that span
//
// Any failure is returned as *apperr.ParseError carrying the raw text.
func DecodeJSON(raw string, v any) error {
	s := extractJSON(raw)
	if s == "" {
		return &apperr.ParseError{Raw: raw, Err: errNoJSON}
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return &apperr.ParseError{Raw: raw, Err: err}
	}
	return nil
}

func extractJSON(resp string) string {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	obj := strings.Index(s, "{")
	arr := strings.Index(s, "[")
	open, closer := obj, "}"
	if arr != -1 && (obj == -1 || arr < obj) {
		open, closer = arr, "]"
	}
	if open == -1 {
		return ""
	}
	end := strings.LastIndex(s, closer)
	if end <= open {
		return ""
	}
	return s[open : end+1]
}

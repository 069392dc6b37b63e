// Package structuring turns a raw transcript into the mode-specific
// structure document via the language model.
package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fifthdraft/fifthdraft/internal/llm"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/prompt"
)

const fallbackTitleLen = 60

// Structurer builds structure documents for notes.
type Structurer struct {
	gen llm.Generator
}

// New creates a Structurer backed by gen.
func New(gen llm.Generator) *Structurer {
	return &Structurer{gen: gen}
}

// Structure asks the model to structure transcript according to mode and
// returns the encoded document. Provider failures are returned; malformed
// model output is replaced by a fallback document built from the transcript.
func (s *Structurer) Structure(ctx context.Context, transcript string, mode note.Mode) (json.RawMessage, error) {
	var p string
	switch mode {
	case note.ModeBrainstorming:
		p = prompt.Brainstorm(transcript)
	default:
		p = prompt.Meeting(transcript, string(mode))
	}

	raw, err := s.gen.Generate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("structuring %s note: %w", mode, err)
	}

	var doc any
	switch mode {
	case note.ModeBrainstorming:
		doc = ParseBrainstorm(raw, transcript)
	default:
		doc = ParseMeeting(raw, transcript)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding structure: %w", err)
	}
	return out, nil
}

// ParseBrainstorm decodes model output into a brainstorm document. On
// failure it returns a single core idea built from the transcript.
func ParseBrainstorm(raw, transcript string) note.BrainstormStructure {
	var s note.BrainstormStructure
	if err := llm.DecodeJSON(raw, &s); err != nil || len(s.CoreIdeas) == 0 {
		slog.Warn("structuring: brainstorm output unusable, using fallback", "error", err)
		return fallbackBrainstorm(transcript)
	}
	for i := range s.NextSteps {
		s.NextSteps[i].Priority = normalizePriority(s.NextSteps[i].Priority)
	}
	return s
}

// ParseMeeting decodes model output into a meeting document. On failure it
// returns a summary built from the transcript.
func ParseMeeting(raw, transcript string) note.MeetingStructure {
	var s note.MeetingStructure
	if err := llm.DecodeJSON(raw, &s); err != nil {
		slog.Warn("structuring: meeting output unusable, using fallback", "error", err)
		return note.MeetingStructure{Summary: firstSentence(transcript)}
	}
	for i := range s.ActionItems {
		s.ActionItems[i].Priority = normalizePriority(s.ActionItems[i].Priority)
	}
	return s
}

func fallbackBrainstorm(transcript string) note.BrainstormStructure {
	first := firstSentence(transcript)
	if first == "" {
		return note.BrainstormStructure{}
	}
	return note.BrainstormStructure{
		CoreIdeas: []note.CoreIdea{{
			Title:       truncate(first, fallbackTitleLen),
			Description: first,
		}},
	}
}

func normalizePriority(p note.Priority) note.Priority {
	switch note.Priority(strings.ToLower(string(p))) {
	case note.PriorityHigh:
		return note.PriorityHigh
	case note.PriorityLow:
		return note.PriorityLow
	default:
		return note.PriorityMedium
	}
}

// firstSentence returns the transcript up to and including the first
// sentence terminator, with whitespace collapsed.
func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.IndexAny(s, ".!?"); i != -1 {
		return s[:i+1]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}

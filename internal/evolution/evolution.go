// Package evolution finds how a brainstorm relates to the user's earlier
// brainstorms: similar notes, a chronological timeline, and merge
// candidates.
package evolution

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
	"github.com/fifthdraft/fifthdraft/internal/note"
)

const (
	DefaultThreshold = 0.7
	DefaultLimit     = 5

	// MergeThreshold is the similarity at which two notes are proposed for
	// merging.
	MergeThreshold = 0.85
)

// Candidate is a note reduced to the fields the matcher needs.
type Candidate struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Embedding []float32
	CoreIdeas []string
}

// FromNote builds a Candidate from a stored note. Core ideas are read from
// the brainstorm structure when present.
func FromNote(n *note.Note) Candidate {
	c := Candidate{ID: n.ID, Title: n.Title, CreatedAt: n.CreatedAt, Embedding: n.Embedding}
	if s, err := n.Brainstorm(); err == nil {
		c.CoreIdeas = s.CoreIdeaTitles()
	}
	return c
}

// Options control FindRelated. A nil Threshold selects DefaultThreshold and
// a non-positive Limit selects DefaultLimit. A threshold of 0 is honoured.
type Options struct {
	Threshold *float64
	Limit     int
}

// Threshold returns a pointer suitable for Options.Threshold.
func Threshold(v float64) *float64 {
	return &v
}

// MinScore is the effective similarity threshold.
func (o Options) MinScore() float64 {
	if o.Threshold == nil {
		return DefaultThreshold
	}
	return *o.Threshold
}

func (o Options) withDefaults() Options {
	if o.Threshold == nil {
		o.Threshold = Threshold(DefaultThreshold)
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// FindRelated scores every candidate in pool against current and returns
// those at or above the threshold, most similar first, capped at the
// limit. Scores below zero count as zero. Candidates without an embedding, with a different dimension, or
// with current's ID are skipped.
func FindRelated(current Candidate, pool []Candidate, opts Options) ([]note.RelatedNote, error) {
	if len(current.Embedding) == 0 {
		return nil, &apperr.PreconditionError{Op: "related notes", Missing: "embedding"}
	}
	opts = opts.withDefaults()
	minScore := opts.MinScore()

	currentNorm := norm(current.Embedding)
	related := make([]note.RelatedNote, 0, len(pool))
	for _, c := range pool {
		if c.ID == current.ID || len(c.Embedding) == 0 {
			continue
		}
		score, ok := cosine(current.Embedding, c.Embedding, currentNorm)
		if !ok {
			continue
		}
		score = max(score, 0)
		if score < minScore {
			continue
		}
		related = append(related, note.RelatedNote{
			ID:              c.ID,
			Title:           c.Title,
			CreatedAt:       c.CreatedAt,
			SimilarityScore: score,
			CoreIdeas:       nonNil(c.CoreIdeas),
		})
	}

	sortByScore(related)
	if len(related) > opts.Limit {
		related = related[:opts.Limit]
	}
	return related, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. ok is
// false when the lengths differ or either vector is empty or zero.
func CosineSimilarity(a, b []float32) (float64, bool) {
	return cosine(a, b, norm(a))
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * bNorm). aNorm is the precomputed L2
// norm of a.
func cosine(a, b []float32, aNorm float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) || aNorm == 0 {
		return 0, false
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0, false
	}
	return dot / (aNorm * math.Sqrt(bNormSq)), true
}

// sortByScore orders by similarity descending, then ID for stability.
func sortByScore(r []note.RelatedNote) {
	sort.SliceStable(r, func(i, j int) bool {
		if r[i].SimilarityScore != r[j].SimilarityScore {
			return r[i].SimilarityScore > r[j].SimilarityScore
		}
		return r[i].ID < r[j].ID
	})
}

// TimelineEntry is one step in the evolution of an idea.
type TimelineEntry struct {
	note.RelatedNote
	Current           bool   `json:"current"`
	Label             string `json:"label"`
	DaysSincePrevious int    `json:"days_since_previous"`
}

// Timeline orders the current note and its related notes chronologically.
// The current note is included with similarity 1.0. Every input yields
// exactly one entry; ties on CreatedAt are broken by ID.
func Timeline(current Candidate, related []note.RelatedNote) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(related)+1)
	entries = append(entries, TimelineEntry{
		RelatedNote: note.RelatedNote{
			ID:              current.ID,
			Title:           current.Title,
			CreatedAt:       current.CreatedAt,
			SimilarityScore: 1.0,
			CoreIdeas:       nonNil(current.CoreIdeas),
		},
		Current: true,
	})
	for _, r := range related {
		entries = append(entries, TimelineEntry{RelatedNote: r})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})

	for i := range entries {
		e := &entries[i]
		pct := e.SimilarityScore * 100
		switch {
		case e.Current:
			e.Label = "This note"
		case e.CreatedAt.After(current.CreatedAt):
			e.Label = fmt.Sprintf("Later iteration (%.0f%% similar)", pct)
		case i == 0:
			e.Label = fmt.Sprintf("Where it started (%.0f%% similar)", pct)
		default:
			e.Label = fmt.Sprintf("Earlier iteration (%.0f%% similar)", pct)
		}
		if i > 0 {
			e.DaysSincePrevious = int(e.CreatedAt.Sub(entries[i-1].CreatedAt).Hours() / 24)
		}
	}
	return entries
}

// MergeSuggestion proposes folding a related note into the current one.
type MergeSuggestion struct {
	SourceID        string   `json:"source_id"`
	SourceTitle     string   `json:"source_title"`
	TargetID        string   `json:"target_id"`
	TargetTitle     string   `json:"target_title"`
	SimilarityScore float64  `json:"similarity_score"`
	SharedIdeas     []string `json:"shared_ideas"`
	Reason          string   `json:"reason"`
}

// MergeSuggestions pairs the current note with each related note whose
// similarity reaches MergeThreshold. Shared core idea titles are matched
// case-insensitively. Output is ordered by similarity descending, then
// related note ID, and never pairs a note with itself.
func MergeSuggestions(current Candidate, related []note.RelatedNote) []MergeSuggestion {
	currentIdeas := make(map[string]struct{}, len(current.CoreIdeas))
	for _, ci := range current.CoreIdeas {
		currentIdeas[normalizeIdea(ci)] = struct{}{}
	}

	ranked := make([]note.RelatedNote, len(related))
	copy(ranked, related)
	sortByScore(ranked)

	out := []MergeSuggestion{}
	seen := make(map[string]struct{}, len(ranked))
	for _, r := range ranked {
		if r.ID == current.ID || r.SimilarityScore < MergeThreshold {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}

		shared := []string{}
		for _, ci := range r.CoreIdeas {
			if _, ok := currentIdeas[normalizeIdea(ci)]; ok {
				shared = append(shared, ci)
			}
		}

		reason := fmt.Sprintf("%.0f%% similar", r.SimilarityScore*100)
		if len(shared) > 0 {
			reason += fmt.Sprintf(", %d shared core idea(s)", len(shared))
		}
		out = append(out, MergeSuggestion{
			SourceID:        r.ID,
			SourceTitle:     r.Title,
			TargetID:        current.ID,
			TargetTitle:     current.Title,
			SimilarityScore: r.SimilarityScore,
			SharedIdeas:     shared,
			Reason:          reason,
		})
	}
	return out
}

func normalizeIdea(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Package note defines the note record and the mode-specific structure
// documents produced by the enrichment components.
package note

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Mode selects how a transcript is structured.
type Mode string

const (
	ModeMeeting       Mode = "meeting"
	ModeBrainstorming Mode = "brainstorming"
)

// ParseMode validates a mode string. Empty defaults to meeting.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMeeting:
		return ModeMeeting, nil
	case ModeBrainstorming:
		return ModeBrainstorming, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// ErrNoStructure is returned when a note has not been structured yet.
var ErrNoStructure = errors.New("note has no structure")

// Note is a persisted transcript plus its derived data. Owned by exactly
// one user.
type Note struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Title        string          `json:"title"`
	Content      string          `json:"content"`
	Mode         Mode            `json:"mode"`
	Structure    json.RawMessage `json:"structure,omitempty"`
	Embedding    []float32       `json:"-"`
	ProjectBrief string          `json:"project_brief,omitempty"`
	ResearchData *ResearchOutput `json:"research_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// HasEmbedding reports whether the note carries a usable embedding.
func (n *Note) HasEmbedding() bool {
	return len(n.Embedding) > 0
}

// Brainstorm decodes the note's structure as a brainstorming document.
func (n *Note) Brainstorm() (BrainstormStructure, error) {
	var s BrainstormStructure
	if len(n.Structure) == 0 {
		return s, ErrNoStructure
	}
	if err := json.Unmarshal(n.Structure, &s); err != nil {
		return s, fmt.Errorf("decoding brainstorm structure for %s: %w", n.ID, err)
	}
	return s, nil
}

// Meeting decodes the note's structure as a meeting document.
func (n *Note) Meeting() (MeetingStructure, error) {
	var s MeetingStructure
	if len(n.Structure) == 0 {
		return s, ErrNoStructure
	}
	if err := json.Unmarshal(n.Structure, &s); err != nil {
		return s, fmt.Errorf("decoding meeting structure for %s: %w", n.ID, err)
	}
	return s, nil
}

// BrainstormStructure is the Idea Studio document.
type BrainstormStructure struct {
	CoreIdeas              []CoreIdea             `json:"coreIdeas"`
	ExpansionOpportunities []ExpansionOpportunity `json:"expansionOpportunities"`
	ResearchQuestions      []string               `json:"researchQuestions"`
	NextSteps              []NextStep             `json:"nextSteps"`
	Obstacles              []string               `json:"obstacles"`
	CreativePrompts        []string               `json:"creativePrompts"`
}

// CoreIdeaTitles returns the titles of all core ideas in order.
func (s BrainstormStructure) CoreIdeaTitles() []string {
	titles := make([]string, 0, len(s.CoreIdeas))
	for _, ci := range s.CoreIdeas {
		titles = append(titles, ci.Title)
	}
	return titles
}

// CoreIdea is one idea in a brainstorm. Connections name other ideas by
// title; they are matched by text, not by identifier.
type CoreIdea struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Connections []string `json:"connections"`
}

// ExpansionOpportunity lists directions for the idea whose title loosely
// matches IdeaTitle.
type ExpansionOpportunity struct {
	IdeaTitle  string   `json:"ideaTitle"`
	Directions []string `json:"directions"`
}

// Priority of a next step.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// NextStep is an actionable follow-up. DueDate is an ISO date or nil.
type NextStep struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DueDate     *string  `json:"dueDate"`
	Priority    Priority `json:"priority"`
}

// MeetingStructure is the meeting-notes document.
type MeetingStructure struct {
	Summary     string       `json:"summary"`
	KeyPoints   []string     `json:"keyPoints"`
	Decisions   []string     `json:"decisions"`
	ActionItems []ActionItem `json:"actionItems"`
	Topics      []string     `json:"topics"`
}

// ActionItem is a task assigned during a meeting.
type ActionItem struct {
	Task     string   `json:"task"`
	Owner    string   `json:"owner"`
	DueDate  *string  `json:"dueDate"`
	Priority Priority `json:"priority"`
}

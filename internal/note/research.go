package note

import "time"

// ResearchFinding is the answer and sources gathered for one query.
type ResearchFinding struct {
	Query        string    `json:"query"`
	Answer       string    `json:"answer"`
	Sources      []Source  `json:"sources"`
	ResearchedAt time.Time `json:"researched_at"`
}

// Source is one cited search result.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ResearchOutput is the result of a research run.
type ResearchOutput struct {
	Findings    []ResearchFinding `json:"findings"`
	Summary     string            `json:"summary"`
	KeyInsights []string          `json:"keyInsights"`
}

// RelatedNote is a past note whose embedding is close to the current one.
type RelatedNote struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	SimilarityScore float64   `json:"similarity_score"`
	CoreIdeas       []string  `json:"core_ideas"`
}

// Package research runs the identify, search and synthesize pipeline that
// enriches a note with web findings.
package research

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fifthdraft/fifthdraft/internal/llm"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/prompt"
	"github.com/fifthdraft/fifthdraft/internal/search"
)

const (
	// MaxQueries is both the default and the upper bound on searches per run.
	MaxQueries = 5

	resultsPerQuery   = 3
	searchConcurrency = 3
	fallbackInsights  = 5
	fallbackSummary   = "Research completed across multiple queries. Review the findings below for details."
)

// Searcher runs a single web search.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Assistant researches notes. Run never fails: every stage degrades to a
// fallback instead.
type Assistant struct {
	gen        llm.Generator
	search     Searcher
	maxQueries int
	now        func() time.Time
}

// New creates an Assistant. maxQueries outside [1, MaxQueries] uses
// MaxQueries.
func New(gen llm.Generator, s Searcher, maxQueries int) *Assistant {
	if maxQueries <= 0 || maxQueries > MaxQueries {
		maxQueries = MaxQueries
	}
	return &Assistant{gen: gen, search: s, maxQueries: maxQueries, now: time.Now}
}

// Run researches content. questions are the note's open research questions;
// they seed query generation and stand in for it when the model fails.
func (a *Assistant) Run(ctx context.Context, content string, questions []string) note.ResearchOutput {
	queries := a.identify(ctx, content, questions)
	findings := a.gather(ctx, queries)
	summary, insights := a.synthesize(ctx, content, findings)
	return note.ResearchOutput{
		Findings:    findings,
		Summary:     summary,
		KeyInsights: insights,
	}
}

func (a *Assistant) identify(ctx context.Context, content string, questions []string) []string {
	var out []string
	raw, err := a.gen.Generate(ctx, prompt.ResearchQueries(content, questions))
	if err == nil {
		err = llm.DecodeJSON(raw, &out)
	}
	queries := nonEmpty(out)
	if err != nil || len(queries) == 0 {
		slog.Warn("research: query generation failed, using research questions", "error", err)
		queries = nonEmpty(questions)
	}
	if len(queries) > a.maxQueries {
		queries = queries[:a.maxQueries]
	}
	return queries
}

// gather searches every query concurrently. Failed queries are logged and
// dropped; the remaining findings keep query order.
func (a *Assistant) gather(ctx context.Context, queries []string) []note.ResearchFinding {
	slots := make([]*note.ResearchFinding, len(queries))
	opts := search.Options{SearchDepth: search.DepthBasic, MaxResults: resultsPerQuery}

	var g errgroup.Group
	g.SetLimit(searchConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := a.search.Search(ctx, q, opts)
			if err != nil {
				slog.Warn("research: search failed", "query", q, "error", err)
				return nil
			}
			slots[i] = toFinding(q, resp, a.now())
			return nil
		})
	}
	_ = g.Wait()

	findings := make([]note.ResearchFinding, 0, len(queries))
	for _, f := range slots {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

func toFinding(query string, resp *search.Response, at time.Time) *note.ResearchFinding {
	f := &note.ResearchFinding{
		Query:        query,
		Answer:       resp.Answer,
		Sources:      make([]note.Source, 0, len(resp.Results)),
		ResearchedAt: at,
	}
	for _, r := range resp.Results {
		f.Sources = append(f.Sources, note.Source{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return f
}

func (a *Assistant) synthesize(ctx context.Context, content string, findings []note.ResearchFinding) (string, []string) {
	var out struct {
		Summary     string   `json:"summary"`
		KeyInsights []string `json:"keyInsights"`
	}
	raw, err := a.gen.Generate(ctx, prompt.ResearchSynthesis(content, findings))
	if err == nil {
		err = llm.DecodeJSON(raw, &out)
	}
	if err != nil {
		slog.Warn("research: synthesis failed, using raw answers", "error", err)
		return fallbackSummary, rawAnswers(findings)
	}
	if out.KeyInsights == nil {
		out.KeyInsights = []string{}
	}
	return out.Summary, out.KeyInsights
}

func rawAnswers(findings []note.ResearchFinding) []string {
	insights := []string{}
	for _, f := range findings {
		if f.Answer == "" {
			continue
		}
		insights = append(insights, f.Answer)
		if len(insights) == fallbackInsights {
			break
		}
	}
	return insights
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

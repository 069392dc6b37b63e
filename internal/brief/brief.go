// Package brief turns a brainstorm into a project brief.
package brief

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fifthdraft/fifthdraft/internal/llm"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/prompt"
)

// Brief is a one-page project summary.
type Brief struct {
	Title      string   `json:"title"`
	Overview   string   `json:"overview"`
	Goals      []string `json:"goals"`
	Scope      []string `json:"scope"`
	Risks      []string `json:"risks"`
	Milestones []string `json:"milestones"`
}

// Generator writes briefs with the language model.
type Generator struct {
	gen llm.Generator
}

// New creates a Generator backed by gen.
func New(gen llm.Generator) *Generator {
	return &Generator{gen: gen}
}

// Generate produces a brief for the brainstorm. Provider failures are
// returned; unusable model output yields a brief assembled from s.
func (g *Generator) Generate(ctx context.Context, title string, s note.BrainstormStructure) (Brief, error) {
	raw, err := g.gen.Generate(ctx, prompt.ProjectBrief(title, s))
	if err != nil {
		return Brief{}, fmt.Errorf("generating project brief: %w", err)
	}

	var b Brief
	if err := llm.DecodeJSON(raw, &b); err != nil || b.Overview == "" {
		slog.Warn("brief: model output unusable, using fallback", "error", err)
		return Fallback(title, s), nil
	}
	if b.Title == "" {
		b.Title = title
	}
	return b, nil
}

// Fallback assembles a brief directly from the brainstorm.
func Fallback(title string, s note.BrainstormStructure) Brief {
	b := Brief{Title: title}

	var overview []string
	for _, ci := range s.CoreIdeas {
		b.Goals = append(b.Goals, ci.Title)
		if ci.Description != "" {
			overview = append(overview, ci.Description)
		}
	}
	b.Overview = strings.Join(overview, " ")
	if b.Overview == "" {
		b.Overview = "Project brief for " + title + "."
	}
	for _, ns := range s.NextSteps {
		m := ns.Title
		if ns.DueDate != nil && *ns.DueDate != "" {
			m += " (by " + *ns.DueDate + ")"
		}
		b.Milestones = append(b.Milestones, m)
	}
	b.Risks = append(b.Risks, s.Obstacles...)
	for _, e := range s.ExpansionOpportunities {
		b.Scope = append(b.Scope, e.Directions...)
	}
	return b
}

// Markdown renders the brief. Empty sections are omitted.
func (b Brief) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", b.Title)
	if b.Overview != "" {
		fmt.Fprintf(&sb, "## Overview\n\n%s\n", b.Overview)
	}
	writeSection(&sb, "Goals", b.Goals)
	writeSection(&sb, "Scope", b.Scope)
	writeSection(&sb, "Risks", b.Risks)
	writeSection(&sb, "Milestones", b.Milestones)
	return sb.String()
}

func writeSection(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
	"github.com/fifthdraft/fifthdraft/internal/brief"
	"github.com/fifthdraft/fifthdraft/internal/embedding"
	"github.com/fifthdraft/fifthdraft/internal/evolution"
	"github.com/fifthdraft/fifthdraft/internal/mindmap"
	"github.com/fifthdraft/fifthdraft/internal/note"
)

// Structurer produces a structure document for a transcript.
type Structurer interface {
	Structure(ctx context.Context, transcript string, mode note.Mode) (json.RawMessage, error)
}

// Researcher enriches note content with web research.
type Researcher interface {
	Run(ctx context.Context, content string, questions []string) note.ResearchOutput
}

// BriefGenerator writes a project brief from a brainstorm.
type BriefGenerator interface {
	Generate(ctx context.Context, title string, s note.BrainstormStructure) (brief.Brief, error)
}

// StructureNote (re)structures the note according to its mode and stores
// the result.
func (s *Service) StructureNote(ctx context.Context, userID, id string) (*note.Note, error) {
	if s.structurer == nil {
		return nil, &apperr.ConfigError{Service: "anthropic", Key: "anthropic.api_key"}
	}
	n, err := s.store.GetNote(id, userID)
	if err != nil {
		return nil, err
	}
	structure, err := s.structurer.Structure(ctx, n.Content, n.Mode)
	if err != nil {
		return n, err
	}
	if err := s.store.UpdateNoteStructure(n.ID, userID, structure); err != nil {
		return n, err
	}
	n.Structure = structure
	slog.Info("note structured", "note_id", n.ID, "mode", n.Mode)
	return n, nil
}

// ResearchNote runs the research assistant over the note and stores the
// output. A brainstorm's research questions seed the queries.
func (s *Service) ResearchNote(ctx context.Context, userID, id string) (note.ResearchOutput, error) {
	if s.researcher == nil {
		return note.ResearchOutput{}, &apperr.ConfigError{Service: "tavily", Key: "tavily.api_key"}
	}
	n, err := s.store.GetNote(id, userID)
	if err != nil {
		return note.ResearchOutput{}, err
	}

	var questions []string
	if n.Mode == note.ModeBrainstorming {
		if bs, err := n.Brainstorm(); err == nil {
			questions = bs.ResearchQuestions
		}
	}

	out := s.researcher.Run(ctx, n.Content, questions)
	if err := s.store.UpdateResearchData(n.ID, userID, &out); err != nil {
		return out, err
	}
	slog.Info("note researched", "note_id", n.ID, "findings", len(out.Findings))
	return out, nil
}

// Mindmap renders a brainstorm's structure as a Mermaid diagram.
func (s *Service) Mindmap(userID, id string, format mindmap.Format) (mindmap.Diagram, error) {
	n, err := s.store.GetNote(id, userID)
	if err != nil {
		return mindmap.Diagram{}, err
	}
	bs, err := brainstorm(n, "mind map")
	if err != nil {
		return mindmap.Diagram{}, err
	}
	return mindmap.Generate(format, n.Title, bs)
}

// RelatedOptions control Related.
type RelatedOptions struct {
	evolution.Options
	Timeline bool
	Merge    bool
}

// RelatedResult is the output of Related. Timeline and MergeSuggestions are
// only filled when requested.
type RelatedResult struct {
	Related          []note.RelatedNote          `json:"related"`
	Timeline         []evolution.TimelineEntry   `json:"timeline,omitempty"`
	MergeSuggestions []evolution.MergeSuggestion `json:"merge_suggestions,omitempty"`
}

// Related finds the user's other brainstorms similar to the note. A note
// without an embedding is embedded first when an embedder is configured.
func (s *Service) Related(ctx context.Context, userID, id string, opts RelatedOptions) (RelatedResult, error) {
	n, err := s.store.GetNote(id, userID)
	if err != nil {
		return RelatedResult{}, err
	}
	if !n.HasEmbedding() && s.embedder != nil {
		if err := s.EmbedNote(ctx, n); err != nil {
			slog.Warn("pipeline: on-demand embedding failed", "note_id", n.ID, "error", err)
		}
	}

	pool, err := s.store.ListNotes(userID, note.ModeBrainstorming, 0)
	if err != nil {
		return RelatedResult{}, err
	}
	if s.embedder != nil {
		s.backfillEmbeddings(ctx, n.ID, pool)
	}
	candidates := make([]evolution.Candidate, 0, len(pool))
	for i := range pool {
		candidates = append(candidates, evolution.FromNote(&pool[i]))
	}

	current := evolution.FromNote(n)
	related, err := evolution.FindRelated(current, candidates, opts.Options)
	if err != nil {
		return RelatedResult{}, err
	}

	res := RelatedResult{Related: related}
	if opts.Timeline {
		res.Timeline = evolution.Timeline(current, related)
	}
	if opts.Merge {
		res.MergeSuggestions = evolution.MergeSuggestions(current, related)
	}
	return res, nil
}

// backfillEmbeddings embeds, in one batch, the pool notes that have no
// embedding yet and stores the vectors. Failures leave those notes out of
// matching.
func (s *Service) backfillEmbeddings(ctx context.Context, currentID string, pool []note.Note) {
	var idx []int
	var texts []string
	for i := range pool {
		if pool[i].ID == currentID || pool[i].HasEmbedding() {
			continue
		}
		idx = append(idx, i)
		texts = append(texts, embedding.NoteText(pool[i].Title, pool[i].Content))
	}
	if len(texts) == 0 {
		return
	}

	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		slog.Warn("pipeline: batch embedding failed", "notes", len(texts), "error", err)
		return
	}
	for j, i := range idx {
		if j >= len(vecs) || len(vecs[j]) == 0 {
			continue
		}
		n := &pool[i]
		if err := s.store.UpdateNoteEmbedding(n.ID, n.UserID, vecs[j]); err != nil {
			slog.Warn("pipeline: storing embedding failed", "note_id", n.ID, "error", err)
			continue
		}
		n.Embedding = vecs[j]
	}
	slog.Debug("pipeline: backfilled embeddings", "notes", len(idx))
}

// BriefResult is the output of Brief. Brief is nil when the stored
// Markdown was returned without regenerating.
type BriefResult struct {
	Brief    *brief.Brief `json:"brief,omitempty"`
	Markdown string       `json:"markdown"`
	Cached   bool         `json:"cached"`
}

// Brief returns the project brief stored on a brainstorm. When none is
// stored, or refresh is set, a new brief is generated and its Markdown
// rendering replaces the stored one.
func (s *Service) Brief(ctx context.Context, userID, id string, refresh bool) (BriefResult, error) {
	n, err := s.store.GetNote(id, userID)
	if err != nil {
		return BriefResult{}, err
	}
	bs, err := brainstorm(n, "project brief")
	if err != nil {
		return BriefResult{}, err
	}
	if !refresh && n.ProjectBrief != "" {
		return BriefResult{Markdown: n.ProjectBrief, Cached: true}, nil
	}
	if s.briefs == nil {
		return BriefResult{}, &apperr.ConfigError{Service: "anthropic", Key: "anthropic.api_key"}
	}

	b, err := s.briefs.Generate(ctx, n.Title, bs)
	if err != nil {
		return BriefResult{}, err
	}
	res := BriefResult{Brief: &b, Markdown: b.Markdown()}
	if err := s.store.UpdateProjectBrief(n.ID, userID, res.Markdown); err != nil {
		return res, err
	}
	return res, nil
}

// brainstorm decodes a brainstorm structure, reporting a missing or
// wrong-mode structure as a precondition failure of op.
func brainstorm(n *note.Note, op string) (note.BrainstormStructure, error) {
	if n.Mode != note.ModeBrainstorming {
		return note.BrainstormStructure{}, &apperr.PreconditionError{Op: op, Missing: "brainstorming mode"}
	}
	bs, err := n.Brainstorm()
	if err != nil {
		return bs, &apperr.PreconditionError{Op: op, Missing: "structure"}
	}
	return bs, nil
}

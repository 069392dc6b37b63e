// Package pipeline orchestrates note enrichment: it loads notes from the
// store, runs the structuring, research, mind map, related-note and brief
// components, and persists their output.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
	"github.com/fifthdraft/fifthdraft/internal/embedding"
	"github.com/fifthdraft/fifthdraft/internal/ingest"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/storage"
	"github.com/fifthdraft/fifthdraft/internal/transcript"
)

// Store is the persistence the pipeline needs. *storage.Store implements it.
type Store interface {
	SaveNote(n *note.Note) error
	GetNote(id, userID string) (*note.Note, error)
	ListNotes(userID string, mode note.Mode, limit int) ([]note.Note, error)
	SearchNotes(userID, query string, limit int) ([]note.Note, error)
	UpdateNoteStructure(id, userID string, structure json.RawMessage) error
	UpdateNoteEmbedding(id, userID string, embedding []float32) error
	UpdateProjectBrief(id, userID, brief string) error
	UpdateResearchData(id, userID string, out *note.ResearchOutput) error
	DeleteNote(id, userID string) error
	DeleteUserNotes(userID string) (int64, error)
	EnqueueJob(job storage.Job) error
	Ping() error
}

// Embedder embeds note text. *embedding.Embedder implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Service runs enrichment operations on behalf of a user. Components whose
// provider is not configured are nil; operations needing them fail with a
// ConfigError.
type Service struct {
	store      Store
	structurer Structurer
	researcher Researcher
	briefs     BriefGenerator
	embedder   Embedder
}

// Option configures a Service.
type Option func(*Service)

// WithStructurer enables structuring.
func WithStructurer(s Structurer) Option {
	return func(svc *Service) { svc.structurer = s }
}

// WithResearcher enables the research assistant.
func WithResearcher(r Researcher) Option {
	return func(svc *Service) { svc.researcher = r }
}

// WithBriefs enables project brief generation.
func WithBriefs(b BriefGenerator) Option {
	return func(svc *Service) { svc.briefs = b }
}

// WithEmbedder enables embedding on note creation and on demand.
func WithEmbedder(e Embedder) Option {
	return func(svc *Service) { svc.embedder = e }
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping reports whether the store is reachable.
func (s *Service) Ping() error {
	return s.store.Ping()
}

// CreateRequest describes a new note.
type CreateRequest struct {
	Title   string
	Content string
	Mode    note.Mode
	// Structure runs structuring synchronously after the note is saved.
	Structure bool
}

// CreateNote cleans and saves a transcript as a note and queues its
// embedding. When req.Structure is set and structuring fails, the saved
// note is returned together with the error.
func (s *Service) CreateNote(ctx context.Context, userID string, req CreateRequest) (*note.Note, error) {
	content := transcript.Clean(req.Content)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("creating note: content is empty")
	}
	n := &note.Note{
		UserID:  userID,
		Title:   strings.TrimSpace(req.Title),
		Content: content,
		Mode:    req.Mode,
	}
	if n.Title == "" {
		n.Title = defaultTitle(content)
	}
	if err := s.store.SaveNote(n); err != nil {
		return nil, err
	}
	slog.Info("note created", "note_id", n.ID, "mode", n.Mode, "chars", len(n.Content))

	if s.embedder != nil {
		job, err := ingest.NewJob(n.ID, userID)
		if err == nil {
			err = s.store.EnqueueJob(job)
		}
		if err != nil {
			slog.Warn("pipeline: failed to queue embedding", "note_id", n.ID, "error", err)
		}
	}

	if req.Structure {
		structured, err := s.StructureNote(ctx, userID, n.ID)
		if structured != nil {
			n = structured
		}
		return n, err
	}
	return n, nil
}

// GetNote returns one of the user's notes.
func (s *Service) GetNote(userID, id string) (*note.Note, error) {
	return s.store.GetNote(id, userID)
}

// ListNotes returns the user's notes, newest first.
func (s *Service) ListNotes(userID string, mode note.Mode, limit int) ([]note.Note, error) {
	return s.store.ListNotes(userID, mode, limit)
}

// SearchNotes finds the user's notes containing every word of query.
func (s *Service) SearchNotes(userID, query string, limit int) ([]note.Note, error) {
	return s.store.SearchNotes(userID, query, limit)
}

// DeleteNote deletes one of the user's notes.
func (s *Service) DeleteNote(userID, id string) error {
	return s.store.DeleteNote(id, userID)
}

// DeleteAccountNotes deletes every note the user owns.
func (s *Service) DeleteAccountNotes(userID string) (int64, error) {
	n, err := s.store.DeleteUserNotes(userID)
	if err != nil {
		return 0, err
	}
	slog.Info("account notes deleted", "user_id", userID, "count", n)
	return n, nil
}

// EmbedNote computes and stores the note's embedding now.
func (s *Service) EmbedNote(ctx context.Context, n *note.Note) error {
	if s.embedder == nil {
		return &apperr.ConfigError{Service: "ollama", Key: "ollama.embed_model"}
	}
	vec, err := s.embedder.Embed(ctx, embedding.NoteText(n.Title, n.Content))
	if err != nil {
		return err
	}
	if err := s.store.UpdateNoteEmbedding(n.ID, n.UserID, vec); err != nil {
		return err
	}
	n.Embedding = vec
	return nil
}

const titleWords = 8

// defaultTitle uses the first few words of the content.
func defaultTitle(content string) string {
	words := strings.Fields(content)
	if len(words) > titleWords {
		return strings.Join(words[:titleWords], " ") + "..."
	}
	return strings.Join(words, " ")
}

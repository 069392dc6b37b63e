// Package ingest runs background note_embed jobs from the SQLite job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fifthdraft/fifthdraft/internal/embedding"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/storage"
)

// JobType is the queue type of note embedding jobs.
const JobType = "note_embed"

// JobStore abstracts the job queue and note operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetNote(id, userID string) (*note.Note, error)
	UpdateNoteEmbedding(id, userID string, embedding []float32) error
}

// ContentEmbedder generates embeddings for text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Payload identifies the note a job embeds.
type Payload struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
}

// NewJob builds a pending note_embed job for the given note.
func NewJob(noteID, userID string) (storage.Job, error) {
	payload, err := json.Marshal(Payload{NoteID: noteID, UserID: userID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding job payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}, nil
}

// Worker processes note_embed jobs.
type Worker struct {
	store    JobStore
	embedder ContentEmbedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ContentEmbedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single note_embed job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	n, err := w.store.GetNote(payload.NoteID, payload.UserID)
	if err != nil {
		return fmt.Errorf("loading note %s: %w", payload.NoteID, err)
	}

	vec, err := w.embedder.Embed(ctx, embedding.NoteText(n.Title, n.Content))
	if err != nil {
		return fmt.Errorf("embedding note: %w", err)
	}

	if err := w.store.UpdateNoteEmbedding(n.ID, n.UserID, vec); err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	w.logger.Debug("note embedded", "note_id", n.ID, "dims", len(vec))
	return nil
}

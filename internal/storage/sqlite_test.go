package storage

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fifthdraft/fifthdraft/internal/note"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same directory and
// verifies no migration is re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_notes_user_created", "idx_notes_user_mode", "idx_jobs_status_run_after"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found", idx)
		}
	}
}

func newNote(userID, title, content string, mode note.Mode) *note.Note {
	return &note.Note{UserID: userID, Title: title, Content: content, Mode: mode}
}

func TestSaveAndGetNote(t *testing.T) {
	s := openTestStore(t)

	n := newNote("u1", "Garden", "compost and bees", note.ModeBrainstorming)
	n.Structure = json.RawMessage(`{"coreIdeas":[{"title":"Compost"}]}`)
	n.Embedding = []float32{0.5, -1.25, 3}
	if err := s.SaveNote(n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatal("SaveNote did not fill ID and CreatedAt")
	}

	got, err := s.GetNote(n.ID, "u1")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Title != "Garden" || got.Mode != note.ModeBrainstorming || got.Content != "compost and bees" {
		t.Errorf("GetNote = %+v", got)
	}
	if string(got.Structure) != string(n.Structure) {
		t.Errorf("Structure = %s, want %s", got.Structure, n.Structure)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != -1.25 {
		t.Errorf("Embedding = %v, want %v", got.Embedding, n.Embedding)
	}
	if !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, n.CreatedAt)
	}
	if got.ResearchData != nil {
		t.Errorf("ResearchData = %+v, want nil", got.ResearchData)
	}
}

func TestSaveNote_RequiresUser(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveNote(&note.Note{Title: "x"}); err == nil {
		t.Fatal("expected error for note without user")
	}
}

func TestGetNote_OtherUser(t *testing.T) {
	s := openTestStore(t)
	n := newNote("owner", "Private", "", note.ModeMeeting)
	if err := s.SaveNote(n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	if _, err := s.GetNote(n.ID, "intruder"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote by other user error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetNote("missing", "owner"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote missing error = %v, want ErrNotFound", err)
	}
}

func TestListNotes(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, m := range []note.Mode{note.ModeMeeting, note.ModeBrainstorming, note.ModeBrainstorming} {
		n := newNote("u1", "n", "", m)
		n.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.SaveNote(n); err != nil {
			t.Fatalf("SaveNote: %v", err)
		}
	}
	if err := s.SaveNote(newNote("u2", "other", "", note.ModeBrainstorming)); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	all, err := s.ListNotes("u1", "", 0)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListNotes = %d notes, want 3", len(all))
	}
	if !all[0].CreatedAt.After(all[1].CreatedAt) {
		t.Error("ListNotes not ordered newest first")
	}

	brain, err := s.ListNotes("u1", note.ModeBrainstorming, 1)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(brain) != 1 || brain[0].Mode != note.ModeBrainstorming {
		t.Errorf("ListNotes(brainstorming, 1) = %+v", brain)
	}
}

func TestUpdateNoteFields(t *testing.T) {
	s := openTestStore(t)
	n := newNote("u1", "t", "c", note.ModeBrainstorming)
	if err := s.SaveNote(n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	if err := s.UpdateNoteStructure(n.ID, "u1", json.RawMessage(`{"coreIdeas":[]}`)); err != nil {
		t.Fatalf("UpdateNoteStructure: %v", err)
	}
	if err := s.UpdateNoteEmbedding(n.ID, "u1", []float32{1, 2}); err != nil {
		t.Fatalf("UpdateNoteEmbedding: %v", err)
	}
	if err := s.UpdateProjectBrief(n.ID, "u1", "# Brief"); err != nil {
		t.Fatalf("UpdateProjectBrief: %v", err)
	}
	research := &note.ResearchOutput{
		Summary:     "s",
		KeyInsights: []string{"k"},
		Findings:    []note.ResearchFinding{{Query: "q", Sources: []note.Source{{URL: "https://example.com"}}}},
	}
	if err := s.UpdateResearchData(n.ID, "u1", research); err != nil {
		t.Fatalf("UpdateResearchData: %v", err)
	}

	got, err := s.GetNote(n.ID, "u1")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if string(got.Structure) != `{"coreIdeas":[]}` {
		t.Errorf("Structure = %s", got.Structure)
	}
	if len(got.Embedding) != 2 || got.Embedding[1] != 2 {
		t.Errorf("Embedding = %v", got.Embedding)
	}
	if got.ProjectBrief != "# Brief" {
		t.Errorf("ProjectBrief = %q", got.ProjectBrief)
	}
	if got.ResearchData == nil || got.ResearchData.Findings[0].Sources[0].URL != "https://example.com" {
		t.Errorf("ResearchData = %+v", got.ResearchData)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("UpdatedAt not advanced")
	}

	if err := s.UpdateProjectBrief(n.ID, "someone-else", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update by other user error = %v, want ErrNotFound", err)
	}
}

func TestDeleteNote(t *testing.T) {
	s := openTestStore(t)
	n := newNote("u1", "t", "c", note.ModeMeeting)
	if err := s.SaveNote(n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	if err := s.DeleteNote(n.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteNote by other user error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteNote(n.ID, "u1"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if _, err := s.GetNote(n.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote after delete error = %v, want ErrNotFound", err)
	}
}

func TestDeleteUserNotes(t *testing.T) {
	s := openTestStore(t)
	for _, u := range []string{"u1", "u1", "u2"} {
		if err := s.SaveNote(newNote(u, "t", "c", note.ModeMeeting)); err != nil {
			t.Fatalf("SaveNote: %v", err)
		}
	}
	n, err := s.DeleteUserNotes("u1")
	if err != nil {
		t.Fatalf("DeleteUserNotes: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d notes, want 2", n)
	}
	rest, _ := s.ListNotes("u2", "", 0)
	if len(rest) != 1 {
		t.Errorf("other user's notes affected: %d remain, want 1", len(rest))
	}
}

func TestBuildSearchQuery(t *testing.T) {
	q, args := buildSearchQuery("u1", "  compost 100%  bee_hive ", 10)

	if got := strings.Count(q, "(title LIKE ? ESCAPE '\\' OR content LIKE ? ESCAPE '\\')"); got != 3 {
		t.Errorf("query has %d word clauses, want 3:\n%s", got, q)
	}
	want := []any{"u1", "%compost%", "%compost%", `%100\%%`, `%100\%%`, `%bee\_hive%`, `%bee\_hive%`, 10}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestSearchNotes(t *testing.T) {
	s := openTestStore(t)
	notes := []*note.Note{
		newNote("u1", "Compost plan", "bees and worms", note.ModeBrainstorming),
		newNote("u1", "Budget", "100% of compost revenue", note.ModeMeeting),
		newNote("u1", "Unrelated", "nothing here", note.ModeMeeting),
		newNote("u2", "Compost", "other user", note.ModeMeeting),
	}
	for _, n := range notes {
		if err := s.SaveNote(n); err != nil {
			t.Fatalf("SaveNote: %v", err)
		}
	}

	got, err := s.SearchNotes("u1", "compost", 0)
	if err != nil {
		t.Fatalf("SearchNotes: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("SearchNotes(compost) = %d notes, want 2", len(got))
	}

	got, _ = s.SearchNotes("u1", "COMPOST bees", 0)
	if len(got) != 1 || got[0].Title != "Compost plan" {
		t.Errorf("SearchNotes(COMPOST bees) = %+v, want only Compost plan", got)
	}

	got, _ = s.SearchNotes("u1", "100%", 0)
	if len(got) != 1 || got[0].Title != "Budget" {
		t.Errorf("SearchNotes(100%%) = %d notes, want Budget only", len(got))
	}

	got, _ = s.SearchNotes("u1", "%", 0)
	if len(got) != 1 {
		t.Errorf("a bare %% must match literally, got %d notes", len(got))
	}
}

func TestEmbeddingCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 1e-7}
	got, err := decodeFloat32s(encodeFloat32s(v))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], v[i])
		}
	}
	if encodeFloat32s(nil) != nil {
		t.Error("empty vector should encode to nil")
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

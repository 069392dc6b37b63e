package storage

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fifthdraft/fifthdraft/internal/note"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const noteColumns = `id, user_id, title, content, mode, structure, embedding, project_brief, research_data, created_at, updated_at`

// SaveNote inserts n. Empty ID and zero timestamps are filled in and
// written back to n.
func (s *Store) SaveNote(n *note.Note) error {
	if n.UserID == "" {
		return fmt.Errorf("saving note: user id is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Mode == "" {
		n.Mode = note.ModeMeeting
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC().Truncate(time.Microsecond)
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	n.UpdatedAt = n.UpdatedAt.UTC().Truncate(time.Microsecond)

	research, err := encodeResearch(n.ResearchData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Content, string(n.Mode),
		nullableJSON(n.Structure), encodeFloat32s(n.Embedding), n.ProjectBrief, research,
		formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving note %s: %w", n.ID, err)
	}
	return nil
}

// GetNote returns the note with id owned by userID.
func (s *Store) GetNote(id, userID string) (*note.Note, error) {
	row := s.db.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting note %s: %w", id, err)
	}
	return n, nil
}

// ListNotes returns userID's notes, newest first. Empty mode lists every
// mode; limit <= 0 means no limit.
func (s *Store) ListNotes(userID string, mode note.Mode, limit int) ([]note.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE user_id = ?`
	args := []any{userID}
	if mode != "" {
		query += ` AND mode = ?`
		args = append(args, string(mode))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, sqlLimit(limit))
	return s.queryNotes(query, args...)
}

// SearchNotes returns userID's notes containing every word of query in the
// title or content, most recently updated first.
func (s *Store) SearchNotes(userID, query string, limit int) ([]note.Note, error) {
	q, args := buildSearchQuery(userID, query, limit)
	return s.queryNotes(q, args...)
}

// buildSearchQuery turns each whitespace-separated word into an
// "AND (title LIKE ? OR content LIKE ?)" clause. LIKE wildcards in the
// words are escaped.
func buildSearchQuery(userID, query string, limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + noteColumns + ` FROM notes WHERE user_id = ?`)
	args := []any{userID}
	for _, w := range strings.Fields(query) {
		pattern := "%" + escapeLike(w) + "%"
		sb.WriteString(` AND (title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	sb.WriteString(` ORDER BY updated_at DESC, id ASC LIMIT ?`)
	args = append(args, sqlLimit(limit))
	return sb.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// UpdateNoteStructure replaces the structure document.
func (s *Store) UpdateNoteStructure(id, userID string, structure json.RawMessage) error {
	return s.updateNote(id, userID, "structure", nullableJSON(structure))
}

// UpdateNoteEmbedding replaces the embedding vector.
func (s *Store) UpdateNoteEmbedding(id, userID string, embedding []float32) error {
	return s.updateNote(id, userID, "embedding", encodeFloat32s(embedding))
}

// UpdateProjectBrief replaces the rendered project brief.
func (s *Store) UpdateProjectBrief(id, userID, brief string) error {
	return s.updateNote(id, userID, "project_brief", brief)
}

// UpdateResearchData replaces the stored research output.
func (s *Store) UpdateResearchData(id, userID string, out *note.ResearchOutput) error {
	research, err := encodeResearch(out)
	if err != nil {
		return err
	}
	return s.updateNote(id, userID, "research_data", research)
}

// updateNote sets one column. column is always a literal from this file.
func (s *Store) updateNote(id, userID, column string, value any) error {
	res, err := s.db.Exec(`UPDATE notes SET `+column+` = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		value, formatTime(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("updating %s of note %s: %w", column, id, err)
	}
	return expectOneRow(res)
}

// DeleteNote removes one note.
func (s *Store) DeleteNote(id, userID string) error {
	res, err := s.db.Exec(`DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting note %s: %w", id, err)
	}
	return expectOneRow(res)
}

// DeleteUserNotes removes every note owned by userID and returns how many
// were deleted.
func (s *Store) DeleteUserNotes(userID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM notes WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting notes for user %s: %w", userID, err)
	}
	return res.RowsAffected()
}

func (s *Store) queryNotes(query string, args ...any) ([]note.Note, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	notes := []note.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(sc scanner) (*note.Note, error) {
	var (
		n                    note.Note
		mode                 string
		structure, research  sql.NullString
		embedding            []byte
		createdAt, updatedAt string
	)
	if err := sc.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &mode, &structure, &embedding,
		&n.ProjectBrief, &research, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.Mode = note.Mode(mode)
	if structure.Valid && structure.String != "" {
		n.Structure = json.RawMessage(structure.String)
	}

	var err error
	if n.Embedding, err = decodeFloat32s(embedding); err != nil {
		return nil, fmt.Errorf("decoding embedding of note %s: %w", n.ID, err)
	}
	if research.Valid && research.String != "" {
		n.ResearchData = &note.ResearchOutput{}
		if err := json.Unmarshal([]byte(research.String), n.ResearchData); err != nil {
			return nil, fmt.Errorf("decoding research data of note %s: %w", n.ID, err)
		}
	}
	if n.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of note %s: %w", n.ID, err)
	}
	if n.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of note %s: %w", n.ID, err)
	}
	return &n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func encodeResearch(out *note.ResearchOutput) (any, error) {
	if out == nil {
		return nil, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding research data: %w", err)
	}
	return string(b), nil
}

// encodeFloat32s packs v as little-endian float32s. nil for an empty vector.
func encodeFloat32s(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

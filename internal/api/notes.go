// Package api exposes the note pipeline over REST and MCP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
	"github.com/fifthdraft/fifthdraft/internal/evolution"
	"github.com/fifthdraft/fifthdraft/internal/mindmap"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/pipeline"
)

const maxNoteBodySize = 10 << 20 // 10MB

type CreateNoteRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Mode      string `json:"mode"`
	Structure bool   `json:"structure"`
}

type Deps struct {
	Service *pipeline.Service
	// Token enables bearer auth when non-empty.
	Token string
	// Related holds the configured defaults for /related.
	Related evolution.Options
}

// NewHandler returns the REST API. /health is unauthenticated.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Use(UserIdentity)

		r.Post("/notes", handleCreateNote(deps))
		r.Get("/notes", handleListNotes(deps))
		r.Get("/notes/search", handleSearchNotes(deps))
		r.Get("/notes/{id}", handleGetNote(deps))
		r.Delete("/notes/{id}", handleDeleteNote(deps))
		r.Post("/notes/{id}/structure", handleStructure(deps))
		r.Post("/notes/{id}/research", handleResearch(deps))
		r.Get("/notes/{id}/mindmap", handleMindmap(deps))
		r.Get("/notes/{id}/related", handleRelated(deps))
		r.Post("/notes/{id}/brief", handleBrief(deps))
		r.Delete("/account/notes", handleDeleteAccountNotes(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Service.Ping(); err != nil {
			slog.Error("health check failed", "error", err)
			httpError(w, http.StatusServiceUnavailable, "unavailable_error", "storage unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func handleCreateNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxNoteBodySize)
		defer r.Body.Close()

		var req CreateNoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		mode, err := note.ParseMode(req.Mode)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		n, err := deps.Service.CreateNote(r.Context(), userID(r), pipeline.CreateRequest{
			Title:     req.Title,
			Content:   req.Content,
			Mode:      mode,
			Structure: req.Structure,
		})
		if err != nil {
			if n == nil {
				serviceError(w, "create note", err)
				return
			}
			// Saved but not structured.
			slog.Warn("api: note saved without structure", "note_id", n.ID, "error", err)
			w.Header().Set("X-Structure-Error", string(apperr.CategoryOf(err)))
		}
		writeJSON(w, http.StatusCreated, n)
	}
}

func handleListNotes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mode note.Mode
		if m := r.URL.Query().Get("mode"); m != "" {
			parsed, err := note.ParseMode(m)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			mode = parsed
		}
		limit := parseIntParam(r, "limit", 20, 100)

		notes, err := deps.Service.ListNotes(userID(r), mode, limit)
		if err != nil {
			serviceError(w, "list notes", err)
			return
		}
		if notes == nil {
			notes = []note.Note{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

func handleSearchNotes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		notes, err := deps.Service.SearchNotes(userID(r), q, limit)
		if err != nil {
			serviceError(w, "search notes", err)
			return
		}
		if notes == nil {
			notes = []note.Note{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

func handleGetNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Service.GetNote(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, "get note", err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func handleDeleteNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Service.DeleteNote(userID(r), chi.URLParam(r, "id")); err != nil {
			serviceError(w, "delete note", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleDeleteAccountNotes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Service.DeleteAccountNotes(userID(r))
		if err != nil {
			serviceError(w, "delete account notes", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "count": n})
	}
}

func handleStructure(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Service.StructureNote(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, "structure note", err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func handleResearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Service.ResearchNote(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, "research note", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleMindmap(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := mindmap.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		d, err := deps.Service.Mindmap(userID(r), chi.URLParam(r, "id"), format)
		if err != nil {
			serviceError(w, "mind map", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleRelated(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := pipeline.RelatedOptions{Options: deps.Related}
		if s := q.Get("threshold"); s != "" {
			th, err := strconv.ParseFloat(s, 64)
			if err != nil || th < 0 || th > 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "threshold must be a number between 0 and 1")
				return
			}
			opts.Threshold = evolution.Threshold(th)
		}
		opts.Limit = parseIntParam(r, "limit", deps.Related.Limit, 50)
		opts.Timeline = parseBoolParam(r, "timeline")
		opts.Merge = parseBoolParam(r, "merge")

		res, err := deps.Service.Related(r.Context(), userID(r), chi.URLParam(r, "id"), opts)
		if err != nil {
			serviceError(w, "related notes", err)
			return
		}
		if res.Related == nil {
			res.Related = []note.RelatedNote{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleBrief(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Service.Brief(r.Context(), userID(r), chi.URLParam(r, "id"), parseBoolParam(r, "refresh"))
		if err != nil {
			serviceError(w, "project brief", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

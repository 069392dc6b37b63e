package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/fifthdraft/fifthdraft/internal/api"
	"github.com/fifthdraft/fifthdraft/internal/evolution"
	"github.com/fifthdraft/fifthdraft/internal/pipeline"
	"github.com/fifthdraft/fifthdraft/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	User   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
	headers  map[string]string
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{headers: map[string]string{}}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			User:   r.Header.Get("X-User-ID"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			for k, v := range ts.headers {
				w.Header().Set(k, v)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"note not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

const sampleNote = `{"id":"note-1234567890","user_id":"local","title":"Compost subscription","content":"so the idea is","mode":"brainstorming","created_at":"2025-01-01T10:00:00Z","updated_at":"2025-01-01T10:00:00Z"}`

func TestCreateCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /notes": sampleNote,
	})
	ts.headers["X-Structure-Error"] = "provider"

	var out bytes.Buffer
	req := api.CreateNoteRequest{Content: "so the idea is", Mode: "brainstorming", Structure: true}
	if err := runCreate(ctx, ts.client(), &out, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/notes" {
		t.Errorf("request = %s %s, want POST /notes", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["mode"] != "brainstorming" {
		t.Errorf("body.mode = %v, want brainstorming", body["mode"])
	}
	if body["structure"] != true {
		t.Errorf("body.structure = %v, want true", body["structure"])
	}
	if !strings.Contains(out.String(), "Compost subscription") {
		t.Errorf("output = %q, want it to contain the title", out.String())
	}
	if !strings.Contains(out.String(), "note-123") {
		t.Errorf("output = %q, want it to contain the short id", out.String())
	}
}

func TestCreateCommand_MissingText(t *testing.T) {
	defer rootCmd.SetArgs(nil)
	defer rootCmd.SetIn(nil)

	rootCmd.SetIn(strings.NewReader("   "))
	rootCmd.SetArgs([]string{"note", "create"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing transcript")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestCreateCommand_InvalidMode(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"note", "create", "--text", "hello", "--mode", "podcast"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if !strings.Contains(err.Error(), "podcast") {
		t.Errorf("error = %q, want it to name the mode", err.Error())
	}
}

func TestMindmapCommand_InvalidFormat(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"mindmap", "note-1", "--format", "tree"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSearchCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /notes/search": `[]`,
	})

	var out bytes.Buffer
	if err := runSearch(ctx, ts.client(), &out, "bee hive&limit=1", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(ts.requests[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Query().Get("q"); got != "bee hive&limit=1" {
		t.Errorf("q = %q, want %q", got, "bee hive&limit=1")
	}
	if got := u.Query().Get("limit"); got != "5" {
		t.Errorf("limit = %q, want 5", got)
	}
	if !strings.Contains(out.String(), "No notes found.") {
		t.Errorf("output = %q, want empty-result message", out.String())
	}
}

func TestListCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /notes": "[" + sampleNote + "]",
	})

	var out bytes.Buffer
	if err := runList(ctx, ts.client(), &out, "brainstorming", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/notes?limit=10&mode=brainstorming" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	if !strings.Contains(out.String(), "Compost subscription") {
		t.Errorf("output = %q, want note title", out.String())
	}
}

func TestRelatedQueryEncode(t *testing.T) {
	tests := []struct {
		name string
		q    relatedQuery
		want string
	}{
		{"empty", relatedQuery{}, ""},
		{"threshold", relatedQuery{threshold: evolution.Threshold(0.8)}, "threshold=0.8"},
		{"zero threshold", relatedQuery{threshold: evolution.Threshold(0)}, "threshold=0"},
		{"all", relatedQuery{threshold: evolution.Threshold(0.75), limit: 3, timeline: true, merge: true}, "limit=3&merge=true&threshold=0.75&timeline=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.encode(); got != tt.want {
				t.Errorf("encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelatedCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /notes/note-1/related": `{
			"related":[{"id":"note-2","title":"Worm farm","created_at":"2024-12-01T00:00:00Z","similarity_score":0.91,"core_ideas":["Vermicompost"]}],
			"timeline":[
				{"id":"note-2","title":"Worm farm","created_at":"2024-12-01T00:00:00Z","similarity_score":0.91,"core_ideas":[],"current":false,"label":"Where it started (91% similar)","days_since_previous":0},
				{"id":"note-1","title":"Compost subscription","created_at":"2025-01-01T00:00:00Z","similarity_score":1,"core_ideas":[],"current":true,"label":"This note","days_since_previous":31}
			],
			"merge_suggestions":[{"source_id":"note-2","source_title":"Worm farm","target_id":"note-1","target_title":"Compost subscription","similarity_score":0.91,"shared_ideas":[],"reason":"91% similar"}]
		}`,
	})

	var out bytes.Buffer
	q := relatedQuery{timeline: true, merge: true}
	if err := runRelated(ctx, ts.client(), &out, "note-1", q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Worm farm", "91%", "Vermicompost", "Where it started", "+31d", "Worm farm -> Compost subscription"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestMindmapCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /notes/note-1/mindmap": `{"format":"graph","syntax":"graph TD\n  root[\"Compost\"]","image_url":"https://mermaid.ink/img/abc"}`,
	})

	var out bytes.Buffer
	if err := runMindmap(ctx, ts.client(), &out, "note-1", "graph"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/notes/note-1/mindmap?format=graph" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	if !strings.Contains(out.String(), "graph TD") || !strings.Contains(out.String(), "https://mermaid.ink/img/abc") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBriefCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /notes/note-1/brief": `{"brief":{"title":"Compost Co"},"markdown":"# Compost Co\n"}`,
	})

	var out bytes.Buffer
	if err := runBrief(ctx, ts.client(), &out, "note-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "# Compost Co\n" {
		t.Errorf("output = %q, want markdown", out.String())
	}
	if err := runBrief(ctx, ts.client(), &out, "note-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[1].Path; got != "/notes/note-1/brief?refresh=true" {
		t.Errorf("refresh path = %q", got)
	}
}

func TestResearchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /notes/note-1/research": `{"findings":[{"query":"compost market size","answer":"Growing.","sources":[{"title":"Report","url":"https://example.com","snippet":"..."}]}],"summary":"Demand is rising.","keyInsights":["Target cafes"]}`,
	})

	var out bytes.Buffer
	if err := runResearch(ctx, ts.client(), &out, "note-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Demand is rising.", "Target cafes", "compost market size", "https://example.com"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestDeleteAllCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /account/notes": `{"status":"deleted","count":3}`,
	})

	if err := runDeleteAll(ctx, ts.client()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Method != "DELETE" {
		t.Errorf("method = %q, want DELETE", ts.requests[0].Method)
	}
}

func TestShowCommand_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	var out bytes.Buffer
	err := runShow(ctx, ts.client(), &out, "missing", false)
	if err == nil {
		t.Fatal("expected error for missing note")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "note not found") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientHeaders(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	client.userID = "alice"

	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want no header without a token", ts.requests[0].Auth)
	}
	if ts.requests[0].User != "alice" {
		t.Errorf("user = %q, want alice", ts.requests[0].User)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/notes")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if err.Error() != "server returned 401: unauthorized" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestExcerpt(t *testing.T) {
	if got := excerpt("a  b\n c", 10); got != "a b c" {
		t.Errorf("excerpt = %q, want %q", got, "a b c")
	}
	if got := excerpt("héllo wörld", 5); got != "héllo..." {
		t.Errorf("excerpt = %q, want %q", got, "héllo...")
	}
}

// TestCommandsAgainstServer drives the commands against the real handler
// backed by a temporary database.
func TestCommandsAgainstServer(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(api.NewHandler(api.Deps{
		Service: pipeline.NewService(store),
		Token:   "secret",
	}))
	t.Cleanup(srv.Close)
	client := &apiClient{baseURL: srv.URL, token: "secret", httpClient: srv.Client()}

	var out bytes.Buffer
	req := api.CreateNoteRequest{Title: "Garden plan", Content: "um so we plant the beans first", Mode: "meeting"}
	if err := runCreate(ctx, client, &out, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	notes, err := store.ListNotes("local", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("stored %d notes, want 1", len(notes))
	}
	id := notes[0].ID
	if notes[0].Content != "so we plant the beans first" {
		t.Errorf("content = %q, want fillers removed", notes[0].Content)
	}

	out.Reset()
	if err := runSearch(ctx, client, &out, "beans", 10); err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out.String(), "Garden plan") {
		t.Errorf("search output = %q", out.String())
	}

	out.Reset()
	if err := runShow(ctx, client, &out, id, true); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), `"title": "Garden plan"`) {
		t.Errorf("show output = %q", out.String())
	}

	err = runStructure(ctx, client, &out, id)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("structure without a model: err = %v, want 503", err)
	}

	if err := runDelete(ctx, client, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := runShow(ctx, client, &out, id, false); err == nil {
		t.Error("expected show after delete to fail")
	}
}

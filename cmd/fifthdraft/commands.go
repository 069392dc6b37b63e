package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fifthdraft/fifthdraft/internal/api"
	"github.com/fifthdraft/fifthdraft/internal/config"
	"github.com/fifthdraft/fifthdraft/internal/mindmap"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/pipeline"
	"github.com/fifthdraft/fifthdraft/internal/transcript"
)

// --- note ---

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Create, list and manage notes",
}

var noteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a note from transcript text",
	Long: `Create a note from transcript text.

Examples:
  fifthdraft note create --text "so the idea is a compost subscription..." --mode brainstorming
  pbpaste | fifthdraft note create --title "Standup" --structure`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		if text == "" {
			data, err := readStdin(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text = data
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("--text or transcript on stdin is required")
		}
		req, err := createRequestFromFlags(cmd, text)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runCreate(cmd.Context(), client, cmd.OutOrStdout(), req)
	},
}

var noteImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a transcript file (.txt, .md, .pdf)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		text, err := transcript.ReadFile(path)
		if err != nil {
			return err
		}
		req, err := createRequestFromFlags(cmd, text)
		if err != nil {
			return err
		}
		if req.Title == "" {
			req.Title = transcript.Title(path)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runCreate(cmd.Context(), client, cmd.OutOrStdout(), req)
	},
}

func addCreateFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "note title (default: derived from the transcript)")
	cmd.Flags().String("mode", string(note.ModeMeeting), "meeting or brainstorming")
	cmd.Flags().Bool("structure", false, "structure the note right away")
}

func createRequestFromFlags(cmd *cobra.Command, text string) (api.CreateNoteRequest, error) {
	title, _ := cmd.Flags().GetString("title")
	mode, _ := cmd.Flags().GetString("mode")
	structure, _ := cmd.Flags().GetBool("structure")
	if _, err := note.ParseMode(mode); err != nil {
		return api.CreateNoteRequest{}, err
	}
	return api.CreateNoteRequest{Title: title, Content: text, Mode: mode, Structure: structure}, nil
}

func readStdin(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func runCreate(ctx context.Context, c *apiClient, w io.Writer, req api.CreateNoteRequest) error {
	resp, err := c.post(ctx, "/notes", req)
	if err != nil {
		return err
	}
	structureErr := resp.Header.Get("X-Structure-Error")

	var n note.Note
	if err := decodeJSON(resp, &n); err != nil {
		return err
	}
	printSuccess("Created note %s", n.ID)
	if structureErr != "" {
		printWarning("Note saved but structuring failed (%s error); retry with: fifthdraft structure %s", structureErr, n.ID)
	}
	writeNoteLine(w, n)
	return nil
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runList(cmd.Context(), client, cmd.OutOrStdout(), mode, limit)
	},
}

func runList(ctx context.Context, c *apiClient, w io.Writer, mode string, limit int) error {
	q := url.Values{}
	if mode != "" {
		q.Set("mode", mode)
	}
	q.Set("limit", strconv.Itoa(limit))
	return listNotes(ctx, c, w, "/notes?"+q.Encode())
}

var noteSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find notes containing every word of the query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSearch(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "), limit)
	},
}

func runSearch(ctx context.Context, c *apiClient, w io.Writer, query string, limit int) error {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	return listNotes(ctx, c, w, "/notes/search?"+q.Encode())
}

func listNotes(ctx context.Context, c *apiClient, w io.Writer, path string) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var notes []note.Note
	if err := decodeJSON(resp, &notes); err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Fprintln(w, "No notes found.")
		return nil
	}
	for _, n := range notes {
		writeNoteLine(w, n)
	}
	return nil
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runShow(cmd.Context(), client, cmd.OutOrStdout(), args[0], asJSON)
	},
}

func runShow(ctx context.Context, c *apiClient, w io.Writer, id string, asJSON bool) error {
	resp, err := c.get(ctx, "/notes/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var n note.Note
	if err := decodeJSON(resp, &n); err != nil {
		return err
	}
	if asJSON {
		return printJSON(w, n)
	}

	fmt.Fprintf(w, "%s\n", colorize(colorBold, n.Title))
	fmt.Fprintf(w, "id: %s  mode: %s  created: %s\n\n", n.ID, n.Mode, n.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(w, n.Content)
	if len(n.Structure) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Structure"))
		var v any
		if err := json.Unmarshal(n.Structure, &v); err != nil {
			return err
		}
		if err := printJSON(w, v); err != nil {
			return err
		}
	}
	if n.ResearchData != nil {
		writeResearch(w, *n.ResearchData)
	}
	if n.ProjectBrief != "" {
		fmt.Fprintf(w, "\n%s\n", n.ProjectBrief)
	}
	return nil
}

var noteDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a note, or every note with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !all && len(args) == 0 {
			return fmt.Errorf("a note id or --all is required")
		}
		if all && !confirm {
			printWarning("This will delete ALL of your notes. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if all {
			return runDeleteAll(cmd.Context(), client)
		}
		return runDelete(cmd.Context(), client, args[0])
	},
}

func runDelete(ctx context.Context, c *apiClient, id string) error {
	resp, err := c.delete(ctx, "/notes/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Deleted note %s", id)
	return nil
}

func runDeleteAll(ctx context.Context, c *apiClient) error {
	resp, err := c.delete(ctx, "/account/notes")
	if err != nil {
		return err
	}
	var result struct {
		Count int64 `json:"count"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Deleted %d notes", result.Count)
	return nil
}

func init() {
	noteCreateCmd.Flags().String("text", "", "transcript text (default: read stdin)")
	addCreateFlags(noteCreateCmd)
	addCreateFlags(noteImportCmd)
	noteListCmd.Flags().String("mode", "", "only list notes in this mode")
	noteListCmd.Flags().Int("limit", 20, "maximum number of notes to list")
	noteSearchCmd.Flags().Int("limit", 20, "maximum number of results")
	noteShowCmd.Flags().Bool("json", false, "print the raw note as JSON")
	noteDeleteCmd.Flags().Bool("all", false, "delete every note you own")
	noteDeleteCmd.Flags().Bool("confirm", false, "confirm --all")

	noteCmd.AddCommand(noteCreateCmd, noteImportCmd, noteListCmd, noteSearchCmd, noteShowCmd, noteDeleteCmd)
}

// --- enrichment ---

var structureCmd = &cobra.Command{
	Use:   "structure <id>",
	Short: "Structure a note according to its mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runStructure(cmd.Context(), client, cmd.OutOrStdout(), args[0])
	},
}

func runStructure(ctx context.Context, c *apiClient, w io.Writer, id string) error {
	resp, err := c.post(ctx, "/notes/"+url.PathEscape(id)+"/structure", nil)
	if err != nil {
		return err
	}
	var n note.Note
	if err := decodeJSON(resp, &n); err != nil {
		return err
	}
	printSuccess("Structured note %s", n.ID)
	var v any
	if err := json.Unmarshal(n.Structure, &v); err != nil {
		return err
	}
	return printJSON(w, v)
}

var researchCmd = &cobra.Command{
	Use:   "research <id>",
	Short: "Research a note on the web and store the findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runResearch(cmd.Context(), client, cmd.OutOrStdout(), args[0])
	},
}

func runResearch(ctx context.Context, c *apiClient, w io.Writer, id string) error {
	resp, err := c.post(ctx, "/notes/"+url.PathEscape(id)+"/research", nil)
	if err != nil {
		return err
	}
	var out note.ResearchOutput
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	writeResearch(w, out)
	return nil
}

func writeResearch(w io.Writer, out note.ResearchOutput) {
	fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "Research"), out.Summary)
	if len(out.KeyInsights) > 0 {
		fmt.Fprintln(w)
		for _, ki := range out.KeyInsights {
			fmt.Fprintf(w, "  • %s\n", ki)
		}
	}
	for _, f := range out.Findings {
		fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, f.Query))
		if f.Answer != "" {
			fmt.Fprintf(w, "  %s\n", excerpt(f.Answer, 300))
		}
		for _, s := range f.Sources {
			fmt.Fprintf(w, "  - %s <%s>\n", s.Title, s.URL)
		}
	}
}

var mindmapCmd = &cobra.Command{
	Use:   "mindmap <id>",
	Short: "Render a brainstorm as a Mermaid mind map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if _, err := mindmap.ParseFormat(format); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runMindmap(cmd.Context(), client, cmd.OutOrStdout(), args[0], format)
	},
}

func runMindmap(ctx context.Context, c *apiClient, w io.Writer, id, format string) error {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	path := "/notes/" + url.PathEscape(id) + "/mindmap"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var d mindmap.Diagram
	if err := decodeJSON(resp, &d); err != nil {
		return err
	}
	fmt.Fprintln(w, d.Syntax)
	fmt.Fprintf(w, "\n%s %s\n", colorize(colorBold, "Image:"), d.ImageURL)
	return nil
}

var relatedCmd = &cobra.Command{
	Use:   "related <id>",
	Short: "Find earlier brainstorms similar to this one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := relatedQuery{}
		if cmd.Flags().Changed("threshold") {
			th, _ := cmd.Flags().GetFloat64("threshold")
			opts.threshold = &th
		}
		opts.limit, _ = cmd.Flags().GetInt("limit")
		opts.timeline, _ = cmd.Flags().GetBool("timeline")
		opts.merge, _ = cmd.Flags().GetBool("merge")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runRelated(cmd.Context(), client, cmd.OutOrStdout(), args[0], opts)
	},
}

type relatedQuery struct {
	threshold *float64
	limit     int
	timeline  bool
	merge     bool
}

func (q relatedQuery) encode() string {
	v := url.Values{}
	if q.threshold != nil {
		v.Set("threshold", strconv.FormatFloat(*q.threshold, 'f', -1, 64))
	}
	if q.limit > 0 {
		v.Set("limit", strconv.Itoa(q.limit))
	}
	if q.timeline {
		v.Set("timeline", "true")
	}
	if q.merge {
		v.Set("merge", "true")
	}
	return v.Encode()
}

func runRelated(ctx context.Context, c *apiClient, w io.Writer, id string, q relatedQuery) error {
	path := "/notes/" + url.PathEscape(id) + "/related"
	if enc := q.encode(); enc != "" {
		path += "?" + enc
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var res pipeline.RelatedResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}

	writeRelated(w, res.Related)
	if len(res.Timeline) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Timeline"))
		for _, e := range res.Timeline {
			gap := ""
			if e.DaysSincePrevious > 0 {
				gap = fmt.Sprintf(" (+%dd)", e.DaysSincePrevious)
			}
			fmt.Fprintf(w, "  %s%s  %s: %s\n", e.CreatedAt.Local().Format("2006-01-02"), gap, e.Label, e.Title)
		}
	}
	if len(res.MergeSuggestions) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Merge suggestions"))
		for _, m := range res.MergeSuggestions {
			fmt.Fprintf(w, "  %s -> %s: %s\n", m.SourceTitle, m.TargetTitle, m.Reason)
		}
	}
	return nil
}

var briefCmd = &cobra.Command{
	Use:   "brief <id>",
	Short: "Show the project brief for a brainstorm, generating it on first use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runBrief(cmd.Context(), client, cmd.OutOrStdout(), args[0], refresh)
	},
}

func runBrief(ctx context.Context, c *apiClient, w io.Writer, id string, refresh bool) error {
	path := "/notes/" + url.PathEscape(id) + "/brief"
	if refresh {
		path += "?refresh=true"
	}
	resp, err := c.post(ctx, path, nil)
	if err != nil {
		return err
	}
	var b pipeline.BriefResult
	if err := decodeJSON(resp, &b); err != nil {
		return err
	}
	fmt.Fprint(w, b.Markdown)
	return nil
}

func init() {
	mindmapCmd.Flags().String("format", string(mindmap.FormatRadial), "radial or graph")
	relatedCmd.Flags().Float64("threshold", 0, "minimum similarity between 0 and 1 (default: configured)")
	relatedCmd.Flags().Int("limit", 0, "maximum number of related notes (default: configured)")
	relatedCmd.Flags().Bool("timeline", false, "include a chronological timeline")
	relatedCmd.Flags().Bool("merge", false, "include merge suggestions")
	briefCmd.Flags().Bool("refresh", false, "regenerate instead of showing the stored brief")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		writeConfig(cmd.OutOrStdout(), config.ShowAll(cfg))
		return nil
	},
}

func writeConfig(w io.Writer, keys []config.KeyInfo) {
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
	}
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secrets are written to the secrets file.\n\nKeys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

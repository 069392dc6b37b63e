package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fifthdraft/fifthdraft/internal/note"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortID is the prefix shown in listings.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// excerpt flattens whitespace and cuts s to n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func writeNoteLine(w io.Writer, n note.Note) {
	marker := " "
	if len(n.Structure) > 0 {
		marker = "*"
	}
	fmt.Fprintf(w, "%s %s %s  %-13s %s\n",
		colorize(colorCyan, shortID(n.ID)),
		marker,
		n.CreatedAt.Local().Format("2006-01-02 15:04"),
		n.Mode,
		n.Title,
	)
}

func writeRelated(w io.Writer, related []note.RelatedNote) {
	if len(related) == 0 {
		fmt.Fprintln(w, "No related notes found.")
		return
	}
	for _, r := range related {
		fmt.Fprintf(w, "%s  %3.0f%%  %s\n", colorize(colorCyan, shortID(r.ID)), r.SimilarityScore*100, r.Title)
		if len(r.CoreIdeas) > 0 {
			fmt.Fprintf(w, "      ideas: %s\n", strings.Join(r.CoreIdeas, ", "))
		}
	}
}

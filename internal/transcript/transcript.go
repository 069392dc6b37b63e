// Package transcript normalises raw transcripts and imports them from
// files.
package transcript

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxFileSize bounds imported transcript files.
const MaxFileSize = 10 << 20

var (
	fillerRe = regexp.MustCompile(`(?i)\b(?:u+m+|u+h+|e+r+m+)\b,?`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// Clean removes filler words (um, uh, erm) and normalises whitespace.
// Paragraph breaks are kept; runs of blank lines collapse to one.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = fillerRe.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(l, " "))
		lines[i] = strings.ReplaceAll(lines[i], " ,", ",")
	}
	s = blankRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

// ReadFile loads a transcript from a .txt, .md or .pdf file.
func ReadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("transcript %s exceeds %d bytes", path, MaxFileSize)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", "":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading transcript: %w", err)
		}
		return string(b), nil
	case ".pdf":
		return readPDF(path)
	default:
		return "", fmt.Errorf("unsupported transcript format %q", filepath.Ext(path))
	}
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(text, MaxFileSize)); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return buf.String(), nil
}

// Title derives a note title from the file name.
func Title(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

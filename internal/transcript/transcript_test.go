package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"fillers", "So um, we should uh build it.", "So we should build it."},
		{"case and repeats", "Umm I think, UHH, erm yes", "I think, yes"},
		{"keeps words containing fillers", "The umbrella and the humble duh", "The umbrella and the humble duh"},
		{"whitespace", "  a\t\tb  \r\n\r\n\r\n\r\nc  ", "a b\n\nc"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadFile_Text(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "standup_notes.md")
	if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "hello world" {
		t.Errorf("ReadFile = %q", got)
	}
	if Title(path) != "standup notes" {
		t.Errorf("Title = %q, want %q", Title(path), "standup notes")
	}
}

func TestReadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}

	docx := filepath.Join(dir, "notes.docx")
	if err := os.WriteFile(docx, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(docx); err == nil {
		t.Error("expected error for unsupported extension")
	}

	bad := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(bad, []byte("not a pdf"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(bad); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

package extract_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/scrypster/memindex/internal/extract"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		filename string
		want     string
	}{
		{"h1 wins", "intro\n## Sub\n# Main Title\n", "", "Main Title"},
		{"h2 when no h1", "## Section Two\nbody", "", "Section Two"},
		{"front matter title", "---\ntitle: \"From YAML\"\n---\nplain text\n", "", "From YAML"},
		{"first line", "\n\n  first line here  \nsecond", "", "first line here"},
		{"first line capped", strings.Repeat("x", 150), "", strings.Repeat("x", 100)},
		{"hashtag is not a heading", "#tag only\nmore", "", "tag only"},
		{"empty uses filename", "", "notes/auth-decision.md", "auth-decision"},
		{"empty without filename", "", "", "Untitled"},
		{"blank headings fall through", "---\ntitle: x\n---\n", "spec.md", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extract.Title(tt.content, tt.filename); got != tt.want {
				t.Errorf("Title() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	doc := "---\ntitle: x\n---\n# Heading\n\nstatus: draft\nFirst para line one\nline two\n\nSecond para\n"
	if got, want := extract.Snippet(doc, 200), "First para line one line two"; got != want {
		t.Errorf("Snippet() = %q, want %q", got, want)
	}

	long := strings.Repeat("word ", 60)
	want := strings.TrimSpace(strings.Repeat("word ", 40)) + "..."
	if got := extract.Snippet(long, 200); got != want {
		t.Errorf("word boundary: got %q, want %q", got, want)
	}

	noSpaces := strings.Repeat("a", 250)
	if got := extract.Snippet(noSpaces, 0); got != strings.Repeat("a", 200)+"..." {
		t.Errorf("hard cut: got %d chars", len(got))
	}

	if got := extract.Snippet("", 200); got != "" {
		t.Errorf("empty content: got %q", got)
	}
	if got := extract.Snippet("short", 200); got != "short" {
		t.Errorf("short content: got %q", got)
	}
}

func TestTags(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "inline list and hashtags",
			content: "---\ntags: [Go, sqlite]\n---\nBody with #Search and #go and #123 and issue#5\n",
			want:    []string{"go", "sqlite", "search"},
		},
		{
			name:    "block list",
			content: "---\ntags:\n  - Alpha\n  - beta\n---\n# Heading\n",
			want:    []string{"alpha", "beta"},
		},
		{
			name:    "comma string",
			content: "---\ntags: one, two\n---\n",
			want:    []string{"one", "two"},
		},
		{
			name:    "hashtags only",
			content: "#first line\nthen #second-tag and #first",
			want:    []string{"first", "second-tag"},
		},
		{name: "empty", content: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extract.Tags(tt.content); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
		want    string
	}{
		{"front matter iso", "---\ndate: 2025-03-14\n---\n", "", "2025-03-14"},
		{"front matter long form", "---\ndate: \"March 4, 2025\"\n---\n", "", "2025-03-04"},
		{"front matter timestamp", "---\ndate: 2025-03-14T10:00:00Z\n---\n", "", "2025-03-14"},
		{"front matter wins over filename", "---\ndate: 2025-03-14\n---\n", "/m/2024-11-05-notes.md", "2025-03-14"},
		{"filename iso", "no front matter", "/m/2024-11-05-notes.md", "2024-11-05"},
		{"filename dd-mm-yy", "", "/m/notes-05-11-24.md", "2024-11-05"},
		{"filename dd-mm-yy last century", "", "/m/notes-05-11-99.md", "1999-11-05"},
		{"unparseable front matter date", "---\ndate: someday\n---\n", "", ""},
		{"nothing", "text", "/m/notes.md", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extract.Date(tt.content, tt.path); got != tt.want {
				t.Errorf("Date() = %q, want %q", got, tt.want)
			}
		})
	}
}

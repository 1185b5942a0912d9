// Package extract derives display fields (title, snippet, tags, date) from a
// memory's source text. Search results are enriched with these before they
// are returned.
package extract

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSnippetLength is the snippet budget used when none is given.
const DefaultSnippetLength = 200

const maxFirstLineTitle = 100

// frontMatter is the parsed YAML block plus the text that follows it.
type frontMatter struct {
	fields map[string]any
	body   string
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// body. Invalid YAML still strips the block but yields no fields.
func splitFrontMatter(text string) frontMatter {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return frontMatter{body: text}
	}
	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return frontMatter{body: text}
	}

	fields := make(map[string]any)
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fields); err != nil {
		fields = map[string]any{}
	}
	return frontMatter{fields: fields, body: strings.Join(lines[closeIdx+1:], "\n")}
}

func (fm frontMatter) str(key string) string {
	v, ok := fm.fields[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case time.Time:
		return s.Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", s))
	}
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// heading returns the text of the first ATX heading of exactly level n.
func heading(text string, n int) string {
	prefix := strings.Repeat("#", n)
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := line[n:]
		if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		if t := strings.TrimSpace(rest); t != "" {
			return t
		}
	}
	return ""
}

// Title picks the first available of: H1, H2, front matter title, the first
// non-empty line (capped at 100 characters), the filename stem, "Untitled".
func Title(content, filename string) string {
	if strings.TrimSpace(content) == "" {
		if filename != "" {
			return stem(filename)
		}
		return "Untitled"
	}

	fm := splitFrontMatter(content)
	if t := heading(fm.body, 1); t != "" {
		return t
	}
	if t := heading(fm.body, 2); t != "" {
		return t
	}
	if t := strings.Trim(fm.str("title"), `"'`); t != "" {
		return t
	}
	for _, line := range strings.Split(fm.body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		if r := []rune(line); len(r) > maxFirstLineTitle {
			line = string(r[:maxFirstLineTitle])
		}
		if line != "" {
			return line
		}
	}
	if filename != "" {
		return stem(filename)
	}
	return "Untitled"
}

var (
	headingLineRe = regexp.MustCompile(`^#+\s`)
	keyValueRe    = regexp.MustCompile(`(?i)^[a-z_-]+:\s`)
)

// Snippet returns the first paragraph of prose: front matter, headings and
// leading "key: value" lines are skipped. Text longer than maxLen is cut,
// at the last space when that keeps more than 70% of it, and gets "...".
func Snippet(content string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSnippetLength
	}
	if content == "" {
		return ""
	}

	var parts []string
	length := 0
	for _, line := range strings.Split(splitFrontMatter(content).body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || headingLineRe.MatchString(trimmed) {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if len(parts) == 0 && keyValueRe.MatchString(trimmed) {
			continue
		}
		parts = append(parts, trimmed)
		length += len([]rune(trimmed))
		if len(parts) > 1 {
			length++
		}
		if length >= maxLen {
			break
		}
	}

	snippet := []rune(strings.Join(parts, " "))
	if len(snippet) <= maxLen {
		return string(snippet)
	}
	snippet = snippet[:maxLen]
	if i := lastSpace(snippet); float64(i) > float64(maxLen)*0.7 {
		snippet = snippet[:i]
	}
	return string(snippet) + "..."
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}

var hashtagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_-]*)`)

// Tags collects front matter tags (inline or block list, or a comma
// separated string) and #hashtags, lower-cased and de-duplicated in order
// of appearance.
func Tags(content string) []string {
	if content == "" {
		return nil
	}
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(strings.Trim(strings.TrimSpace(tag), `"'`))
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	fm := splitFrontMatter(content)
	switch v := fm.fields["tags"].(type) {
	case []any:
		for _, item := range v {
			if item != nil {
				add(fmt.Sprintf("%v", item))
			}
		}
	case string:
		for _, t := range strings.Split(strings.Trim(v, "[]"), ",") {
			add(t)
		}
	}

	for _, m := range hashtagRe.FindAllStringSubmatch(content, -1) {
		if !allDigits(m[1]) {
			add(m[1])
		}
	}
	return tags
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
}

var (
	isoDateRe   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	shortDateRe = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{2})`)
)

// Date returns a YYYY-MM-DD date from the front matter "date" field, else
// from a YYYY-MM-DD or DD-MM-YY pattern in the file name (YY above 50 is
// read as 19YY). It returns "" when nothing matches; callers fall back to
// the record's creation time.
func Date(content, path string) string {
	if content != "" {
		fm := splitFrontMatter(content)
		switch v := fm.fields["date"].(type) {
		case time.Time:
			return v.UTC().Format("2006-01-02")
		case string:
			s := strings.Trim(strings.TrimSpace(v), `"'`)
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.Format("2006-01-02")
				}
			}
		}
	}

	if path == "" {
		return ""
	}
	name := filepath.Base(path)
	if m := isoDateRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := shortDateRe.FindStringSubmatch(name); m != nil {
		century := "20"
		if m[3] > "50" {
			century = "19"
		}
		return century + m[3] + "-" + m[2] + "-" + m[1]
	}
	return ""
}

// Package parser reads memo bodies written in Markdown: optional YAML
// frontmatter, a title, #tags and [[kind:id]] references to other entities.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	refRe = regexp.MustCompile(`\[\[([a-z]+):([^\]|]+)(?:\|[^\]]*)?\]\]`)
	tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Ref is a reference from a memo to another entity, written [[kind:id]] or
// [[kind:id|label]].
type Ref struct {
	Kind string
	ID   string
}

// Memo holds the parts extracted from a memo body.
type Memo struct {
	Frontmatter map[string]any
	Body        string
	Title       string
	Tags        []string
	Refs        []Ref
}

// Parse splits a memo body into frontmatter and text and extracts its title,
// tags and entity references. Malformed frontmatter is treated as text.
func Parse(data []byte) *Memo {
	fm, body := splitFrontmatter(data)
	return &Memo{
		Frontmatter: fm,
		Body:        body,
		Title:       title(fm, body),
		Tags:        tags(fm, body),
		Refs:        refs(body),
	}
}

func splitFrontmatter(data []byte) (map[string]any, string) {
	const fence = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(fence)) {
		return nil, string(data)
	}
	rest := trimmed[len(fence):]
	end := bytes.Index(rest, []byte("\n"+fence))
	if end < 0 {
		return nil, string(data)
	}

	var fm map[string]any
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, string(data)
	}
	body := strings.TrimLeft(string(rest[end+1+len(fence):]), "\n\r")
	return fm, body
}

// title prefers frontmatter "title", then the first H1 heading, then the
// first non-empty line cut to 80 runes.
func title(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	first := ""
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
		if first == "" && line != "" {
			first = line
		}
	}
	if r := []rune(first); len(r) > 80 {
		return string(r[:80])
	}
	return first
}

func tags(fm map[string]any, body string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	if list, ok := fm["tags"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

func refs(body string) []Ref {
	seen := make(map[Ref]struct{})
	var out []Ref
	for _, m := range refRe.FindAllStringSubmatch(body, -1) {
		r := Ref{Kind: m[1], ID: strings.TrimSpace(m[2])}
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NoCompetitors is rendered in place of an empty competitor list.
const NoCompetitors = "none"

// Vars are the fields available to prompt templates.
type Vars struct {
	ClientName  string
	Industry    string
	Competitors string
}

// NewVars builds template fields for a client. Competitor names are joined
// with ", " in the order given.
func NewVars(clientName, industry string, competitors []string) Vars {
	list := NoCompetitors
	if len(competitors) > 0 {
		list = strings.Join(competitors, ", ")
	}
	return Vars{ClientName: clientName, Industry: industry, Competitors: list}
}

// Rendered is a prompt ready to send.
type Rendered struct {
	Ordinal int
	Key     string
	Text    string
}

// Render executes every prompt in pack order.
func (p *Pack) Render(v Vars) ([]Rendered, error) {
	out := make([]Rendered, len(p.Prompts))
	for i, d := range p.Prompts {
		var sb strings.Builder
		if err := p.templates[i].Execute(&sb, v); err != nil {
			return nil, fmt.Errorf("render prompt %q: %w", d.Key, err)
		}
		out[i] = Rendered{Ordinal: i, Key: d.Key, Text: strings.TrimSpace(sb.String())}
	}
	return out, nil
}

// funcMap is the helper set available to pack templates. Every helper is
// total so that a pack that parses also renders.
func funcMap() template.FuncMap {
	// Casers are stateful, so each call gets its own.
	return template.FuncMap{
		// {{lower .Industry}}
		"lower": func(s string) string { return cases.Lower(language.Und).String(s) },
		// {{title .Industry}}
		"title": func(s string) string { return cases.Title(language.Und).String(s) },
		// truncate limits s to n runes, adding "..." when cut.
		"truncate": func(s string, n int) string {
			if n <= 0 {
				return ""
			}
			r := []rune(s)
			if len(r) <= n {
				return s
			}
			if n > 3 {
				return string(r[:n-3]) + "..."
			}
			return string(r[:n])
		},
		// default returns def when s is blank.
		"default": func(def, s string) string {
			if strings.TrimSpace(s) == "" {
				return def
			}
			return s
		},
	}
}

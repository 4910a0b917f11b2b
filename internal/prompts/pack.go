// Package prompts loads versioned prompt packs and renders their prompts
// for a client.
//
// A pack is static configuration: a version label, a system instruction
// shared by every call, and an ordered list of prompt definitions. The
// position of a definition in the list is its ordinal, which is persisted on
// every response row, so reordering a pack requires bumping its version.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default_pack.yaml
var defaultPackYAML []byte

var validate = validator.New()

// sampleVars is rendered once per template when a pack is loaded.
var sampleVars = NewVars("Client", "Industry", []string{"Competitor"})

// Definition is one prompt in a pack.
type Definition struct {
	// Key is unique within a pack and stable across versions.
	Key string `yaml:"key" validate:"required"`
	// Text is a text/template body; see Vars for the available fields.
	Text string `yaml:"text" validate:"required"`
}

// Pack is a versioned, ordered set of prompts.
type Pack struct {
	Version string       `yaml:"version" validate:"required"`
	System  string       `yaml:"system" validate:"required"`
	Prompts []Definition `yaml:"prompts" validate:"required,min=1,dive"`

	templates []*template.Template
}

// Default returns the embedded prompt pack.
func Default() (*Pack, error) {
	return Parse(bytes.NewReader(defaultPackYAML))
}

// LoadFile reads a pack from a YAML file.
func LoadFile(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompt pack: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("prompt pack %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a pack. Unknown YAML keys are rejected so that
// typos surface at load time rather than as silently empty prompts.
func Parse(r io.Reader) (*Pack, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Pack
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode prompt pack: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pack) validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid prompt pack: %w", err)
	}

	seen := make(map[string]int, len(p.Prompts))
	p.templates = make([]*template.Template, len(p.Prompts))
	for i, d := range p.Prompts {
		if prev, dup := seen[d.Key]; dup {
			return fmt.Errorf("invalid prompt pack: key %q used by prompts %d and %d", d.Key, prev, i)
		}
		seen[d.Key] = i

		tmpl, err := template.New(d.Key).Funcs(funcMap()).Option("missingkey=error").Parse(d.Text)
		if err != nil {
			return fmt.Errorf("invalid prompt pack: prompt %q: %w", d.Key, err)
		}
		// Unknown Vars fields and mistyped helper calls only fail on execute.
		if err := tmpl.Execute(io.Discard, sampleVars); err != nil {
			return fmt.Errorf("invalid prompt pack: prompt %q: %w", d.Key, err)
		}
		p.templates[i] = tmpl
	}
	return nil
}

// Len returns the number of prompts in the pack.
func (p *Pack) Len() int { return len(p.Prompts) }

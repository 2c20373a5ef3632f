// Package promptlib holds the LLM prompt templates used by mbsagent as
// data rather than Go string literals.
package promptlib

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Template is a named system/user prompt pair.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Registry holds the loaded prompt templates, keyed by name.
type Registry struct {
	templates map[string]Template
}

// Default loads the built-in prompt registry shipped with the binary.
func Default() *Registry {
	r, err := load(promptsYAML)
	if err != nil {
		// The embedded file is part of the build; a parse failure here is a
		// build-time defect, not a runtime condition callers can recover from.
		panic(fmt.Sprintf("promptlib: invalid embedded prompts.yaml: %v", err))
	}
	return r
}

// LoadFrom builds a Registry from arbitrary YAML bytes, for callers that
// want to override prompts without recompiling (e.g. prompt A/B testing).
func LoadFrom(data []byte) (*Registry, error) {
	return load(data)
}

func load(data []byte) (*Registry, error) {
	var raw map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing prompt registry: %w", err)
	}
	return &Registry{templates: raw}, nil
}

// Render fills {{key}} placeholders in both the system and user templates
// for name and returns them. Unknown placeholders are left untouched so a
// caller forgetting a substitution fails loudly downstream rather than
// silently dropping text.
func (r *Registry) Render(name string, vars map[string]string) (system, user string, err error) {
	t, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("promptlib: unknown template %q", name)
	}
	return substitute(t.System, vars), substitute(t.User, vars), nil
}

func substitute(tmpl string, vars map[string]string) string {
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

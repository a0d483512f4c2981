// Package prompt loads named prompt templates from a YAML file.
package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

// Templates maps a template name such as "memory_importance" to its text.
type Templates map[string]string

// Load reads a YAML mapping of template names to template strings.
func Load(path string) (Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read prompts %s: %v", memory.ErrConfiguration, path, err)
	}
	return Parse(data)
}

// Parse decodes YAML template data.
func Parse(data []byte) (Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: parse prompts: %v", memory.ErrConfiguration, err)
	}
	if t == nil {
		t = Templates{}
	}
	return t, nil
}

// Get returns the named template after checking it has exactly one content
// placeholder.
func (t Templates) Get(name string) (string, error) {
	tmpl, ok := t[name]
	if !ok {
		return "", fmt.Errorf("%w: prompt template %q not found", memory.ErrConfiguration, name)
	}
	if _, err := memory.RenderPrompt(tmpl, ""); err != nil {
		return "", fmt.Errorf("prompt template %q: %w", name, err)
	}
	return tmpl, nil
}

// Package prompts manages named, versioned prompt templates and renders
// them with per-call variables. Pipeline nodes never build prompt text
// inline; they reference a template by name so knowledge injection can
// evolve without touching control flow.
package prompts

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Template represents a versioned prompt template.
type Template struct {
	Name     string
	Version  string
	Body     string
	compiled *template.Template
}

// Registry holds prompt templates, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register compiles and adds a prompt template. Re-registering a name
// replaces the previous version.
func (r *Registry) Register(name, version, body string) error {
	compiled, err := template.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return fmt.Errorf("compile prompt %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = &Template{
		Name:     name,
		Version:  version,
		Body:     body,
		compiled: compiled,
	}
	return nil
}

// Render renders the named template with the given variables.
func (r *Registry) Render(name string, vars map[string]any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("prompt not registered: %s", name)
	}

	var sb strings.Builder
	if err := tmpl.compiled.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return sb.String(), nil
}

// List returns all registered prompt names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"appkernel/internal/catalog"
)

// Factory mints agent instances from a template set.
type Factory struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewFactory creates a factory seeded with the built-in templates.
func NewFactory() *Factory {
	return &Factory{templates: builtinTemplates()}
}

// Template returns the template with the given name.
func (f *Factory) Template(name string) (Template, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.templates[name]
	return t, ok
}

// Templates returns all registered templates.
func (f *Factory) Templates() []Template {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Template, 0, len(f.templates))
	for _, t := range f.templates {
		out = append(out, t)
	}
	return out
}

// CreateFromTemplate mints a new instance of the named template.
// instanceName defaults to the template name when empty.
func (f *Factory) CreateFromTemplate(name, instanceName string, context map[string]string) (*Instance, error) {
	t, ok := f.Template(name)
	if !ok {
		return nil, fmt.Errorf("unknown agent template %q", name)
	}
	if instanceName == "" {
		instanceName = t.Name
	}

	now := time.Now()
	return &Instance{
		ID:           uuid.New().String(),
		Name:         instanceName,
		TemplateName: t.Name,
		Active:       true,
		Context:      context,
		CreatedAt:    now,
		LastUsedAt:   now,
	}, nil
}

// CreateCustom synthesizes a new template, registers it, and mints an
// instance of it.
func (f *Factory) CreateCustom(name, description string, caps []catalog.Capability, level SecurityLevel, systemPrompt string) (*Instance, error) {
	if name == "" {
		return nil, fmt.Errorf("custom template requires a name")
	}
	if len(caps) == 0 {
		caps = []catalog.Capability{catalog.CapText}
	}
	if level == "" {
		level = SecurityNormal
	}

	f.mu.Lock()
	if _, exists := f.templates[name]; exists {
		f.mu.Unlock()
		return nil, fmt.Errorf("template %q already exists", name)
	}
	f.templates[name] = Template{
		Name:          name,
		Description:   description,
		Capabilities:  caps,
		SecurityLevel: level,
		Version:       "1.0",
		SystemPrompt:  systemPrompt,
	}
	f.mu.Unlock()

	return f.CreateFromTemplate(name, "", nil)
}

// UpdateVersion bumps a template's version. Only the registry's upgrade path
// calls this.
func (f *Factory) UpdateVersion(name, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[name]
	if !ok {
		return fmt.Errorf("unknown agent template %q", name)
	}
	t.Version = version
	f.templates[name] = t
	return nil
}

// Package agent provides the template factory and the lifecycle registry for
// logical agents. The registry owns all instance state; history and memory
// entries reference agents by id only.
package agent

import (
	"time"

	"appkernel/internal/catalog"
)

// SecurityLevel gates what an agent is allowed to touch.
type SecurityLevel string

const (
	SecurityRestricted SecurityLevel = "restricted"
	SecurityNormal     SecurityLevel = "normal"
	SecurityElevated   SecurityLevel = "elevated"
	SecurityAdmin      SecurityLevel = "admin"
)

// Valid reports whether the level is one of the four known values.
func (s SecurityLevel) Valid() bool {
	switch s {
	case SecurityRestricted, SecurityNormal, SecurityElevated, SecurityAdmin:
		return true
	}
	return false
}

// Template declares what a class of agents can do.
type Template struct {
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	Capabilities  []catalog.Capability `json:"capabilities"`
	SecurityLevel SecurityLevel        `json:"security_level"`
	Version       string               `json:"version"`
	SystemPrompt  string               `json:"system_prompt"`
}

// Instance is one live agent minted from a template.
type Instance struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	TemplateName string            `json:"template_name"`
	Active       bool              `json:"active"`
	Context      map[string]string `json:"context,omitempty"`
	TaskCount    int64             `json:"task_count"`
	SuccessCount int64             `json:"success_count"`
	CreatedAt    time.Time         `json:"created_at"`
	LastUsedAt   time.Time         `json:"last_used_at"`
}

// builtinTemplates are the shipped agent classes.
func builtinTemplates() map[string]Template {
	return map[string]Template{
		"code-dev": {
			Name:          "code-dev",
			Description:   "Full-stack code generation and refactoring",
			Capabilities:  []catalog.Capability{catalog.CapText, catalog.CapCode, catalog.CapFunctionCalling},
			SecurityLevel: SecurityElevated,
			Version:       "1.0",
			SystemPrompt:  "You are an expert software developer. Produce complete, working code.",
		},
		"accounting": {
			Name:          "accounting",
			Description:   "Bookkeeping, invoicing, and financial summaries",
			Capabilities:  []catalog.Capability{catalog.CapText},
			SecurityLevel: SecurityRestricted,
			Version:       "1.0",
			SystemPrompt:  "You are a meticulous accounting assistant. Never invent figures.",
		},
		"fitness": {
			Name:          "fitness",
			Description:   "Workout planning and progress tracking",
			Capabilities:  []catalog.Capability{catalog.CapText},
			SecurityLevel: SecurityNormal,
			Version:       "1.0",
			SystemPrompt:  "You are a supportive fitness coach.",
		},
		"legal": {
			Name:          "legal",
			Description:   "Contract drafting assistance and legal research",
			Capabilities:  []catalog.Capability{catalog.CapText},
			SecurityLevel: SecurityRestricted,
			Version:       "1.0",
			SystemPrompt:  "You are a legal research assistant. You do not provide legal advice.",
		},
		"learning": {
			Name:          "learning",
			Description:   "Tutoring and guided explanations",
			Capabilities:  []catalog.Capability{catalog.CapText},
			SecurityLevel: SecurityNormal,
			Version:       "1.0",
			SystemPrompt:  "You are a patient tutor. Explain step by step.",
		},
		"research": {
			Name:          "research",
			Description:   "Literature survey and synthesis",
			Capabilities:  []catalog.Capability{catalog.CapText, catalog.CapVision},
			SecurityLevel: SecurityNormal,
			Version:       "1.0",
			SystemPrompt:  "You are a thorough research assistant. Cite what you rely on.",
		},
	}
}

package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"appkernel/internal/ai"
	"appkernel/internal/budget"
	"appkernel/internal/catalog"
	"appkernel/internal/fallback"
	"appkernel/internal/logging"
	"appkernel/internal/selector"
)

// ModelBackend plans and generates through real models: selection picks the
// candidate chain, the budget engine gates admission, and the fallback
// engine drives the invocation.
type ModelBackend struct {
	sel     *selector.Selector
	fb      *fallback.Engine
	bud     *budget.Engine
	catalog *catalog.Catalog
}

// NewModelBackend wires a model-backed planner and generator.
func NewModelBackend(sel *selector.Selector, fb *fallback.Engine, bud *budget.Engine, cat *catalog.Catalog) *ModelBackend {
	return &ModelBackend{sel: sel, fb: fb, bud: bud, catalog: cat}
}

// Plan asks the best quality model under budget for a file manifest.
// Unparseable output falls back to the default manifest rather than failing
// the generation.
func (m *ModelBackend) Plan(ctx context.Context, req Request) ([]ManifestEntry, error) {
	prompt := fmt.Sprintf(
		`Plan the file structure for a project named %q.
Description: %s
Tech stack: %s

Respond with a JSON array of objects: [{"path": "...", "type": "config|core|models|services|screens|widgets|tests|entry", "description": "..."}].
List 5 to 12 files. JSON only, no prose.`,
		req.Name, req.Description, strings.Join(req.TechStack, ", "))

	res, err := m.invoke(ctx, req, selector.Criteria{
		Strategy:             selector.BestQuality,
		MinQuality:           8,
		RequiredCapabilities: []catalog.Capability{catalog.CapCode},
	}, prompt)
	if err != nil {
		return nil, err
	}

	manifest := parseManifest(res.Content)
	if manifest == nil {
		logging.L().Warn("planner output unparseable, using default manifest",
			zap.String("project_id", req.ProjectID))
		manifest = defaultManifest()
	}
	return manifest, nil
}

// GenerateFile produces the full content of one planned file.
func (m *ModelBackend) GenerateFile(ctx context.Context, req Request, entry ManifestEntry) (string, error) {
	prompt := fmt.Sprintf(
		`Write the complete content of %s for the project %q.
Project description: %s
File purpose: %s

Output only the file content. No markdown fences, no commentary.`,
		entry.Path, req.Name, req.Description, entry.Description)

	res, err := m.invoke(ctx, req, selector.Criteria{
		Strategy:             selector.Balanced,
		MinQuality:           7,
		RequiredCapabilities: []catalog.Capability{catalog.CapCode},
	}, prompt)
	if err != nil {
		return "", err
	}
	return stripCodeFences(res.Content), nil
}

// InvokeAs runs one free-form prompt under a role-specific system prompt,
// with the same admission, chain, and charging as Plan and GenerateFile. The
// team orchestrator drives its agents through this.
func (m *ModelBackend) InvokeAs(ctx context.Context, req Request, system, prompt string) (string, error) {
	res, err := m.invokeWith(ctx, req, selector.Criteria{
		Strategy:             selector.Balanced,
		MinQuality:           7,
		RequiredCapabilities: []catalog.Capability{catalog.CapCode},
	}, system, prompt)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// invoke runs a prompt under the default code generation system prompt.
func (m *ModelBackend) invoke(ctx context.Context, req Request, crit selector.Criteria, prompt string) (*ai.Result, error) {
	return m.invokeWith(ctx, req, crit,
		"You are a code generation engine inside an app builder.", prompt)
}

// invokeWith runs budget admission, builds a candidate chain from the
// selection, executes it, and records the authoritative charge.
func (m *ModelBackend) invokeWith(ctx context.Context, req Request, crit selector.Criteria, system, prompt string) (*ai.Result, error) {
	primary, _ := m.sel.Select(crit)
	chain := m.buildChain(primary, crit)

	if m.bud != nil && req.UserID != "" {
		est, _ := m.catalog.Cost(primary, len(prompt)/4, 4096)
		if err := m.bud.Admit(budget.Estimate{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			ModelID:   primary,
			CostUSD:   est,
		}); err != nil {
			return nil, err
		}
	}

	res, err := m.fb.Execute(ctx, chain, []ai.Message{
		{Role: ai.RoleSystem, Content: system},
		{Role: ai.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	if m.bud != nil && req.UserID != "" {
		cost, _ := m.catalog.Cost(res.ModelUsed, res.TokensIn, res.TokensOut)
		if cerr := m.bud.Record(budget.Charge{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			ModelID:   res.ModelUsed,
			TokensIn:  res.TokensIn,
			TokensOut: res.TokensOut,
			CostUSD:   cost,
		}); cerr != nil {
			logging.L().Warn("failed to record charge", zap.Error(cerr))
		}
	}

	return res, nil
}

// buildChain widens the primary selection with a cheaper and a local
// candidate so the fallback engine always has somewhere to go.
func (m *ModelBackend) buildChain(primary string, crit selector.Criteria) []string {
	chain := []string{primary}

	cheaper := crit
	cheaper.Strategy = selector.CostPerformance
	cheaper.ExcludedProviders = append([]string{}, crit.ExcludedProviders...)
	if ep, ok := m.catalog.Get(primary); ok {
		cheaper.ExcludedProviders = append(cheaper.ExcludedProviders, ep.Provider)
	}
	if id, ok := m.sel.Select(cheaper); ok && id != primary {
		chain = append(chain, id)
	}

	if _, ok := m.catalog.Get("local:ollama"); ok && !contains(chain, "local:ollama") {
		chain = append(chain, "local:ollama")
	}
	return chain
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

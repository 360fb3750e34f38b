// Package team is the parallel variant of the generation protocol: files are
// grouped, fanned out to role-specialized agents, then reviewed and fixed in
// place.
package team

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"appkernel/internal/generation"
	"appkernel/internal/logging"
	"appkernel/internal/memory"
	"appkernel/internal/metrics"
)

// maxParallel bounds concurrent file generations across all groups.
const maxParallel = 4

// RoleInvoker runs a prompt as a named agent role.
type RoleInvoker interface {
	InvokeAs(ctx context.Context, req generation.Request, system, prompt string) (string, error)
}

// roles maps each file group to its primary and reviewing agent.
type rolePair struct {
	Primary   string
	Secondary string
}

var groupRoles = map[string]rolePair{
	"config":   {"architect", "packager"},
	"core":     {"architect", "coder"},
	"models":   {"backend", "architect"},
	"services": {"backend", "coder"},
	"screens":  {"frontend", "designer"},
	"widgets":  {"frontend", "designer"},
	"tests":    {"testing", "reviewer"},
	"backend":  {"backend", "architect"},
	"frontend": {"frontend", "designer"},
}

// rolePrompts are the per-role system prompts.
var rolePrompts = map[string]string{
	"architect": "You are the software architect. You design structure and configuration.",
	"packager":  "You are the build and packaging specialist.",
	"coder":     "You are a senior implementer. You write clean, working code.",
	"backend":   "You are the backend developer. You own models, services, and data flow.",
	"frontend":  "You are the frontend developer. You build screens and user interaction.",
	"designer":  "You are the UI designer. You care about layout, spacing, and polish.",
	"testing":   "You are the test engineer. You write thorough, readable tests.",
	"reviewer":  "You are the code reviewer. You find real defects, not style nits.",
	"fixer":     "You are the fixer. You repair the defects the reviewer found, changing nothing else.",
}

// FileResult is one produced file after the review pass.
type FileResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Agent   string `json:"agent"` // who authored the final content
	Fixed   bool   `json:"fixed"`
}

// Verdict is the reviewer's JSON answer.
type Verdict struct {
	HasErrors bool     `json:"has_errors"`
	Errors    []string `json:"errors,omitempty"`
	FixedCode string   `json:"fixed_code,omitempty"`
}

// Orchestrator drives a team build. One active build per project.
type Orchestrator struct {
	mu      sync.Mutex
	running map[string]bool

	planner generation.Planner
	inv     RoleInvoker
	writer  generation.FileWriter
	bus     *generation.Broadcaster
	store   *memory.Store // optional
}

// New creates a team orchestrator.
func New(planner generation.Planner, inv RoleInvoker, writer generation.FileWriter, bus *generation.Broadcaster, store *memory.Store) *Orchestrator {
	return &Orchestrator{
		running: make(map[string]bool),
		planner: planner,
		inv:     inv,
		writer:  writer,
		bus:     bus,
		store:   store,
	}
}

// Run executes the team protocol synchronously: plan, group, fan out, review.
// A second Run for the same project while one is active is rejected.
func (o *Orchestrator) Run(ctx context.Context, req generation.Request) ([]FileResult, error) {
	o.mu.Lock()
	if o.running[req.ProjectID] {
		o.mu.Unlock()
		return nil, fmt.Errorf("team build already running for project %q", req.ProjectID)
	}
	o.running[req.ProjectID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, req.ProjectID)
		o.mu.Unlock()
	}()

	manifest, err := o.planner.Plan(ctx, req)
	if err != nil {
		metrics.Get().TeamBuildsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("team planning failed: %w", err)
	}

	produced := o.fanOut(ctx, req, manifest)
	if err := o.reviewPass(ctx, req, produced); err != nil {
		metrics.Get().TeamBuildsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Get().TeamBuildsTotal.WithLabelValues("finished").Inc()
	return produced, nil
}

// IsRunning reports whether a team build is active for the project.
func (o *Orchestrator) IsRunning(projectID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[projectID]
}

// fanOut generates every manifest entry concurrently, bounded by
// maxParallel. Per-file failures are logged and excluded.
func (o *Orchestrator) fanOut(ctx context.Context, req generation.Request, manifest []generation.ManifestEntry) []FileResult {
	var mu sync.Mutex
	results := make([]FileResult, 0, len(manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for _, entry := range manifest {
		entry := entry
		g.Go(func() error {
			role := groupRoles[groupFor(entry)].Primary
			content, err := o.generateOne(gctx, req, entry, role)
			if err != nil {
				logging.L().Warn("file generation failed, excluding from result",
					zap.String("path", entry.Path),
					zap.String("agent", role),
					zap.Error(err))
				o.trackAction(role, "generate_file", req.ProjectID, false)
				return nil
			}
			o.trackAction(role, "generate_file", req.ProjectID, true)

			mu.Lock()
			results = append(results, FileResult{Path: entry.Path, Content: content, Agent: role})
			mu.Unlock()

			o.bus.Publish(generation.Event{
				Type: generation.EventFileCreated, ProjectID: req.ProjectID,
				Path: entry.Path, Content: content,
				Language: languageOf(entry.Path), Agent: role,
			})
			return nil
		})
	}
	g.Wait()
	return results
}

func (o *Orchestrator) generateOne(ctx context.Context, req generation.Request, entry generation.ManifestEntry, role string) (string, error) {
	prompt := fmt.Sprintf(
		`Write the complete content of %s for the project %q.
Project description: %s
File purpose: %s

Output only the file content. No markdown fences, no commentary.`,
		entry.Path, req.Name, req.Description, entry.Description)

	content, err := o.inv.InvokeAs(ctx, req, rolePrompts[role], prompt)
	if err != nil {
		return "", err
	}
	if err := o.writer.Write(req.ProjectID, entry.Path, content); err != nil {
		return "", err
	}
	metrics.Get().RecordFileWritten("team")
	return content, nil
}

// reviewPass asks the group's reviewer for a verdict on every produced file
// and rewrites defective ones in place. The result set never grows or
// shrinks here.
func (o *Orchestrator) reviewPass(ctx context.Context, req generation.Request, produced []FileResult) error {
	for i := range produced {
		file := &produced[i]
		reviewer := groupRoles[groupFor(generation.ManifestEntry{Path: file.Path})].Secondary
		if reviewer == "" {
			reviewer = "reviewer"
		}

		verdict, err := o.review(ctx, req, reviewer, file.Path, file.Content)
		if err != nil {
			logging.L().Warn("review failed, keeping original",
				zap.String("path", file.Path), zap.Error(err))
			continue
		}
		if !verdict.HasErrors {
			o.trackAction(reviewer, "review_file", req.ProjectID, true)
			continue
		}
		o.trackAction(reviewer, "review_file", req.ProjectID, false)

		fixed := verdict.FixedCode
		if fixed == "" {
			fixed, err = o.fix(ctx, req, file.Path, file.Content, verdict.Errors)
			if err != nil {
				logging.L().Warn("fix failed, keeping original",
					zap.String("path", file.Path), zap.Error(err))
				continue
			}
		}

		if err := o.writer.Write(req.ProjectID, file.Path, fixed); err != nil {
			return fmt.Errorf("re-persisting %s: %w", file.Path, err)
		}
		file.Content = fixed
		file.Agent = "fixer"
		file.Fixed = true
		o.trackAction("fixer", "fix_file", req.ProjectID, true)
		metrics.Get().TeamFixesTotal.Inc()

		o.bus.Publish(generation.Event{
			Type: generation.EventFileCreated, ProjectID: req.ProjectID,
			Path: file.Path, Content: fixed,
			Language: languageOf(file.Path), Agent: "fixer",
		})
	}
	return nil
}

func (o *Orchestrator) review(ctx context.Context, req generation.Request, role, path, content string) (Verdict, error) {
	prompt := fmt.Sprintf(
		`Review this file for real defects.

File: %s
---
%s
---

Respond with JSON only: {"has_errors": bool, "errors": ["..."], "fixed_code": "full corrected file, only when has_errors"}`,
		path, content)

	raw, err := o.inv.InvokeAs(ctx, req, rolePrompts[role], prompt)
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict(raw)
}

func (o *Orchestrator) fix(ctx context.Context, req generation.Request, path, content string, errs []string) (string, error) {
	prompt := fmt.Sprintf(
		`Fix these defects in %s:
- %s

Current content:
---
%s
---

Output only the corrected file content.`,
		path, strings.Join(errs, "\n- "), content)

	return o.inv.InvokeAs(ctx, req, rolePrompts["fixer"], prompt)
}

// parseVerdict tolerates fenced output around the reviewer's JSON.
func parseVerdict(raw string) (Verdict, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw, "\n"); idx >= 0 {
			raw = raw[idx+1:]
		}
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, fmt.Errorf("unparseable review verdict: %w", err)
	}
	return v, nil
}

func (o *Orchestrator) trackAction(agentID, action, projectID string, success bool) {
	if o.store == nil {
		return
	}
	if err := o.store.TrackAgentAction(agentID, action, projectID, success, nil); err != nil {
		logging.L().Warn("failed to track agent action", zap.Error(err))
	}
}

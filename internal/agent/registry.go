package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"appkernel/internal/logging"
	"appkernel/internal/metrics"
)

// Status is an agent instance lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusUpgrading  Status = "upgrading"
	StatusDeprecated Status = "deprecated"
	StatusError      Status = "error"
	StatusRemoved    Status = "removed"
)

// allowedTransitions is the lifecycle table. Removed is terminal.
var allowedTransitions = map[Status][]Status{
	StatusCreated:    {StatusActive, StatusRemoved},
	StatusActive:     {StatusPaused, StatusUpgrading, StatusDeprecated, StatusRemoved},
	StatusPaused:     {StatusActive, StatusRemoved},
	StatusUpgrading:  {StatusActive, StatusError, StatusRemoved},
	StatusDeprecated: {StatusRemoved},
	StatusError:      {StatusActive, StatusRemoved},
	StatusRemoved:    {},
}

// HistoryEntry is one recorded lifecycle action. Append-only.
type HistoryEntry struct {
	AgentID string    `json:"agent_id"`
	Action  string    `json:"action"`
	From    Status    `json:"from,omitempty"`
	To      Status    `json:"to,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Version is one template version an agent has carried.
type Version struct {
	Version    string    `json:"version"`
	Changes    []string  `json:"changes,omitempty"`
	Deprecated bool      `json:"deprecated"`
	At         time.Time `json:"at"`
}

// Registry owns all agent instance state and enforces lifecycle transitions.
type Registry struct {
	mu        sync.Mutex
	factory   *Factory
	instances map[string]*Instance
	status    map[string]Status
	versions  map[string][]Version
	history   map[string][]HistoryEntry
	statePath string
}

// snapshot is the persisted registry document.
type snapshot struct {
	Instances map[string]*Instance      `json:"instances"`
	Status    map[string]Status         `json:"status"`
	Versions  map[string][]Version      `json:"versions"`
	History   map[string][]HistoryEntry `json:"history"`
	SavedAt   time.Time                 `json:"saved_at"`
}

// NewRegistry creates a registry persisting under stateDir.
func NewRegistry(factory *Factory, stateDir string) *Registry {
	return &Registry{
		factory:   factory,
		instances: make(map[string]*Instance),
		status:    make(map[string]Status),
		versions:  make(map[string][]Version),
		history:   make(map[string][]HistoryEntry),
		statePath: filepath.Join(stateDir, "agents", "agent_registry.json"),
	}
}

// CreateFromTemplate mints an instance and registers it active. Creation
// seeds the version list with the template's current version.
func (r *Registry) CreateFromTemplate(templateName, instanceName string, context map[string]string) (*Instance, error) {
	inst, err := r.factory.CreateFromTemplate(templateName, instanceName, context)
	if err != nil {
		return nil, err
	}
	t, _ := r.factory.Template(templateName)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(inst, t.Version)
	return inst, nil
}

// CreateCustom synthesizes a template and registers an instance of it.
func (r *Registry) CreateCustom(name, description string, level SecurityLevel, systemPrompt string) (*Instance, error) {
	inst, err := r.factory.CreateCustom(name, description, nil, level, systemPrompt)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(inst, "1.0")
	return inst, nil
}

// register inserts a freshly minted instance. Caller holds the lock.
func (r *Registry) register(inst *Instance, version string) {
	r.instances[inst.ID] = inst
	r.status[inst.ID] = StatusActive
	r.versions[inst.ID] = []Version{{Version: version, At: time.Now()}}
	r.history[inst.ID] = []HistoryEntry{{
		AgentID: inst.ID,
		Action:  "created",
		To:      StatusActive,
		Detail:  inst.TemplateName,
		At:      time.Now(),
	}}
}

// Templates lists the factory's known templates.
func (r *Registry) Templates() []Template {
	return r.factory.Templates()
}

// Get returns the instance and its status.
func (r *Registry) Get(id string) (*Instance, Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, "", false
	}
	return inst, r.status[id], true
}

// List returns all non-removed instances.
func (r *Registry) List() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Instance, 0, len(r.instances))
	for id, inst := range r.instances {
		if r.status[id] != StatusRemoved {
			out = append(out, inst)
		}
	}
	return out
}

// Status returns the lifecycle state of an instance.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.status[id]
	return s, ok
}

// History returns a copy of the instance's lifecycle history.
func (r *Registry) History(id string) []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.history[id]
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}

// Versions returns a copy of the instance's version list.
func (r *Registry) Versions(id string) []Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.versions[id]
	out := make([]Version, len(v))
	copy(out, v)
	return out
}

// Pause suspends an active instance.
func (r *Registry) Pause(id string) error {
	return r.transition(id, StatusPaused, "paused", "")
}

// Resume reactivates a paused instance.
func (r *Registry) Resume(id string) error {
	return r.transition(id, StatusActive, "resumed", "")
}

// Deprecate marks an instance end-of-life. Deprecated instances can only be
// removed.
func (r *Registry) Deprecate(id string) error {
	return r.transition(id, StatusDeprecated, "deprecated", "")
}

// Remove tombstones the instance. Terminal.
func (r *Registry) Remove(id string) error {
	return r.transition(id, StatusRemoved, "removed", "")
}

// Reset recovers an errored instance back to active.
func (r *Registry) Reset(id string) error {
	return r.transition(id, StatusActive, "reset", "")
}

// Upgrade bumps the template version and appends a version record. The
// instance passes through upgrading and lands back on active; the history
// gains a single upgraded entry.
func (r *Registry) Upgrade(id, newVersion string, changes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("unknown agent %q", id)
	}
	cur := r.status[id]
	if !transitionAllowed(cur, StatusUpgrading) {
		return fmt.Errorf("agent %s: cannot upgrade from %s", id, cur)
	}

	if err := r.factory.UpdateVersion(inst.TemplateName, newVersion); err != nil {
		r.status[id] = StatusError
		r.history[id] = append(r.history[id], HistoryEntry{
			AgentID: id, Action: "upgrade_failed", From: cur, To: StatusError,
			Detail: err.Error(), At: time.Now(),
		})
		return err
	}

	r.versions[id] = append(r.versions[id], Version{
		Version: newVersion,
		Changes: changes,
		At:      time.Now(),
	})
	r.status[id] = StatusActive
	r.history[id] = append(r.history[id], HistoryEntry{
		AgentID: id, Action: "upgraded", From: cur, To: StatusActive,
		Detail: newVersion, At: time.Now(),
	})
	return nil
}

// RecordTask updates an instance's usage stats.
func (r *Registry) RecordTask(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return
	}
	inst.TaskCount++
	if success {
		inst.SuccessCount++
	}
	inst.LastUsedAt = time.Now()
	metrics.Get().RecordAgentTask(inst.TemplateName, success)
}

func (r *Registry) transition(id string, to Status, action, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.status[id]
	if !ok {
		return fmt.Errorf("unknown agent %q", id)
	}
	if !transitionAllowed(cur, to) {
		return fmt.Errorf("agent %s: transition %s -> %s not allowed", id, cur, to)
	}

	r.status[id] = to
	if inst := r.instances[id]; inst != nil {
		inst.Active = to == StatusActive
	}
	r.history[id] = append(r.history[id], HistoryEntry{
		AgentID: id, Action: action, From: cur, To: to, Detail: detail, At: time.Now(),
	})
	return nil
}

func transitionAllowed(from, to Status) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Save serializes every non-removed instance to a single JSON document.
// The write is atomic via rename.
func (r *Registry) Save() error {
	r.mu.Lock()
	snap := snapshot{
		Instances: make(map[string]*Instance),
		Status:    make(map[string]Status),
		Versions:  make(map[string][]Version),
		History:   make(map[string][]HistoryEntry),
		SavedAt:   time.Now(),
	}
	for id, inst := range r.instances {
		if r.status[id] == StatusRemoved {
			continue
		}
		snap.Instances[id] = inst
		snap.Status[id] = r.status[id]
		snap.Versions[id] = r.versions[id]
		snap.History[id] = r.history[id]
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.statePath), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp := r.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry snapshot: %w", err)
	}
	if err := os.Rename(tmp, r.statePath); err != nil {
		return fmt.Errorf("failed to commit registry snapshot: %w", err)
	}

	logging.L().Info("agent registry saved",
		zap.Int("instances", len(snap.Instances)),
		zap.String("path", r.statePath))
	return nil
}

// Load reconstructs status, history, and versions from disk. Instances whose
// template no longer exists are dropped with a warning. A missing snapshot
// file is not an error.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read registry snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse registry snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, inst := range snap.Instances {
		if _, ok := r.factory.Template(inst.TemplateName); !ok {
			logging.L().Warn("dropping agent with unknown template",
				zap.String("agent_id", id),
				zap.String("template", inst.TemplateName))
			continue
		}
		r.instances[id] = inst
		r.status[id] = snap.Status[id]
		r.versions[id] = snap.Versions[id]
		r.history[id] = snap.History[id]
	}
	return nil
}

// Package memory is the durable substrate under the kernel: projects, agent
// action history, user preferences, and abandoned tasks. Storage is a local
// relational database; a per-key cache fronts reads.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"appkernel/internal/logging"
	"appkernel/internal/metrics"
)

// Project is one tracked build project.
type Project struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	Name             string    `json:"name"`
	Path             string    `json:"path"`
	CreatedAt        time.Time `json:"created_at"`
	LastActive       time.Time `gorm:"index" json:"last_active"`
	TechStack        string    `json:"tech_stack"`  // json array
	AgentsUsed       string    `json:"agents_used"` // json array
	CompletionStatus string    `json:"completion_status"`
	Notes            string    `json:"notes"`
}

// AgentMemory is one recorded agent action. Append-only.
type AgentMemory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AgentID   string    `gorm:"index" json:"agent_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	ProjectID string    `gorm:"index" json:"project_id"`
	Success   bool      `json:"success"`
	Context   string    `json:"context"` // json object
}

// UserPreference is a last-writer-wins key/value pair.
type UserPreference struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"` // json
	UpdatedAt time.Time `json:"updated_at"`
}

// AbandonedTask records unfinished work surfaced on session resume.
type AbandonedTask struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Description string    `json:"description"`
	Context     string    `json:"context"` // json object
	AbandonedAt time.Time `json:"abandoned_at"`
	ProjectID   string    `gorm:"index" json:"project_id"`
	ResumeHint  string    `json:"resume_hint"`
	Resolved    bool      `gorm:"index" json:"resolved"`
}

const bootProjectCount = 20

// Store is the memory substrate. Construct once at process start and pass by
// reference.
type Store struct {
	db    *gorm.DB
	cache Cache
}

// NewStore migrates the schema and warms the cache with the most recently
// active projects and all preferences.
func NewStore(db *gorm.DB, cache Cache) (*Store, error) {
	if err := db.AutoMigrate(&Project{}, &AgentMemory{}, &UserPreference{}, &AbandonedTask{}); err != nil {
		return nil, fmt.Errorf("failed to migrate memory schema: %w", err)
	}
	s := &Store{db: db, cache: cache}
	s.warmCache()
	return s, nil
}

func (s *Store) warmCache() {
	ctx := context.Background()

	var projects []Project
	if err := s.db.Order("last_active desc").Limit(bootProjectCount).Find(&projects).Error; err == nil {
		for _, p := range projects {
			s.cacheProject(ctx, p)
		}
	}

	var prefs []UserPreference
	if err := s.db.Find(&prefs).Error; err == nil {
		for _, p := range prefs {
			s.cache.Set(ctx, prefKey(p.Key), p.Value)
		}
	}

	logging.L().Info("memory cache warmed",
		zap.Int("projects", len(projects)))
}

// AddProject inserts or replaces a project and writes through the cache.
func (s *Store) AddProject(ctx context.Context, p Project) error {
	if p.ID == "" {
		return errors.New("project requires an id")
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastActive.IsZero() {
		p.LastActive = now
	}

	if err := s.db.Save(&p).Error; err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	s.cacheProject(ctx, p)
	return nil
}

// GetProject reads a project, trying the cache first.
func (s *Store) GetProject(ctx context.Context, id string) (Project, bool) {
	if raw, ok := s.cache.Get(ctx, projectKey(id)); ok {
		var p Project
		if json.Unmarshal([]byte(raw), &p) == nil {
			metrics.Get().RecordCacheOperation("projects", true)
			return p, true
		}
	}
	metrics.Get().RecordCacheOperation("projects", false)

	var p Project
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		return Project{}, false
	}
	s.cacheProject(ctx, p)
	return p, true
}

// GetRecentProjects returns up to limit projects ordered by activity.
func (s *Store) GetRecentProjects(limit int) ([]Project, error) {
	if limit <= 0 {
		limit = bootProjectCount
	}
	var projects []Project
	if err := s.db.Order("last_active desc").Limit(limit).Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectActivity bumps last_active and invalidates the cache entry.
func (s *Store) UpdateProjectActivity(ctx context.Context, id string) error {
	res := s.db.Model(&Project{}).Where("id = ?", id).Update("last_active", time.Now())
	if res.Error != nil {
		return fmt.Errorf("failed to update project activity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("unknown project %q", id)
	}
	s.cache.Delete(ctx, projectKey(id))
	return nil
}

// TrackAgentAction appends to the agent memory. Entries are never deleted.
func (s *Store) TrackAgentAction(agentID, action, projectID string, success bool, context map[string]any) error {
	entry := AgentMemory{
		AgentID:   agentID,
		Action:    action,
		Timestamp: time.Now(),
		ProjectID: projectID,
		Success:   success,
		Context:   marshalJSON(context),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to track agent action: %w", err)
	}
	return nil
}

// AgentActions returns the recorded actions for an agent, newest first.
func (s *Store) AgentActions(agentID string, limit int) ([]AgentMemory, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []AgentMemory
	if err := s.db.Where("agent_id = ?", agentID).Order("timestamp desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read agent actions: %w", err)
	}
	return entries, nil
}

// AgentSuccessRate computes the fraction of successful actions for an agent.
// The reviewer pass uses it to weigh verdicts. Returns 1.0 for agents with no
// history.
func (s *Store) AgentSuccessRate(agentID string) float64 {
	var total, successes int64
	s.db.Model(&AgentMemory{}).Where("agent_id = ?", agentID).Count(&total)
	if total == 0 {
		return 1.0
	}
	s.db.Model(&AgentMemory{}).Where("agent_id = ? AND success = ?", agentID, true).Count(&successes)
	return float64(successes) / float64(total)
}

// MarkAbandoned records unfinished work. id is minted when empty.
func (s *Store) MarkAbandoned(description, projectID, resumeHint string, context map[string]any) (string, error) {
	task := AbandonedTask{
		ID:          uuid.New().String(),
		Description: description,
		Context:     marshalJSON(context),
		AbandonedAt: time.Now(),
		ProjectID:   projectID,
		ResumeHint:  resumeHint,
	}
	if err := s.db.Create(&task).Error; err != nil {
		return "", fmt.Errorf("failed to mark task abandoned: %w", err)
	}
	return task.ID, nil
}

// GetAbandonedTasks lists unresolved tasks, optionally scoped to a project.
func (s *Store) GetAbandonedTasks(projectID string) ([]AbandonedTask, error) {
	q := s.db.Where("resolved = ?", false)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var tasks []AbandonedTask
	if err := q.Order("abandoned_at desc").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list abandoned tasks: %w", err)
	}
	return tasks, nil
}

// ResolveAbandonedTask marks a task done.
func (s *Store) ResolveAbandonedTask(id string) error {
	res := s.db.Model(&AbandonedTask{}).Where("id = ?", id).Update("resolved", true)
	if res.Error != nil {
		return fmt.Errorf("failed to resolve task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("unknown abandoned task %q", id)
	}
	return nil
}

// SetPreference stores a preference value. Last writer wins.
func (s *Store) SetPreference(ctx context.Context, key string, value any) error {
	raw := marshalJSON(value)
	pref := UserPreference{Key: key, Value: raw, UpdatedAt: time.Now()}
	if err := s.db.Save(&pref).Error; err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	s.cache.Set(ctx, prefKey(key), raw)
	return nil
}

// GetPreference reads a preference into out, returning fallback semantics:
// ok=false means the key was absent and out is untouched.
func (s *Store) GetPreference(ctx context.Context, key string, out any) bool {
	if raw, ok := s.cache.Get(ctx, prefKey(key)); ok {
		if json.Unmarshal([]byte(raw), out) == nil {
			metrics.Get().RecordCacheOperation("preferences", true)
			return true
		}
	}
	metrics.Get().RecordCacheOperation("preferences", false)

	var pref UserPreference
	if err := s.db.First(&pref, "key = ?", key).Error; err != nil {
		return false
	}
	s.cache.Set(ctx, prefKey(key), pref.Value)
	return json.Unmarshal([]byte(pref.Value), out) == nil
}

func (s *Store) cacheProject(ctx context.Context, p Project) {
	if raw, err := json.Marshal(p); err == nil {
		s.cache.Set(ctx, projectKey(p.ID), string(raw))
	}
}

func projectKey(id string) string { return "project:" + id }
func prefKey(key string) string   { return "pref:" + key }

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

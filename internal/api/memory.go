package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"appkernel/internal/memory"
)

// RecentProjects returns projects ordered by activity.
func (h *Handler) RecentProjects(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	projects, err := h.Store.GetRecentProjects(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	ok(c, projects)
}

// AddProject records a new tracked project.
func (h *Handler) AddProject(c *gin.Context) {
	var p memory.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid project payload")
		return
	}
	if p.ID == "" || p.Name == "" {
		badRequest(c, "id and name are required")
		return
	}

	if err := h.Store.AddProject(c.Request.Context(), p); err != nil {
		fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: p})
}

// GetProject returns one project by id.
func (h *Handler) GetProject(c *gin.Context) {
	p, found := h.Store.GetProject(c.Request.Context(), c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, "UNKNOWN_PROJECT", "project not found")
		return
	}
	ok(c, p)
}

// TouchProject bumps a project's activity timestamp.
func (h *Handler) TouchProject(c *gin.Context) {
	id := c.Param("id")
	if err := h.Store.UpdateProjectActivity(c.Request.Context(), id); err != nil {
		fail(c, http.StatusNotFound, "UNKNOWN_PROJECT", err.Error())
		return
	}
	okMessage(c, gin.H{"id": id}, "activity updated")
}

// TrackActionRequest records one agent action outcome.
type TrackActionRequest struct {
	AgentID   string         `json:"agent_id" binding:"required"`
	Action    string         `json:"action" binding:"required"`
	ProjectID string         `json:"project_id,omitempty"`
	Success   bool           `json:"success"`
	Context   map[string]any `json:"context,omitempty"`
}

// TrackAction appends to the agent action history.
func (h *Handler) TrackAction(c *gin.Context) {
	var req TrackActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "agent_id and action are required")
		return
	}

	if err := h.Store.TrackAgentAction(req.AgentID, req.Action, req.ProjectID, req.Success, req.Context); err != nil {
		fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, StandardResponse{Success: true})
}

// AgentActions returns recent actions and the success rate for an agent.
func (h *Handler) AgentActions(c *gin.Context) {
	agentID := c.Param("id")

	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	actions, err := h.Store.AgentActions(agentID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	ok(c, gin.H{
		"actions":      actions,
		"success_rate": h.Store.AgentSuccessRate(agentID),
	})
}

// GetPreference returns a stored preference value.
func (h *Handler) GetPreference(c *gin.Context) {
	key := c.Param("key")
	var value json.RawMessage
	if !h.Store.GetPreference(c.Request.Context(), key, &value) {
		fail(c, http.StatusNotFound, "UNKNOWN_PREFERENCE", "preference not set")
		return
	}
	ok(c, gin.H{"key": key, "value": value})
}

// SetPreferenceRequest stores a preference value under a key.
type SetPreferenceRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// SetPreference stores a preference. Last writer wins.
func (h *Handler) SetPreference(c *gin.Context) {
	var req SetPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "value is required")
		return
	}

	key := c.Param("key")
	if err := h.Store.SetPreference(c.Request.Context(), key, req.Value); err != nil {
		fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	okMessage(c, gin.H{"key": key}, "preference stored")
}

// AbandonedTasks lists unresolved abandoned tasks, optionally by project.
func (h *Handler) AbandonedTasks(c *gin.Context) {
	tasks, err := h.Store.GetAbandonedTasks(c.Query("project_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	ok(c, tasks)
}

// MarkAbandonedRequest records a task the user walked away from.
type MarkAbandonedRequest struct {
	Description string         `json:"description" binding:"required"`
	ProjectID   string         `json:"project_id,omitempty"`
	ResumeHint  string         `json:"resume_hint,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// MarkAbandoned records an abandoned task for later resumption.
func (h *Handler) MarkAbandoned(c *gin.Context) {
	var req MarkAbandonedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "description is required")
		return
	}

	id, err := h.Store.MarkAbandoned(req.Description, req.ProjectID, req.ResumeHint, req.Context)
	if err != nil {
		fail(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: gin.H{"id": id}})
}

// ResolveAbandoned marks an abandoned task done.
func (h *Handler) ResolveAbandoned(c *gin.Context) {
	id := c.Param("id")
	if err := h.Store.ResolveAbandonedTask(id); err != nil {
		fail(c, http.StatusNotFound, "UNKNOWN_TASK", err.Error())
		return
	}
	okMessage(c, gin.H{"id": id}, "task resolved")
}

package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"appkernel/internal/agent"
)

// agentView is the instance plus its lifecycle status.
type agentView struct {
	*agent.Instance
	Status agent.Status `json:"status"`
}

// ListAgents returns every registered instance with its status.
func (h *Handler) ListAgents(c *gin.Context) {
	instances := h.Agents.List()
	out := make([]agentView, 0, len(instances))
	for _, inst := range instances {
		status, _ := h.Agents.Status(inst.ID)
		out = append(out, agentView{Instance: inst, Status: status})
	}
	ok(c, out)
}

// ListTemplates returns the shipped agent templates.
func (h *Handler) ListTemplates(c *gin.Context) {
	ok(c, h.Agents.Templates())
}

// CreateAgentRequest mints an instance from a named template.
type CreateAgentRequest struct {
	Template string            `json:"template" binding:"required"`
	Name     string            `json:"name" binding:"required"`
	Context  map[string]string `json:"context,omitempty"`
}

// CreateAgent mints an instance from a template.
func (h *Handler) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "template and name are required")
		return
	}

	inst, err := h.Agents.CreateFromTemplate(req.Template, req.Name, req.Context)
	if err != nil {
		fail(c, http.StatusBadRequest, "CREATE_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: inst})
}

// CreateCustomAgentRequest registers a one-off agent class and instance.
type CreateCustomAgentRequest struct {
	Name          string `json:"name" binding:"required"`
	Description   string `json:"description"`
	SecurityLevel string `json:"security_level,omitempty"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
}

// CreateCustomAgent registers a custom template and mints an instance.
func (h *Handler) CreateCustomAgent(c *gin.Context) {
	var req CreateCustomAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}

	level := agent.SecurityLevel(req.SecurityLevel)
	if level == "" {
		level = agent.SecurityNormal
	}
	if !level.Valid() {
		badRequest(c, "security_level must be restricted, normal, elevated, or admin")
		return
	}

	inst, err := h.Agents.CreateCustom(req.Name, req.Description, level, req.SystemPrompt)
	if err != nil {
		fail(c, http.StatusBadRequest, "CREATE_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: inst})
}

// GetAgent returns one instance with its status.
func (h *Handler) GetAgent(c *gin.Context) {
	inst, status, found := h.Agents.Get(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, "UNKNOWN_AGENT", "agent not found")
		return
	}
	ok(c, agentView{Instance: inst, Status: status})
}

// AgentHistory returns the append-only lifecycle ledger.
func (h *Handler) AgentHistory(c *gin.Context) {
	ok(c, h.Agents.History(c.Param("id")))
}

// AgentVersions returns the version trail.
func (h *Handler) AgentVersions(c *gin.Context) {
	ok(c, h.Agents.Versions(c.Param("id")))
}

// PauseAgent transitions the instance to paused.
func (h *Handler) PauseAgent(c *gin.Context) {
	h.lifecycle(c, h.Agents.Pause, "paused")
}

// ResumeAgent transitions the instance back to active.
func (h *Handler) ResumeAgent(c *gin.Context) {
	h.lifecycle(c, h.Agents.Resume, "resumed")
}

// DeprecateAgent retires the instance.
func (h *Handler) DeprecateAgent(c *gin.Context) {
	h.lifecycle(c, h.Agents.Deprecate, "deprecated")
}

// RemoveAgent unregisters the instance. Removal is terminal.
func (h *Handler) RemoveAgent(c *gin.Context) {
	h.lifecycle(c, h.Agents.Remove, "removed")
}

// UpgradeAgentRequest moves an instance to a new template version.
type UpgradeAgentRequest struct {
	Version string   `json:"version" binding:"required"`
	Changes []string `json:"changes,omitempty"`
}

// UpgradeAgent runs the upgrade transition.
func (h *Handler) UpgradeAgent(c *gin.Context) {
	var req UpgradeAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "version is required")
		return
	}

	id := c.Param("id")
	if err := h.Agents.Upgrade(id, req.Version, req.Changes); err != nil {
		h.lifecycleError(c, err)
		return
	}
	okMessage(c, gin.H{"id": id, "version": req.Version}, "agent upgraded")
}

func (h *Handler) lifecycle(c *gin.Context, op func(string) error, verb string) {
	id := c.Param("id")
	if err := op(id); err != nil {
		h.lifecycleError(c, err)
		return
	}
	okMessage(c, gin.H{"id": id}, "agent "+verb)
}

func (h *Handler) lifecycleError(c *gin.Context, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unknown agent"):
		fail(c, http.StatusNotFound, "UNKNOWN_AGENT", msg)
	case strings.Contains(msg, "not allowed"):
		fail(c, http.StatusConflict, "ILLEGAL_TRANSITION", msg)
	default:
		fail(c, http.StatusBadRequest, "LIFECYCLE_ERROR", msg)
	}
}

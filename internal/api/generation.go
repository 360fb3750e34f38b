package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"appkernel/internal/generation"
)

// StartGenerationRequest kicks off a live project build.
type StartGenerationRequest struct {
	ProjectID   string   `json:"project_id" binding:"required"`
	ProjectName string   `json:"project_name" binding:"required"`
	Platform    string   `json:"platform,omitempty"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

func (r StartGenerationRequest) toRequest() generation.Request {
	stack := r.Features
	if r.Platform != "" {
		stack = append([]string{r.Platform}, stack...)
	}
	return generation.Request{
		ProjectID:   r.ProjectID,
		Name:        r.ProjectName,
		Description: r.Description,
		TechStack:   stack,
		UserID:      r.UserID,
		SessionID:   r.SessionID,
	}
}

// StartGeneration starts the solo generation protocol. Answers immediately;
// progress flows over the event stream.
func (h *Handler) StartGeneration(c *gin.Context) {
	var req StartGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "project_id and project_name are required")
		return
	}

	res := h.Engine.Start(req.toRequest())
	msg := ""
	switch res.Status {
	case generation.StatusWorking:
		msg = "generation started"
	case generation.StatusAlreadyRunning:
		msg = "a generation is already running for this project"
	case generation.StatusAlreadyComplete:
		msg = "project already has a complete build on disk"
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: res, Message: msg})
}

// StopGeneration requests cancellation of a running generation.
func (h *Handler) StopGeneration(c *gin.Context) {
	projectID := c.Param("project_id")
	stopped := h.Engine.Stop(projectID)

	msg := "no generation running for this project"
	if stopped {
		msg = "stop requested"
	}
	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		Data:    gin.H{"project_id": projectID, "stopped": stopped},
		Message: msg,
	})
}

// GenerationStatus reports the project's generation state.
func (h *Handler) GenerationStatus(c *gin.Context) {
	projectID := c.Param("project_id")
	info := h.Engine.Status(projectID)
	ok(c, gin.H{
		"project_id":     projectID,
		"is_running":     info.IsRunning,
		"project_exists": info.ProjectExists,
		"file_count":     info.FileCount,
		"status":         info.Status,
	})
}

// TeamBuild runs the parallel team protocol synchronously and returns the
// produced files.
func (h *Handler) TeamBuild(c *gin.Context) {
	var req StartGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "project_id and project_name are required")
		return
	}

	results, err := h.Team.Run(c.Request.Context(), req.toRequest())
	if err != nil {
		fail(c, http.StatusConflict, "TEAM_BUILD_FAILED", err.Error())
		return
	}
	ok(c, gin.H{
		"project_id": req.ProjectID,
		"files":      results,
	})
}

// TeamStatus reports whether a team build is active for the project.
func (h *Handler) TeamStatus(c *gin.Context) {
	projectID := c.Param("project_id")
	ok(c, gin.H{
		"project_id": projectID,
		"is_running": h.Team.IsRunning(projectID),
	})
}

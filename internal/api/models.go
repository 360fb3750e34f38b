package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"appkernel/internal/selector"
)

// ListModels returns the full pricing catalog.
func (h *Handler) ListModels(c *gin.Context) {
	ok(c, h.Catalog.List())
}

// ProviderHealth returns health for each known provider.
func (h *Handler) ProviderHealth(c *gin.Context) {
	out := gin.H{}
	for _, p := range h.Catalog.Providers() {
		if health, found := h.Catalog.Health(p); found {
			out[p] = health
		}
	}
	ok(c, out)
}

// SelectModel runs the strategy selector over the posted criteria.
func (h *Handler) SelectModel(c *gin.Context) {
	var crit selector.Criteria
	if err := c.ShouldBindJSON(&crit); err != nil {
		badRequest(c, "invalid selection criteria")
		return
	}

	modelID, matched := h.Selector.Select(crit)
	ok(c, gin.H{
		"model_id": modelID,
		"fallback": !matched,
		"strategy": crit.Strategy,
	})
}

// RecommendRequest asks for a model fit to a task tag under a budget.
type RecommendRequest struct {
	Task         string  `json:"task" binding:"required"`
	BudgetPer1K  float64 `json:"budget_per_1k,omitempty"`
}

// RecommendModel maps a task tag to a selection.
func (h *Handler) RecommendModel(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "task is required")
		return
	}

	modelID, matched := h.Selector.RecommendForTask(req.Task, req.BudgetPer1K)
	ok(c, gin.H{
		"model_id": modelID,
		"fallback": !matched,
		"task":     req.Task,
	})
}

// CostRequest prices a token count against a catalog entry.
type CostRequest struct {
	ModelID      string `json:"model_id" binding:"required"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// CalculateCost prices tokens against the catalog.
func (h *Handler) CalculateCost(c *gin.Context) {
	var req CostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "model_id is required")
		return
	}

	cost, found := h.Catalog.Cost(req.ModelID, req.InputTokens, req.OutputTokens)
	if !found {
		fail(c, http.StatusNotFound, "UNKNOWN_MODEL", "model not in catalog")
		return
	}
	ok(c, gin.H{
		"model_id":      req.ModelID,
		"input_tokens":  req.InputTokens,
		"output_tokens": req.OutputTokens,
		"cost_usd":      cost,
	})
}

// Usage reports per-provider token and request counters.
func (h *Handler) Usage(c *gin.Context) {
	ok(c, h.Adapters.UsageAll())
}

// BudgetRemaining reports headroom under the caps for a user and session.
func (h *Handler) BudgetRemaining(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		badRequest(c, "user_id is required")
		return
	}

	rem, err := h.Budget.Remaining(userID, c.Query("session_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "LEDGER_ERROR", err.Error())
		return
	}
	ok(c, rem)
}

// BudgetSummary aggregates spend for a user over a window.
func (h *Handler) BudgetSummary(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		badRequest(c, "user_id is required")
		return
	}

	windowHours := 24
	if v := c.Query("window_hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			windowHours = parsed
		}
	}

	summary, err := h.Budget.Summarize(userID, windowHours)
	if err != nil {
		fail(c, http.StatusInternalServerError, "LEDGER_ERROR", err.Error())
		return
	}
	ok(c, summary)
}

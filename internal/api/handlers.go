// Package api exposes the kernel over REST. Handlers are transport glue
// only: every response is a structured payload and no panic escapes.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"appkernel/internal/agent"
	"appkernel/internal/ai"
	"appkernel/internal/budget"
	"appkernel/internal/catalog"
	"appkernel/internal/generation"
	"appkernel/internal/memory"
	"appkernel/internal/metrics"
	"appkernel/internal/selector"
	"appkernel/internal/stream"
	"appkernel/internal/team"
)

// Handler carries every dependency the REST surface needs.
type Handler struct {
	Catalog  *catalog.Catalog
	Selector *selector.Selector
	Budget   *budget.Engine
	Agents   *agent.Registry
	Store    *memory.Store
	Engine   *generation.Engine
	Team     *team.Orchestrator
	Adapters *ai.Registry
	Hub      *stream.Hub
}

// StandardResponse is the envelope every endpoint answers with.
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: data})
}

func okMessage(c *gin.Context, data interface{}, msg string) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: data, Message: msg})
}

func fail(c *gin.Context, status int, code, errMsg string) {
	c.JSON(status, StandardResponse{Success: false, Error: errMsg, Code: code})
}

func badRequest(c *gin.Context, errMsg string) {
	fail(c, http.StatusBadRequest, "INVALID_REQUEST", errMsg)
}

// NewRouter builds the gin engine with every kernel route mounted.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMetrics())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsCfg))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Model catalog and selection
		v1.GET("/models", h.ListModels)
		v1.GET("/models/health", h.ProviderHealth)
		v1.POST("/models/select", h.SelectModel)
		v1.POST("/models/recommend", h.RecommendModel)
		v1.POST("/models/cost", h.CalculateCost)
		v1.GET("/models/usage", h.Usage)

		// Budget
		v1.GET("/budget/remaining", h.BudgetRemaining)
		v1.GET("/budget/summary", h.BudgetSummary)

		// Agents
		v1.GET("/agents", h.ListAgents)
		v1.GET("/agents/templates", h.ListTemplates)
		v1.POST("/agents", h.CreateAgent)
		v1.POST("/agents/custom", h.CreateCustomAgent)
		v1.GET("/agents/:id", h.GetAgent)
		v1.GET("/agents/:id/history", h.AgentHistory)
		v1.GET("/agents/:id/versions", h.AgentVersions)
		v1.POST("/agents/:id/pause", h.PauseAgent)
		v1.POST("/agents/:id/resume", h.ResumeAgent)
		v1.POST("/agents/:id/upgrade", h.UpgradeAgent)
		v1.POST("/agents/:id/deprecate", h.DeprecateAgent)
		v1.DELETE("/agents/:id", h.RemoveAgent)

		// Memory substrate
		v1.GET("/memory/projects", h.RecentProjects)
		v1.POST("/memory/projects", h.AddProject)
		v1.GET("/memory/projects/:id", h.GetProject)
		v1.POST("/memory/projects/:id/touch", h.TouchProject)
		v1.POST("/memory/actions", h.TrackAction)
		v1.GET("/memory/agents/:id/actions", h.AgentActions)
		v1.GET("/memory/preferences/:key", h.GetPreference)
		v1.PUT("/memory/preferences/:key", h.SetPreference)
		v1.GET("/memory/abandoned", h.AbandonedTasks)
		v1.POST("/memory/abandoned", h.MarkAbandoned)
		v1.POST("/memory/abandoned/:id/resolve", h.ResolveAbandoned)

		// Generation protocol
		v1.POST("/generation/start", h.StartGeneration)
		v1.POST("/generation/:project_id/stop", h.StopGeneration)
		v1.GET("/generation/:project_id/status", h.GenerationStatus)

		// Team protocol
		v1.POST("/team/build", h.TeamBuild)
		v1.GET("/team/:project_id/status", h.TeamStatus)

		// Event stream
		v1.GET("/ws", h.Hub.HandleWS)
	}

	return router
}

// Health answers liveness probes with provider summary.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "appkernel",
		"providers": h.Adapters.Providers(),
		"timestamp": time.Now().UTC(),
	})
}

// requestMetrics records per-route counters and latency histograms.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m := metrics.Get()
		m.HTTPRequestsInFlight.Inc()
		c.Next()
		m.HTTPRequestsInFlight.Dec()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordHTTPRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

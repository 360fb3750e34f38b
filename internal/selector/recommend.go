package selector

import "appkernel/internal/catalog"

// Task tags understood by RecommendForTask.
const (
	TaskCodeGeneration = "code_generation"
	TaskChat           = "chat"
	TaskQuickResponse  = "quick_response"
	TaskAnalysis       = "analysis"
	TaskBulkProcessing = "bulk_processing"
)

// taskProfiles are the pre-baked criteria per task tag. Unknown tags get the
// chat profile.
var taskProfiles = map[string]Criteria{
	TaskCodeGeneration: {
		Strategy:             BestQuality,
		MinQuality:           8,
		RequiredCapabilities: []catalog.Capability{catalog.CapCode},
	},
	TaskChat: {
		Strategy:   Balanced,
		MinQuality: 6,
	},
	TaskQuickResponse: {
		Strategy:   Fastest,
		MinQuality: 5,
	},
	TaskAnalysis: {
		Strategy:         BestQuality,
		MinQuality:       8,
		MinContextWindow: 100000,
	},
	TaskBulkProcessing: {
		Strategy:   Cheapest,
		MinQuality: 5,
	},
}

// RecommendForTask maps a task tag onto its criteria profile, applies the
// caller's per-1K price budget when positive, and delegates to Select.
func (s *Selector) RecommendForTask(task string, budgetPer1K float64) (string, bool) {
	c, ok := taskProfiles[task]
	if !ok {
		c = taskProfiles[TaskChat]
	}
	if budgetPer1K > 0 {
		c.MaxPricePer1K = budgetPer1K
	}
	return s.Select(c)
}

// Package selector implements multi-criteria model selection over the
// catalog. Selection never fails: an empty candidate set falls back to a
// per-strategy hard-coded model id so callers inside retry loops always get
// something invocable.
package selector

import (
	"sort"

	"go.uber.org/zap"

	"appkernel/internal/catalog"
	"appkernel/internal/logging"
)

// Strategy names a scoring policy.
type Strategy string

const (
	Cheapest        Strategy = "cheapest"
	Fastest         Strategy = "fastest"
	BestQuality     Strategy = "best_quality"
	CostPerformance Strategy = "cost_performance"
	Balanced        Strategy = "balanced"
)

// Criteria describes constraints and the scoring strategy for a selection.
// Zero-valued optional fields are not applied.
type Criteria struct {
	Strategy             Strategy             `json:"strategy"`
	MinQuality           int                  `json:"min_quality"`
	MaxPricePer1K        float64              `json:"max_price_per_1k,omitempty"`
	RequiredCapabilities []catalog.Capability `json:"required_capabilities,omitempty"`
	MinContextWindow     int                  `json:"min_context_window,omitempty"`
	MaxLatencyMS         float64              `json:"max_latency_ms,omitempty"`
	PreferredProviders   []string             `json:"preferred_providers,omitempty"`
	ExcludedProviders    []string             `json:"excluded_providers,omitempty"`
}

// fallbackIDs are the guaranteed selections when filtering leaves nothing.
// They favor availability over fit: haiku and flash are the widest-deployed
// cheap endpoints, opus the de facto quality ceiling.
var fallbackIDs = map[Strategy]string{
	Cheapest:        "local:ollama",
	Fastest:         "anthropic:claude-haiku",
	BestQuality:     "anthropic:claude-opus",
	CostPerformance: "google:gemini-flash",
	Balanced:        "anthropic:claude-sonnet",
}

// Selector scores catalog endpoints under a Criteria value.
type Selector struct {
	catalog *catalog.Catalog
}

// New creates a selector reading from the given catalog.
func New(cat *catalog.Catalog) *Selector {
	return &Selector{catalog: cat}
}

// Select filters the catalog under c and returns the best candidate per the
// strategy. If filtering leaves no candidate it returns the strategy's
// fallback id with ok=false.
func (s *Selector) Select(c Criteria) (string, bool) {
	candidates := s.filter(c)
	if len(candidates) == 0 {
		id := fallbackIDs[c.Strategy]
		if id == "" {
			id = fallbackIDs[Balanced]
		}
		logging.L().Debug("selection fell back to hard-coded model",
			zap.String("strategy", string(c.Strategy)),
			zap.String("model_id", id))
		return id, false
	}

	s.rank(c.Strategy, candidates)
	return candidates[0].ID, true
}

// filter applies every constraint in c; a violation silently drops the
// candidate.
func (s *Selector) filter(c Criteria) []catalog.ModelEndpoint {
	var out []catalog.ModelEndpoint
	for _, ep := range s.catalog.List() {
		if ep.Quality < c.MinQuality {
			continue
		}
		if c.MaxPricePer1K > 0 && ep.AvgPrice() > c.MaxPricePer1K {
			continue
		}
		if len(c.RequiredCapabilities) > 0 && !ep.HasCapabilities(c.RequiredCapabilities) {
			continue
		}
		if c.MinContextWindow > 0 && ep.ContextWindow < c.MinContextWindow {
			continue
		}
		if c.MaxLatencyMS > 0 && s.catalog.Latency(ep.Provider) > c.MaxLatencyMS {
			continue
		}
		if len(c.PreferredProviders) > 0 && !contains(c.PreferredProviders, ep.Provider) {
			continue
		}
		if contains(c.ExcludedProviders, ep.Provider) {
			continue
		}
		if h, ok := s.catalog.Health(ep.Provider); !ok || h.Status != catalog.StatusOperational {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// rank sorts candidates best-first for the given strategy.
func (s *Selector) rank(strategy Strategy, eps []catalog.ModelEndpoint) {
	switch strategy {
	case Cheapest:
		sort.SliceStable(eps, func(i, j int) bool {
			return eps[i].AvgPrice() < eps[j].AvgPrice()
		})
	case Fastest:
		sort.SliceStable(eps, func(i, j int) bool {
			ri, rj := eps[i].Speed.Rank(), eps[j].Speed.Rank()
			if ri != rj {
				return ri > rj
			}
			return s.catalog.Latency(eps[i].Provider) < s.catalog.Latency(eps[j].Provider)
		})
	case BestQuality:
		sort.SliceStable(eps, func(i, j int) bool {
			return eps[i].Quality > eps[j].Quality
		})
	case CostPerformance:
		sort.SliceStable(eps, func(i, j int) bool {
			return costPerformanceScore(eps[i]) > costPerformanceScore(eps[j])
		})
	default: // Balanced
		sort.SliceStable(eps, func(i, j int) bool {
			return s.balancedScore(eps[i]) > s.balancedScore(eps[j])
		})
	}
}

// costPerformanceScore is quality per dollar. Free models dominate, ranked
// among themselves by quality.
func costPerformanceScore(ep catalog.ModelEndpoint) float64 {
	price := ep.AvgPrice()
	if price == 0 {
		return float64(ep.Quality) * 1000
	}
	return float64(ep.Quality) / price
}

// balancedScore is the weighted composite 0.4·Q + 0.3·P + 0.2·S + 0.1·H.
func (s *Selector) balancedScore(ep catalog.ModelEndpoint) float64 {
	q := float64(ep.Quality) * 10

	p := 100 - ep.AvgPrice()/0.03*100
	if p < 0 {
		p = 0
	}

	var sp float64
	switch ep.Speed.Rank() {
	case 4:
		sp = 100
	case 3:
		sp = 75
	case 2:
		sp = 50
	default:
		sp = 25
	}

	var h float64
	if s.catalog.IsHealthy(ep.Provider) {
		h = 100
	}

	return 0.4*q + 0.3*p + 0.2*sp + 0.1*h
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

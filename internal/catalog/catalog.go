// Package catalog provides the model endpoint pricing and capability catalog.
//
// Cost formula:
//
//	Cost = (inputTokens/1000) × inputPer1K + (outputTokens/1000) × outputPer1K
//
// Prices are stored per 1,000 tokens. The catalog is read-mostly; provider
// health is mutable through SetStatus and the outcome ledger, and is consulted
// at selection time.
package catalog

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// SpeedClass buckets endpoints by typical generation speed.
type SpeedClass string

const (
	SpeedVeryFast SpeedClass = "very_fast"
	SpeedFast     SpeedClass = "fast"
	SpeedMedium   SpeedClass = "medium"
	SpeedSlow     SpeedClass = "slow"
)

// Rank converts a speed class to an ordinal (very_fast=4 .. slow=1).
func (s SpeedClass) Rank() int {
	switch s {
	case SpeedVeryFast:
		return 4
	case SpeedFast:
		return 3
	case SpeedMedium:
		return 2
	case SpeedSlow:
		return 1
	default:
		return 0
	}
}

// Capability identifies what an endpoint can do.
type Capability string

const (
	CapText            Capability = "text"
	CapCode            Capability = "code"
	CapVision          Capability = "vision"
	CapAudio           Capability = "audio"
	CapEmbeddings      Capability = "embeddings"
	CapFunctionCalling Capability = "function_calling"
)

// HealthStatus is the coarse provider availability signal.
type HealthStatus string

const (
	StatusOperational HealthStatus = "operational"
	StatusDegraded    HealthStatus = "degraded"
	StatusDown        HealthStatus = "down"
)

// ModelEndpoint describes a callable LLM endpoint.
// ID is conventionally "{provider}:{family}".
type ModelEndpoint struct {
	ID            string       `json:"model_id"`
	Provider      string       `json:"provider"`
	InputPer1K    float64      `json:"input_price_per_1k"`
	OutputPer1K   float64      `json:"output_price_per_1k"`
	Speed         SpeedClass   `json:"speed_class"`
	Quality       int          `json:"quality"` // 1..10
	Capabilities  []Capability `json:"capabilities"`
	ContextWindow int          `json:"context_window"`
	MaxOutput     int          `json:"max_output"`
}

// AvgPrice is the mean of input and output price per 1K tokens.
func (m ModelEndpoint) AvgPrice() float64 {
	return (m.InputPer1K + m.OutputPer1K) / 2
}

// HasCapabilities reports whether the endpoint covers every required capability.
func (m ModelEndpoint) HasCapabilities(required []Capability) bool {
	for _, req := range required {
		found := false
		for _, c := range m.Capabilities {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ProviderHealth tracks the mutable health of a provider.
type ProviderHealth struct {
	Status       HealthStatus `json:"status"`
	UptimePct    float64      `json:"uptime_pct"`
	AvgLatencyMS float64      `json:"avg_latency_ms"`
	RPMLimit     int          `json:"rpm_limit"`
	TPMLimit     int          `json:"tpm_limit"`
}

// Outcome is one completed invocation recorded in the health ledger.
type Outcome struct {
	ModelID  string
	Latency  time.Duration
	CostUSD  float64
	Tokens   int
	Success  bool
	Recorded time.Time
}

// Catalog is a keyed, read-mostly container of endpoints and provider health.
type Catalog struct {
	mu        sync.RWMutex
	endpoints map[string]ModelEndpoint
	health    map[string]*ProviderHealth
	outcomes  map[string][]Outcome // keyed by provider, bounded ring
}

const outcomeWindow = 256

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		endpoints: make(map[string]ModelEndpoint),
		health:    make(map[string]*ProviderHealth),
		outcomes:  make(map[string][]Outcome),
	}
}

// Register adds or replaces an endpoint. Entries violating the catalog
// invariants (negative prices, quality outside 1..10, empty capabilities)
// are rejected with ok=false.
func (c *Catalog) Register(ep ModelEndpoint) bool {
	if ep.ID == "" || ep.Provider == "" {
		return false
	}
	if ep.InputPer1K < 0 || ep.OutputPer1K < 0 {
		return false
	}
	if ep.Quality < 1 || ep.Quality > 10 {
		return false
	}
	if len(ep.Capabilities) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[ep.ID] = ep
	if _, ok := c.health[ep.Provider]; !ok {
		c.health[ep.Provider] = &ProviderHealth{
			Status:    StatusOperational,
			UptimePct: 100,
			RPMLimit:  60,
		}
	}
	return true
}

// Get returns the endpoint for a model id. Unknown ids return ok=false,
// never an error: callers inside retry loops must not have to handle
// catalog-level failures.
func (c *Catalog) Get(modelID string) (ModelEndpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.endpoints[modelID]
	return ep, ok
}

// List returns all endpoints in deterministic (id-sorted) order.
func (c *Catalog) List() []ModelEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ModelEndpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByProvider returns the endpoints for one provider, id-sorted.
func (c *Catalog) ListByProvider(provider string) []ModelEndpoint {
	provider = normalizeProvider(provider)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ModelEndpoint
	for _, ep := range c.endpoints {
		if ep.Provider == provider {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Providers returns the known provider names, sorted.
func (c *Catalog) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.health))
	for p := range c.health {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Health returns a copy of a provider's health record.
func (c *Catalog) Health(provider string) (ProviderHealth, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.health[normalizeProvider(provider)]
	if !ok {
		return ProviderHealth{}, false
	}
	return *h, true
}

// IsHealthy reports whether a provider is operational.
func (c *Catalog) IsHealthy(provider string) bool {
	h, ok := c.Health(provider)
	return ok && h.Status == StatusOperational
}

// Latency returns the provider's rolling average latency in milliseconds.
func (c *Catalog) Latency(provider string) float64 {
	h, ok := c.Health(provider)
	if !ok {
		return 0
	}
	return h.AvgLatencyMS
}

// SetStatus updates a provider's health status. Unknown providers get a
// fresh health record so side channels can pre-declare outages.
func (c *Catalog) SetStatus(provider string, status HealthStatus) {
	provider = normalizeProvider(provider)

	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.health[provider]
	if !ok {
		h = &ProviderHealth{UptimePct: 100, RPMLimit: 60}
		c.health[provider] = h
	}
	h.Status = status
}

// SetLimits updates a provider's rate limits.
func (c *Catalog) SetLimits(provider string, rpm, tpm int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.health[normalizeProvider(provider)]; ok {
		h.RPMLimit = rpm
		h.TPMLimit = tpm
	}
}

// Cost computes the USD cost for a model invocation. Unknown model ids
// return (0, false).
func (c *Catalog) Cost(modelID string, inputTokens, outputTokens int) (float64, bool) {
	ep, ok := c.Get(modelID)
	if !ok {
		return 0, false
	}
	inputCost := (float64(inputTokens) / 1000.0) * ep.InputPer1K
	outputCost := (float64(outputTokens) / 1000.0) * ep.OutputPer1K
	return roundUSD(inputCost + outputCost), true
}

// RecordOutcome feeds the provider-health ledger. Latency averages and
// uptime percentage are rolled over a bounded window.
func (c *Catalog) RecordOutcome(o Outcome) {
	ep, ok := c.Get(o.ModelID)
	if !ok {
		return
	}
	if o.Recorded.IsZero() {
		o.Recorded = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ring := append(c.outcomes[ep.Provider], o)
	if len(ring) > outcomeWindow {
		ring = ring[len(ring)-outcomeWindow:]
	}
	c.outcomes[ep.Provider] = ring

	h, ok := c.health[ep.Provider]
	if !ok {
		return
	}

	var totalLatency float64
	successes := 0
	for _, rec := range ring {
		totalLatency += float64(rec.Latency.Milliseconds())
		if rec.Success {
			successes++
		}
	}
	h.AvgLatencyMS = totalLatency / float64(len(ring))
	h.UptimePct = float64(successes) / float64(len(ring)) * 100
}

// Outcomes returns a copy of the recent outcome ring for a provider.
func (c *Catalog) Outcomes(provider string) []Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ring := c.outcomes[normalizeProvider(provider)]
	out := make([]Outcome, len(ring))
	copy(out, ring)
	return out
}

func normalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch p {
	case "gpt4", "gpt":
		return "openai"
	case "claude":
		return "anthropic"
	case "gemini":
		return "google"
	case "grok":
		return "xai"
	case "ollama":
		return "local"
	default:
		return p
	}
}

func roundUSD(value float64) float64 {
	if value == 0 {
		return 0
	}
	return math.Round(value*1_000_000) / 1_000_000
}

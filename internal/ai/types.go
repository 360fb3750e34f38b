// Package ai contains the uniform provider adapter contract and the error
// taxonomy the rest of the kernel dispatches on. Adapters are the only
// components permitted to talk to external networks.
package ai

import (
	"context"
	"sync"
	"time"

	"appkernel/internal/catalog"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags a typed content chunk.
type PartType string

const (
	PartText     PartType = "text"
	PartImageB64 PartType = "image_b64"
	PartAudio    PartType = "audio_bytes"
	PartVideoB64 PartType = "video_b64"
	PartFileB64  PartType = "file_b64"
)

// ContentPart is one typed chunk of a multimodal message.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	B64  string   `json:"b64,omitempty"`
	Raw  []byte   `json:"raw,omitempty"`
	MIME string   `json:"mime,omitempty"`
}

// Message is a normalized chat message. Content and Parts are mutually
// exclusive; Parts carries multimodal payloads.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"content_parts,omitempty"`
}

// Text flattens a message to plain text, joining typed text parts.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// Result is the uniform adapter response.
type Result struct {
	Content   string        `json:"content"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	ModelUsed string        `json:"model_used"`
	Duration  time.Duration `json:"duration"`
	Raw       any           `json:"raw,omitempty"`
}

// Client is the contract every provider adapter implements.
type Client interface {
	// Invoke dispatches a normalized message sequence to a concrete model
	// endpoint. modelID is a catalog id ("{provider}:{family}").
	Invoke(ctx context.Context, modelID string, msgs []Message) (*Result, error)

	// Provider returns the catalog provider name this adapter serves.
	Provider() string

	// Capabilities returns the capability set the adapter implements.
	Capabilities() []catalog.Capability

	// Health probes the upstream API.
	Health(ctx context.Context) error

	// Usage returns a snapshot of usage statistics.
	Usage() ProviderUsage
}

// ProviderUsage tracks usage statistics for one adapter.
type ProviderUsage struct {
	Provider     string    `json:"provider"`
	RequestCount int64     `json:"request_count"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
	AvgLatency   float64   `json:"avg_latency"` // seconds
	ErrorCount   int64     `json:"error_count"`
	LastUsed     time.Time `json:"last_used"`
}

// usageTracker is the shared thread-safe usage accounting embedded by adapters.
type usageTracker struct {
	mu    sync.RWMutex
	usage ProviderUsage
}

func newUsageTracker(provider string) *usageTracker {
	return &usageTracker{usage: ProviderUsage{Provider: provider, LastUsed: time.Now()}}
}

func (t *usageTracker) record(totalTokens int, cost float64, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.usage.RequestCount++
	t.usage.TotalTokens += int64(totalTokens)
	t.usage.TotalCost += cost
	t.usage.AvgLatency = (t.usage.AvgLatency*float64(t.usage.RequestCount-1) + duration.Seconds()) / float64(t.usage.RequestCount)
	t.usage.LastUsed = time.Now()
}

func (t *usageTracker) recordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.ErrorCount++
}

func (t *usageTracker) snapshot() ProviderUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usage
}

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"appkernel/internal/catalog"
)

// LocalClient talks to an Ollama server. It is the zero-cost fallback of
// last resort, so it is registered even without any cloud API key.
type LocalClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *usageTracker
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
	TotalDuration   int64 `json:"total_duration"`
}

// NewLocalClient creates an Ollama adapter. baseURL defaults to the standard
// local daemon address when empty.
func NewLocalClient(baseURL string, rpm int) *LocalClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if rpm <= 0 {
		rpm = 600
	}
	return &LocalClient{
		baseURL:    baseURL,
		model:      "llama3.1",
		httpClient: &http.Client{Timeout: 300 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		tracker:    newUsageTracker("local"),
	}
}

// Invoke implements the Client interface for the local runtime.
func (c *LocalClient) Invoke(ctx context.Context, modelID string, msgs []Message) (*Result, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindCancelled, "local", modelID, err)
	}

	converted := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		converted = append(converted, ollamaMessage{Role: string(m.Role), Content: m.Text()})
	}

	req := &ollamaRequest{Model: c.model, Messages: converted, Stream: false}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewError(KindPermanent, "local", modelID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewError(KindPermanent, "local", modelID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.tracker.recordError()
		return nil, NewError(KindOf(err), "local", modelID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.tracker.recordError()
		return nil, NewError(KindTransient, "local", modelID, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.tracker.recordError()
		return nil, NewError(classifyStatus(resp.StatusCode), "local", modelID,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewError(KindPermanent, "local", modelID,
			fmt.Errorf("failed to unmarshal response: %w", err))
	}

	c.tracker.record(parsed.PromptEvalCount+parsed.EvalCount, 0, time.Since(start))

	return &Result{
		Content:   parsed.Message.Content,
		TokensIn:  parsed.PromptEvalCount,
		TokensOut: parsed.EvalCount,
		ModelUsed: modelID,
		Duration:  time.Since(start),
		Raw:       &parsed,
	}, nil
}

// Provider returns the catalog provider name.
func (c *LocalClient) Provider() string { return "local" }

// Capabilities returns the capability set this adapter implements.
func (c *LocalClient) Capabilities() []catalog.Capability {
	return []catalog.Capability{catalog.CapText, catalog.CapCode}
}

// Health checks whether the local daemon is reachable.
func (c *LocalClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return NewError(KindTransient, "local", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NewError(classifyStatus(resp.StatusCode), "local", "",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// Usage returns a snapshot of adapter usage statistics.
func (c *LocalClient) Usage() ProviderUsage { return c.tracker.snapshot() }

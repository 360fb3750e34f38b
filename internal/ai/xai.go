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

// XAIClient implements the Grok API, which mirrors the OpenAI chat
// completions wire format.
type XAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *usageTracker
}

var xaiModels = map[string]string{
	"xai:grok": "grok-2-latest",
}

// NewXAIClient creates a Grok adapter.
func NewXAIClient(apiKey string, rpm int) *XAIClient {
	if rpm <= 0 {
		rpm = 60
	}
	return &XAIClient{
		apiKey:     apiKey,
		baseURL:    "https://api.x.ai/v1",
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		tracker:    newUsageTracker("xai"),
	}
}

// Invoke implements the Client interface for xAI.
func (c *XAIClient) Invoke(ctx context.Context, modelID string, msgs []Message) (*Result, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindCancelled, "xai", modelID, err)
	}

	model, ok := xaiModels[modelID]
	if !ok {
		return nil, NewError(KindPermanent, "xai", modelID,
			fmt.Errorf("unknown xai model %q", modelID))
	}

	converted := make([]openaiMessage, 0, len(msgs))
	for _, m := range msgs {
		converted = append(converted, openaiMessage{Role: string(m.Role), Content: m.Text()})
	}

	req := &openaiRequest{Model: model, Messages: converted, MaxTokens: 8192}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewError(KindPermanent, "xai", modelID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewError(KindPermanent, "xai", modelID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.tracker.recordError()
		return nil, NewError(KindOf(err), "xai", modelID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.tracker.recordError()
		return nil, NewError(KindTransient, "xai", modelID, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.tracker.recordError()
		return nil, NewError(classifyStatus(resp.StatusCode), "xai", modelID,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewError(KindPermanent, "xai", modelID,
			fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if parsed.Error != nil {
		return nil, NewError(KindPermanent, "xai", modelID,
			fmt.Errorf("api error: %s", parsed.Error.Message))
	}

	if len(parsed.Choices) == 0 {
		return nil, NewError(KindTransient, "xai", modelID,
			fmt.Errorf("empty choices in response"))
	}

	c.tracker.record(parsed.Usage.TotalTokens, 0, time.Since(start))

	return &Result{
		Content:   parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		ModelUsed: modelID,
		Duration:  time.Since(start),
		Raw:       &parsed,
	}, nil
}

// Provider returns the catalog provider name.
func (c *XAIClient) Provider() string { return "xai" }

// Capabilities returns the capability set this adapter implements.
func (c *XAIClient) Capabilities() []catalog.Capability {
	return []catalog.Capability{catalog.CapText, catalog.CapCode, catalog.CapFunctionCalling}
}

// Health probes the API with a minimal request.
func (c *XAIClient) Health(ctx context.Context) error {
	_, err := c.Invoke(ctx, "xai:grok", []Message{{Role: RoleUser, Content: "ping"}})
	return err
}

// Usage returns a snapshot of adapter usage statistics.
func (c *XAIClient) Usage() ProviderUsage { return c.tracker.snapshot() }

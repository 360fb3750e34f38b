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

// AnthropicClient implements the Claude messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *usageTracker
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type   string               `json:"type"`
	Text   string               `json:"text,omitempty"`
	Source *anthropicImgSource  `json:"source,omitempty"`
}

type anthropicImgSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicModels maps catalog families onto concrete API model names.
var anthropicModels = map[string]string{
	"anthropic:claude-opus":   "claude-opus-4-20250514",
	"anthropic:claude-sonnet": "claude-sonnet-4-20250514",
	"anthropic:claude-haiku":  "claude-3-5-haiku-20241022",
}

// NewAnthropicClient creates a Claude adapter. rpm bounds outbound request
// rate; it normally comes from the catalog's provider health record.
func NewAnthropicClient(apiKey string, rpm int) *AnthropicClient {
	if rpm <= 0 {
		rpm = 60
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		tracker:    newUsageTracker("anthropic"),
	}
}

// Invoke implements the Client interface for Anthropic.
func (c *AnthropicClient) Invoke(ctx context.Context, modelID string, msgs []Message) (*Result, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindCancelled, "anthropic", modelID, err)
	}

	model, ok := anthropicModels[modelID]
	if !ok {
		return nil, NewError(KindPermanent, "anthropic", modelID,
			fmt.Errorf("unknown anthropic model %q", modelID))
	}

	system, converted := convertAnthropicMessages(msgs)
	req := &anthropicRequest{
		Model:     model,
		MaxTokens: 8192,
		Messages:  converted,
		System:    system,
	}

	resp, err := c.makeRequest(ctx, req)
	if err != nil {
		c.tracker.recordError()
		return nil, err
	}

	content := ""
	if len(resp.Content) > 0 && resp.Content[0].Type == "text" {
		content = resp.Content[0].Text
	}

	totalTokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
	c.tracker.record(totalTokens, 0, time.Since(start))

	return &Result{
		Content:   content,
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
		ModelUsed: modelID,
		Duration:  time.Since(start),
		Raw:       resp,
	}, nil
}

// convertAnthropicMessages splits out the system prompt and converts typed
// parts to Anthropic content blocks.
func convertAnthropicMessages(msgs []Message) (string, []anthropicMessage) {
	var system string
	out := make([]anthropicMessage, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Text()
			continue
		}

		if len(m.Parts) == 0 {
			out = append(out, anthropicMessage{Role: string(m.Role), Content: m.Content})
			continue
		}

		blocks := make([]anthropicContentBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case PartText:
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: p.Text})
			case PartImageB64:
				blocks = append(blocks, anthropicContentBlock{
					Type: "image",
					Source: &anthropicImgSource{
						Type:      "base64",
						MediaType: p.MIME,
						Data:      p.B64,
					},
				})
			}
		}
		out = append(out, anthropicMessage{Role: string(m.Role), Content: blocks})
	}
	return system, out
}

func (c *AnthropicClient) makeRequest(ctx context.Context, req *anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewError(KindPermanent, "anthropic", req.Model,
			fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewError(KindPermanent, "anthropic", req.Model, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError(KindOf(err), "anthropic", req.Model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindTransient, "anthropic", req.Model,
			fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(classifyStatus(resp.StatusCode), "anthropic", req.Model,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewError(KindPermanent, "anthropic", req.Model,
			fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if parsed.Error != nil {
		return nil, NewError(KindPermanent, "anthropic", req.Model,
			fmt.Errorf("api error: %s", parsed.Error.Message))
	}

	return &parsed, nil
}

// Provider returns the catalog provider name.
func (c *AnthropicClient) Provider() string { return "anthropic" }

// Capabilities returns the capability set this adapter implements.
func (c *AnthropicClient) Capabilities() []catalog.Capability {
	return []catalog.Capability{catalog.CapText, catalog.CapCode, catalog.CapVision, catalog.CapFunctionCalling}
}

// Health probes the API with a minimal request.
func (c *AnthropicClient) Health(ctx context.Context) error {
	req := &anthropicRequest{
		Model:     anthropicModels["anthropic:claude-haiku"],
		MaxTokens: 5,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
	}
	_, err := c.makeRequest(ctx, req)
	return err
}

// Usage returns a snapshot of adapter usage statistics.
func (c *AnthropicClient) Usage() ProviderUsage { return c.tracker.snapshot() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

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

// OpenAIClient implements the chat completions and embeddings APIs.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *usageTracker
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type openaiEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

var openaiModels = map[string]string{
	"openai:gpt-4o":         "gpt-4o",
	"openai:gpt-4o-mini":    "gpt-4o-mini",
	"openai:text-embedding": "text-embedding-3-small",
}

// NewOpenAIClient creates an OpenAI adapter.
func NewOpenAIClient(apiKey string, rpm int) *OpenAIClient {
	if rpm <= 0 {
		rpm = 60
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		tracker:    newUsageTracker("openai"),
	}
}

// Invoke implements the Client interface for OpenAI.
func (c *OpenAIClient) Invoke(ctx context.Context, modelID string, msgs []Message) (*Result, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindCancelled, "openai", modelID, err)
	}

	model, ok := openaiModels[modelID]
	if !ok {
		return nil, NewError(KindPermanent, "openai", modelID,
			fmt.Errorf("unknown openai model %q", modelID))
	}

	converted := make([]openaiMessage, 0, len(msgs))
	for _, m := range msgs {
		converted = append(converted, openaiMessage{Role: string(m.Role), Content: m.Text()})
	}

	req := &openaiRequest{
		Model:     model,
		Messages:  converted,
		MaxTokens: 8192,
	}

	resp, err := c.makeRequest(ctx, "/chat/completions", req)
	if err != nil {
		c.tracker.recordError()
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(KindTransient, "openai", modelID,
			fmt.Errorf("empty choices in response"))
	}

	c.tracker.record(resp.Usage.TotalTokens, 0, time.Since(start))

	return &Result{
		Content:   resp.Choices[0].Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		ModelUsed: modelID,
		Duration:  time.Since(start),
		Raw:       resp,
	}, nil
}

// Embed computes embedding vectors for the given inputs. Only the OpenAI
// adapter exposes this; the memory substrate uses it when available.
func (c *OpenAIClient) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindCancelled, "openai", "openai:text-embedding", err)
	}

	body, err := json.Marshal(&openaiEmbeddingRequest{
		Model: openaiModels["openai:text-embedding"],
		Input: inputs,
	})
	if err != nil {
		return nil, NewError(KindPermanent, "openai", "openai:text-embedding", err)
	}

	data, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}

	var parsed openaiEmbeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewError(KindPermanent, "openai", "openai:text-embedding",
			fmt.Errorf("failed to unmarshal embeddings: %w", err))
	}

	vectors := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *OpenAIClient) makeRequest(ctx context.Context, path string, req *openaiRequest) (*openaiResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewError(KindPermanent, "openai", req.Model,
			fmt.Errorf("failed to marshal request: %w", err))
	}

	body, err := c.post(ctx, path, jsonData)
	if err != nil {
		return nil, err
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewError(KindPermanent, "openai", req.Model,
			fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if parsed.Error != nil {
		return nil, NewError(KindPermanent, "openai", req.Model,
			fmt.Errorf("api error: %s", parsed.Error.Message))
	}

	return &parsed, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, NewError(KindPermanent, "openai", "", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError(KindOf(err), "openai", "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindTransient, "openai", "",
			fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(classifyStatus(resp.StatusCode), "openai", "",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	return data, nil
}

// Provider returns the catalog provider name.
func (c *OpenAIClient) Provider() string { return "openai" }

// Capabilities returns the capability set this adapter implements.
func (c *OpenAIClient) Capabilities() []catalog.Capability {
	return []catalog.Capability{
		catalog.CapText, catalog.CapCode, catalog.CapVision,
		catalog.CapEmbeddings, catalog.CapFunctionCalling,
	}
}

// Health probes the API with a minimal request.
func (c *OpenAIClient) Health(ctx context.Context) error {
	req := &openaiRequest{
		Model:     openaiModels["openai:gpt-4o-mini"],
		Messages:  []openaiMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 5,
	}
	_, err := c.makeRequest(ctx, "/chat/completions", req)
	return err
}

// Usage returns a snapshot of adapter usage statistics.
func (c *OpenAIClient) Usage() ProviderUsage { return c.tracker.snapshot() }

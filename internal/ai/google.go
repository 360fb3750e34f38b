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

// GoogleClient implements the Gemini generateContent API.
type GoogleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *usageTracker
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float32 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var googleModels = map[string]string{
	"google:gemini-pro":   "gemini-1.5-pro",
	"google:gemini-flash": "gemini-1.5-flash",
}

// NewGoogleClient creates a Gemini adapter.
func NewGoogleClient(apiKey string, rpm int) *GoogleClient {
	if rpm <= 0 {
		rpm = 60
	}
	return &GoogleClient{
		apiKey:     apiKey,
		baseURL:    "https://generativelanguage.googleapis.com/v1beta/models",
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		tracker:    newUsageTracker("google"),
	}
}

// Invoke implements the Client interface for Google.
func (c *GoogleClient) Invoke(ctx context.Context, modelID string, msgs []Message) (*Result, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindCancelled, "google", modelID, err)
	}

	model, ok := googleModels[modelID]
	if !ok {
		return nil, NewError(KindPermanent, "google", modelID,
			fmt.Errorf("unknown google model %q", modelID))
	}

	req := convertGeminiMessages(msgs)
	req.GenerationConfig = &geminiGenConfig{MaxOutputTokens: 8192}

	resp, err := c.makeRequest(ctx, model, req)
	if err != nil {
		c.tracker.recordError()
		return nil, err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, NewError(KindTransient, "google", modelID,
			fmt.Errorf("empty candidates in response"))
	}

	content := ""
	for _, p := range resp.Candidates[0].Content.Parts {
		content += p.Text
	}

	totalTokens := resp.UsageMetadata.PromptTokenCount + resp.UsageMetadata.CandidatesTokenCount
	c.tracker.record(totalTokens, 0, time.Since(start))

	return &Result{
		Content:   content,
		TokensIn:  resp.UsageMetadata.PromptTokenCount,
		TokensOut: resp.UsageMetadata.CandidatesTokenCount,
		ModelUsed: modelID,
		Duration:  time.Since(start),
		Raw:       resp,
	}, nil
}

// convertGeminiMessages maps roles onto Gemini's user/model vocabulary and
// lifts system prompts into systemInstruction.
func convertGeminiMessages(msgs []Message) *geminiRequest {
	req := &geminiRequest{}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, geminiPart{Text: m.Text()})
		case RoleAssistant:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: m.Text()}},
			})
		default:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Text()}},
			})
		}
	}
	return req
}

func (c *GoogleClient) makeRequest(ctx context.Context, model string, req *geminiRequest) (*geminiResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewError(KindPermanent, "google", model,
			fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewError(KindPermanent, "google", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError(KindOf(err), "google", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindTransient, "google", model,
			fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(classifyStatus(resp.StatusCode), "google", model,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewError(KindPermanent, "google", model,
			fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if parsed.Error != nil {
		return nil, NewError(KindPermanent, "google", model,
			fmt.Errorf("api error %d: %s", parsed.Error.Code, parsed.Error.Message))
	}

	return &parsed, nil
}

// Provider returns the catalog provider name.
func (c *GoogleClient) Provider() string { return "google" }

// Capabilities returns the capability set this adapter implements.
func (c *GoogleClient) Capabilities() []catalog.Capability {
	return []catalog.Capability{
		catalog.CapText, catalog.CapCode, catalog.CapVision,
		catalog.CapAudio, catalog.CapFunctionCalling,
	}
}

// Health probes the API with a minimal request.
func (c *GoogleClient) Health(ctx context.Context) error {
	req := &geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: "ping"}}}},
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: 5},
	}
	_, err := c.makeRequest(ctx, googleModels["google:gemini-flash"], req)
	return err
}

// Usage returns a snapshot of adapter usage statistics.
func (c *GoogleClient) Usage() ProviderUsage { return c.tracker.snapshot() }

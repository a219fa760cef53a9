// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/config"
)

// GeminiClient implements agent.ModelClient on the Gemini API. The decision
// schema is passed as the response JSON schema so the model emits a
// conforming object.
type GeminiClient struct {
	transport
	client *genai.Client
	model  string
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		transport: newTransport(cfg, logger.Named("llm_client.gemini")),
		client:    client,
		model:     cfg.Model,
	}, nil
}

// Invoke requests one decision.
func (c *GeminiClient) Invoke(ctx context.Context, req agent.InvokeRequest) (*agent.InvokeResponse, error) {
	contents, genConfig := c.buildRequest(req)

	var result *agent.InvokeResponse
	err := c.retry(ctx, func(ctx context.Context) error {
		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
		duration := time.Since(startTime)
		if err != nil {
			return c.classify(err)
		}

		if len(resp.Candidates) == 0 {
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", resp.PromptFeedback.BlockReason))
			}
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			reason := resp.Candidates[0].FinishReason
			if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
			}
			return fmt.Errorf("gemini API returned empty content (Reason: %s)", reason)
		}

		usage := usageFromGemini(resp.UsageMetadata)
		c.logger.Info("LLM generation complete (Gemini)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens),
			zap.Int("total_tokens", usage.TotalTokens),
		)

		decision, err := decode(req.Schema, text)
		if err != nil {
			return backoff.Permanent(err)
		}
		result = &agent.InvokeResponse{Decision: decision, Output: text, Usage: usage}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *GeminiClient) buildRequest(req agent.InvokeRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range req.Messages {
		switch m.Role {
		case agent.RoleSystem:
			system = append(system, m.Content)
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.cfg.Temperature),
		ResponseMIMEType: "application/json",
	}
	if len(system) > 0 {
		genConfig.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if c.cfg.TopP > 0 {
		genConfig.TopP = genai.Ptr(c.cfg.TopP)
	}
	if c.cfg.MaxTokens > 0 {
		genConfig.MaxOutputTokens = clampInt32(c.cfg.MaxTokens)
	}
	if req.Schema != nil {
		genConfig.ResponseJsonSchema = req.Schema.Document()
	}
	return contents, genConfig
}

// classify marks SDK errors as transient or permanent.
func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return c.classifyStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return c.classifyStatus(apiErrPtr.Code, err)
	}
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}
	// Network errors and attempt timeouts are retried.
	return err
}

func (c *GeminiClient) classifyStatus(code int, err error) error {
	c.logger.Error("Gemini API returned error status", zap.Int("status", code), zap.Error(err))
	if isTransientStatus(code) {
		return fmt.Errorf("gemini API error: %w", err)
	}
	return backoff.Permanent(fmt.Errorf("gemini API error: %w", err))
}

func usageFromGemini(md *genai.GenerateContentResponseUsageMetadata) agent.Usage {
	if md == nil {
		return agent.Usage{}
	}
	return agent.Usage{
		PromptTokens:     int(md.PromptTokenCount),
		CompletionTokens: int(md.CandidatesTokenCount),
		TotalTokens:      int(md.TotalTokenCount),
		CachedTokens:     optionalCount(md.CachedContentTokenCount),
		ReasoningTokens:  optionalCount(md.ThoughtsTokenCount),
	}
}

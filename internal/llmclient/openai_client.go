// internal/llmclient/openai_client.go
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/config"
	"github.com/undefined996/page-agent/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	// outputToolName is the function the model is forced to call with the
	// decision as its arguments.
	outputToolName = "AgentOutput"
)

// OpenAIClient implements agent.ModelClient on any endpoint speaking the
// OpenAI chat completions API.
type OpenAIClient struct {
	transport
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// -- Chat Completions Request/Response Structures (Internal to this file) --

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type openAIRequestPayload struct {
	Model       string            `json:"model"`
	Messages    []openAIMessage   `json:"messages"`
	Temperature float32           `json:"temperature"`
	TopP        float32           `json:"top_p,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Tools       []openAITool      `json:"tools,omitempty"`
	ToolChoice  *openAIToolChoice `json:"tool_choice,omitempty"`
}

type openAIResponsePayload struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}

	return &OpenAIClient{
		transport:  newTransport(cfg, logger.Named("llm_client.openai")),
		apiKey:     cfg.APIKey,
		endpoint:   endpoint + "/chat/completions",
		httpClient: &http.Client{},
	}, nil
}

// Invoke requests one decision.
func (c *OpenAIClient) Invoke(ctx context.Context, req agent.InvokeRequest) (*agent.InvokeResponse, error) {
	body, err := json.Marshal(c.buildRequestPayload(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var result *agent.InvokeResponse
	err = c.retry(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload openAIResponsePayload
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(payload.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai API returned no choices"))
		}

		output := outputOf(payload)
		if strings.TrimSpace(output) == "" {
			return fmt.Errorf("openai API returned empty content (Reason: %s)", payload.Choices[0].FinishReason)
		}

		usage := agent.Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
			CachedTokens:     optionalCount(payload.Usage.PromptTokensDetails.CachedTokens),
			ReasoningTokens:  optionalCount(payload.Usage.CompletionTokensDetails.ReasoningTokens),
		}
		c.logger.Info("LLM generation complete (OpenAI)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens),
			zap.Int("total_tokens", usage.TotalTokens),
		)

		decision, err := decode(req.Schema, output)
		if err != nil {
			return backoff.Permanent(err)
		}
		result = &agent.InvokeResponse{Decision: decision, Output: output, Usage: usage}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *OpenAIClient) buildRequestPayload(req agent.InvokeRequest) openAIRequestPayload {
	payload := openAIRequestPayload{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.Schema != nil {
		payload.Tools = []openAITool{{
			Type: "function",
			Function: openAIFunction{
				Name:        outputToolName,
				Description: "Report the evaluation, memory, next goal and the single action for this step.",
				Parameters:  req.Schema.Document(),
			},
		}}
		choice := &openAIToolChoice{Type: "function"}
		choice.Function.Name = outputToolName
		payload.ToolChoice = choice
	}
	return payload
}

// outputOf prefers the forced tool call and falls back to the message
// content for endpoints that ignore tool_choice.
func outputOf(payload openAIResponsePayload) string {
	msg := payload.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Function.Name == outputToolName || len(msg.ToolCalls) == 1 {
			return call.Function.Arguments
		}
	}
	return msg.Content
}

func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("OpenAI API returned error status", zap.Int("status", statusCode), zap.String("response", llmutil.Truncate(string(body), 1000)))
	err := fmt.Errorf("openai API error: status %d, body: %s", statusCode, llmutil.Truncate(string(body), 1000))
	if isTransientStatus(statusCode) {
		return err // Transient errors, retry.
	}
	return backoff.Permanent(err) // Permanent errors.
}

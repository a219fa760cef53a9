package llmclient

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/config"
	"github.com/undefined996/page-agent/internal/tools"
)

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig(provider config.LLMProvider) config.LLMConfig {
	return config.LLMConfig{
		Provider:        provider,
		APIKey:          "test-api-key",
		Model:           "test-model",
		APITimeout:      5 * time.Second,
		Temperature:     0.7,
		TopP:            0.9,
		MaxTokens:       2048,
		MaxRetryElapsed: 5 * time.Second,
	}
}

// fastRetries replaces the exponential policy so retry tests never sleep.
func fastRetries(tr *transport, maxRetries uint64) {
	tr.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
	}
}

// testSchema composes the built-in tool set.
func testSchema(t *testing.T) *agent.DecisionSchema {
	t.Helper()
	reg, err := agent.NewRegistry(zap.NewNop(), tools.Builtin()...)
	require.NoError(t, err)
	schema, err := agent.Compose(reg)
	require.NoError(t, err)
	return schema
}

// createTestRequest provides a standard decision request.
func createTestRequest(t *testing.T) agent.InvokeRequest {
	return agent.InvokeRequest{
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: "System prompt instructions."},
			{Role: agent.RoleUser, Content: "User query."},
		},
		Schema: testSchema(t),
	}
}

const validDecision = `{"evaluation_previous_goal":"Success","memory":"cart open","next_goal":"check out","action":{"click_element_by_index":{"index":5}}}`

package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/undefined996/page-agent/internal/config"
)

// -- Stub tools --

type stubTool struct {
	name   string
	schema map[string]any
	fn     func(ctx context.Context, ec *ExecutionContext, input map[string]any) (string, error)
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub " + s.name }
func (s *stubTool) InputSchema() map[string]any { return s.schema }
func (s *stubTool) Execute(ctx context.Context, ec *ExecutionContext, input map[string]any) (string, error) {
	if s.fn == nil {
		return s.name + " ok", nil
	}
	return s.fn(ctx, ec, input)
}

func doneStub() *stubTool {
	return &stubTool{
		name: ToolDone,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":    map[string]any{"type": "string"},
				"success": map[string]any{"type": "boolean"},
			},
		},
		fn: func(_ context.Context, _ *ExecutionContext, input map[string]any) (string, error) {
			text, _ := input["text"].(string)
			return text, nil
		},
	}
}

func waitStub() *stubTool {
	return &stubTool{
		name: ToolWait,
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"seconds": map[string]any{"type": "number", "minimum": 0}},
			"required":   []any{"seconds"},
		},
		fn: func(_ context.Context, _ *ExecutionContext, input map[string]any) (string, error) {
			return "waited", nil
		},
	}
}

func clickStub() *stubTool {
	return &stubTool{
		name: "click_element_by_index",
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"index": map[string]any{"type": "integer", "minimum": 0}},
			"required":   []any{"index"},
		},
	}
}

func defaultStubTools() []Tool {
	return []Tool{doneStub(), waitStub(), clickStub()}
}

// -- Decisions --

func decide(tool string, input map[string]any) Decision {
	return Decision{
		Brain:  Brain{EvaluationPreviousGoal: "ok", Memory: "mem", NextGoal: "goal " + tool},
		Action: ActionCall{Tool: tool, Input: input},
	}
}

func doneDecision(success bool, text string) Decision {
	return decide(ToolDone, map[string]any{"success": success, "text": text})
}

func clickDecision(index int) Decision {
	return decide("click_element_by_index", map[string]any{"index": float64(index)})
}

// -- Scripted model --

type modelStep func(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)

// scriptedModel plays back steps in order and repeats the last one.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []modelStep
	calls    atomic.Int64
	requests []InvokeRequest
}

func newScriptedModel(steps ...modelStep) *scriptedModel {
	return &scriptedModel{steps: steps}
}

func (m *scriptedModel) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	n := int(m.calls.Add(1)) - 1
	m.mu.Lock()
	m.requests = append(m.requests, req)
	step := m.steps[min(n, len(m.steps)-1)]
	m.mu.Unlock()
	return step(ctx, req)
}

func (m *scriptedModel) Requests() []InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvokeRequest(nil), m.requests...)
}

func respond(d Decision) modelStep {
	return func(context.Context, InvokeRequest) (*InvokeResponse, error) {
		return &InvokeResponse{Decision: d, Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
	}
}

func fail(err error) modelStep {
	return func(context.Context, InvokeRequest) (*InvokeResponse, error) {
		return nil, err
	}
}

// blockUntilCancelled signals entered, then blocks until ctx is cancelled and
// reports the observed cause on observed.
func blockUntilCancelled(entered chan<- struct{}, observed chan<- error) modelStep {
	return func(ctx context.Context, _ InvokeRequest) (*InvokeResponse, error) {
		close(entered)
		<-ctx.Done()
		observed <- context.Cause(ctx)
		return nil, ctx.Err()
	}
}

// -- UI mock --

type mockUI struct {
	mock.Mock
}

func (m *mockUI) AskUser(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

func (m *mockUI) Done(ctx context.Context, success bool) {
	m.Called(ctx, success)
}

// -- Page fake --

type fakePage struct {
	state    *BrowserState
	err      error
	cleanups atomic.Int32
}

func (p *fakePage) BrowserState(context.Context) (*BrowserState, error) { return p.state, p.err }
func (p *fakePage) ClickElement(context.Context, int) (string, error)   { return "clicked", nil }
func (p *fakePage) InputText(context.Context, int, string) (string, error) {
	return "typed", nil
}
func (p *fakePage) SelectOption(context.Context, int, string) (string, error) {
	return "selected", nil
}
func (p *fakePage) Scroll(context.Context, ScrollOptions) (string, error) { return "scrolled", nil }
func (p *fakePage) ScrollHorizontally(context.Context, ScrollOptions) (string, error) {
	return "scrolled", nil
}
func (p *fakePage) ExecuteJavascript(context.Context, string) (string, error) { return "", nil }
func (p *fakePage) CleanUp(context.Context) error {
	p.cleanups.Add(1)
	return nil
}

// -- Agent construction --

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:        10,
		Language:        "en-US",
		StepDelay:       0,
		OverlapPolicy:   config.OverlapSupersede,
		EventBufferSize: 128,
	}
}

type agentOption func(*Options)

func withConfig(mutate func(*config.AgentConfig)) agentOption {
	return func(o *Options) { mutate(&o.Config) }
}

func withHooks(h Hooks) agentOption {
	return func(o *Options) { o.Hooks = h }
}

func withOverrides(overrides map[string]Tool) agentOption {
	return func(o *Options) { o.Overrides = overrides }
}

func withTools(tools ...Tool) agentOption {
	return func(o *Options) { o.Tools = tools }
}

func withPage(p PageController) agentOption {
	return func(o *Options) { o.Page = p }
}

// newTestAgent builds an agent around model with a permissive UI mock.
func newTestAgent(t *testing.T, model ModelClient, opts ...agentOption) (*Agent, *mockUI) {
	t.Helper()
	ui := &mockUI{}
	ui.On("Done", mock.Anything, mock.Anything).Return()

	o := Options{
		Config: testAgentConfig(),
		Model:  model,
		Page:   &fakePage{state: &BrowserState{URL: "https://example.com", Title: "Example", Content: "[0]<button>Go</button>"}},
		UI:     ui,
		Tools:  defaultStubTools(),
		Logger: zaptest.NewLogger(t),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { a.Dispose("test cleanup") })
	return a, ui
}

// executeAsync runs Execute on its own goroutine.
func executeAsync(ctx context.Context, a *Agent, task string) <-chan *ExecutionResult {
	out := make(chan *ExecutionResult, 1)
	go func() {
		res, err := a.Execute(ctx, task)
		if err != nil {
			res = &ExecutionResult{Data: err.Error()}
		}
		out <- res
	}()
	return out
}

// waitResult fails the test if no result arrives within timeout.
func waitResult(t *testing.T, ch <-chan *ExecutionResult, timeout time.Duration) *ExecutionResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(timeout):
		t.Fatal("timed out waiting for task result")
		return nil
	}
}

// waitClosed fails the test if ch is not closed within timeout.
func waitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for signal")
	}
}

var errBoom = errors.New("boom")

package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/undefined996/page-agent/internal/config"
)

// -- Construction --

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ui := &mockUI{}
	model := newScriptedModel(respond(doneDecision(true, "x")))

	_, err := New(Options{Config: testAgentConfig(), UI: ui, Tools: defaultStubTools(), Logger: logger})
	assert.ErrorContains(t, err, "model client is required")

	_, err = New(Options{Config: testAgentConfig(), Model: model, Tools: defaultStubTools(), Logger: logger})
	assert.ErrorContains(t, err, "user interface is required")

	cfg := testAgentConfig()
	cfg.MaxSteps = 0
	_, err = New(Options{Config: cfg, Model: model, UI: ui, Tools: defaultStubTools(), Logger: logger})
	assert.ErrorContains(t, err, "max_steps")

	_, err = New(Options{Config: testAgentConfig(), Model: model, UI: ui, Logger: logger})
	assert.ErrorContains(t, err, "without tools")

	_, err = New(Options{
		Config:    testAgentConfig(),
		Model:     model,
		UI:        ui,
		Tools:     defaultStubTools(),
		Overrides: map[string]Tool{"renamed": clickStub()},
		Logger:    logger,
	})
	assert.ErrorContains(t, err, `override "renamed" supplies a tool named "click_element_by_index"`)
}

func TestNew_DisabledToolsAreRemoved(t *testing.T) {
	model := newScriptedModel(respond(doneDecision(true, "x")))
	a, _ := newTestAgent(t, model, withConfig(func(c *config.AgentConfig) {
		c.DisabledTools = []string{ToolWait}
	}))

	assert.Equal(t, []string{"click_element_by_index", ToolDone}, a.Schema().ToolNames())
}

// -- Terminal outcomes --

func TestExecute_DoneWithSuccessAndText(t *testing.T) {
	model := newScriptedModel(respond(doneDecision(true, "X")))
	a, ui := newTestAgent(t, model)

	res, err := a.Execute(context.Background(), "find X")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "X", res.Data)
	assert.Empty(t, res.ErrorCode)
	require.Len(t, res.History, 1)
	assert.Equal(t, ToolDone, res.History[0].Action.Name)
	assert.Equal(t, "X", res.History[0].Action.Output)
	assert.Equal(t, 15, res.History[0].Usage.TotalTokens)
	assert.NotEmpty(t, res.TaskID)
	assert.Equal(t, "find X", res.Task)

	ui.AssertNumberOfCalls(t, "Done", 1)
	ui.AssertCalled(t, "Done", mock.Anything, true)
	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, res.History, a.History())
}

func TestExecute_DoneWithoutInputDefaults(t *testing.T) {
	model := newScriptedModel(respond(decide(ToolDone, map[string]any{})))
	a, ui := newTestAgent(t, model)

	res, err := a.Execute(context.Background(), "task")
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "no text provided", res.Data)
	ui.AssertCalled(t, "Done", mock.Anything, false)
}

func TestExecute_StepLimit(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(0)))
	a, ui := newTestAgent(t, model, withConfig(func(c *config.AgentConfig) { c.MaxSteps = 3 }))

	res, err := a.Execute(context.Background(), "never finishes")
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "Step count exceeded maximum limit", res.Data)
	assert.Equal(t, ErrCodeStepLimit, res.ErrorCode)
	assert.Len(t, res.History, 3, "history never exceeds the step ceiling")
	assert.EqualValues(t, 3, model.calls.Load())
	ui.AssertNumberOfCalls(t, "Done", 1)
}

func TestExecute_DoneOnFinalAllowedStep(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(0)), respond(doneDecision(true, "made it")))
	a, _ := newTestAgent(t, model, withConfig(func(c *config.AgentConfig) { c.MaxSteps = 2 }))

	res, err := a.Execute(context.Background(), "two steps")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "made it", res.Data)
	assert.Len(t, res.History, 2)
}

func TestExecute_RejectsEmptyTask(t *testing.T) {
	model := newScriptedModel(respond(doneDecision(true, "x")))
	a, ui := newTestAgent(t, model)

	for _, task := range []string{"", "   ", "\n\t"} {
		res, err := a.Execute(context.Background(), task)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrTaskInput)
	}
	assert.Zero(t, model.calls.Load())
	ui.AssertNotCalled(t, "Done", mock.Anything, mock.Anything)
	assert.Equal(t, StateIdle, a.State())
}

// -- Wait accounting --

func TestExecute_WaitAccumulator(t *testing.T) {
	model := newScriptedModel(
		respond(decide(ToolWait, map[string]any{"seconds": float64(2)})),
		respond(decide(ToolWait, map[string]any{"seconds": float64(1)})),
		respond(clickDecision(1)),
		respond(decide(ToolWait, map[string]any{"seconds": float64(1)})),
		respond(doneDecision(true, "ok")),
	)
	a, _ := newTestAgent(t, model)

	res, err := a.Execute(context.Background(), "wait around")
	require.NoError(t, err)
	require.Len(t, res.History, 5)

	assert.Equal(t, "waited", res.History[0].Action.Output, "2 seconds is below the advisory threshold")
	assert.Contains(t, res.History[1].Action.Output, "You have waited 3 seconds accumulatively")
	assert.NotContains(t, res.History[2].Action.Output, "waited", "non-wait tools never carry the advisory")
	assert.Equal(t, "waited", res.History[3].Action.Output, "the accumulator restarts after another tool")
}

func TestExecute_WaitAdvisoryIsLocalized(t *testing.T) {
	model := newScriptedModel(
		respond(decide(ToolWait, map[string]any{"seconds": float64(3)})),
		respond(doneDecision(true, "ok")),
	)
	a, _ := newTestAgent(t, model, withConfig(func(c *config.AgentConfig) { c.Language = "zh-CN" }))

	res, err := a.Execute(context.Background(), "wait")
	require.NoError(t, err)
	assert.Contains(t, res.History[0].Action.Output, "你已经累计等待了 3 秒")
}

// -- Overlap --

func TestExecute_SecondCallSupersedesFirst(t *testing.T) {
	entered := make(chan struct{})
	observed := make(chan error, 1)
	model := newScriptedModel(
		blockUntilCancelled(entered, observed),
		respond(doneDecision(true, "second")),
	)
	a, ui := newTestAgent(t, model)

	first := executeAsync(context.Background(), a, "first")
	waitClosed(t, entered, 2*time.Second)

	second, err := a.Execute(context.Background(), "second")
	require.NoError(t, err)

	firstRes := waitResult(t, first, 2*time.Second)
	select {
	case cause := <-observed:
		assert.ErrorIs(t, cause, ErrSuperseded, "the in-flight model call must observe the cancellation")
	default:
		t.Fatal("first model call never observed cancellation")
	}

	assert.False(t, firstRes.Success)
	assert.Equal(t, ErrCodeCancelled, firstRes.ErrorCode)
	assert.Contains(t, firstRes.Data, "superseded")
	assert.Empty(t, firstRes.History)

	assert.True(t, second.Success)
	assert.Equal(t, "second", second.Data)
	require.Len(t, second.History, 1, "histories are isolated per task")
	ui.AssertNumberOfCalls(t, "Done", 2)
}

func TestExecute_RejectPolicyReturnsBusy(t *testing.T) {
	entered := make(chan struct{})
	observed := make(chan error, 1)
	model := newScriptedModel(blockUntilCancelled(entered, observed))
	a, _ := newTestAgent(t, model, withConfig(func(c *config.AgentConfig) { c.OverlapPolicy = config.OverlapReject }))

	ctx, cancel := context.WithCancel(context.Background())
	first := executeAsync(ctx, a, "first")
	waitClosed(t, entered, 2*time.Second)

	res, err := a.Execute(context.Background(), "second")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrBusy)

	cancel()
	firstRes := waitResult(t, first, 2*time.Second)
	assert.Equal(t, ErrCodeCancelled, firstRes.ErrorCode)
	assert.ErrorIs(t, <-observed, context.Canceled)
}

func TestExecute_RejectPolicyAdmitsOneOfManyCallers(t *testing.T) {
	release := make(chan struct{})
	model := newScriptedModel(func(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return respond(doneDecision(true, "winner"))(ctx, req)
	})
	a, _ := newTestAgent(t, model, withConfig(func(c *config.AgentConfig) { c.OverlapPolicy = config.OverlapReject }))

	const callers = 5
	var busy, succeeded atomic.Int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			res, err := a.Execute(context.Background(), "contended task")
			switch {
			case errors.Is(err, ErrBusy):
				busy.Add(1)
				return nil
			case err != nil:
				return err
			case res.Success:
				succeeded.Add(1)
			}
			return nil
		})
	}

	assert.Eventually(t, func() bool { return busy.Load() == callers-1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, 1, model.calls.Load())
}

// -- Pause --

func TestPause_HoldsModelCallsUntilResume(t *testing.T) {
	model := newScriptedModel(respond(doneDecision(true, "resumed")))
	a, _ := newTestAgent(t, model)

	a.Pause()
	require.True(t, a.Paused())
	results := executeAsync(context.Background(), a, "paused task")

	assert.Eventually(t, func() bool { return a.State() == StateAwaitingUnpause }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, model.calls.Load(), "no model call may happen while paused")

	a.Resume()
	res := waitResult(t, results, 2*time.Second)
	assert.True(t, res.Success)
	assert.EqualValues(t, 1, model.calls.Load())
}

func TestPause_MidTaskSuspendsBetweenSteps(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(0)), respond(doneDecision(true, "ok")))
	var a *Agent
	stepOne := make(chan struct{})
	var once sync.Once
	a, _ = newTestAgent(t, model, withHooks(Hooks{
		AfterStep: func(_ context.Context, step int, _ []StepRecord) {
			if step == 1 {
				a.Pause()
				once.Do(func() { close(stepOne) })
			}
		},
	}))

	results := executeAsync(context.Background(), a, "two steps")
	waitClosed(t, stepOne, 2*time.Second)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, model.calls.Load(), "the model call count must stay constant while paused")

	a.Resume()
	res := waitResult(t, results, 2*time.Second)
	assert.True(t, res.Success)
	assert.EqualValues(t, 2, model.calls.Load())
}

func TestPause_CancellationWinsOverPause(t *testing.T) {
	model := newScriptedModel(respond(doneDecision(true, "never")))
	a, _ := newTestAgent(t, model)

	a.Pause()
	ctx, cancel := context.WithCancelCause(context.Background())
	results := executeAsync(ctx, a, "cancel me")

	assert.Eventually(t, func() bool { return a.State() == StateAwaitingUnpause }, time.Second, 5*time.Millisecond)
	cancel(errors.New("user stopped"))

	res := waitResult(t, results, 2*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeCancelled, res.ErrorCode)
	assert.Contains(t, res.Data, "user stopped")
	assert.Zero(t, model.calls.Load())
	a.Resume()
}

// -- Failures inside a step --

func TestExecute_RemovedToolIsNotFound(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(0)))
	a, _ := newTestAgent(t, model, withOverrides(map[string]Tool{"click_element_by_index": nil}))

	assert.NotContains(t, a.Schema().ToolNames(), "click_element_by_index")

	res, err := a.Execute(context.Background(), "click it")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeToolNotFound, res.ErrorCode)
	assert.Contains(t, res.Data, `tool "click_element_by_index" is not registered`)
	assert.Empty(t, res.History)
}

func TestExecute_OverrideReplacesBuiltin(t *testing.T) {
	custom := clickStub()
	custom.fn = func(context.Context, *ExecutionContext, map[string]any) (string, error) {
		return "custom click", nil
	}
	model := newScriptedModel(respond(clickDecision(0)), respond(doneDecision(true, "ok")))
	a, _ := newTestAgent(t, model, withOverrides(map[string]Tool{"click_element_by_index": custom}))

	res, err := a.Execute(context.Background(), "click it")
	require.NoError(t, err)
	assert.Equal(t, "custom click", res.History[0].Action.Output)
}

func TestExecute_ToolFailureEndsTask(t *testing.T) {
	broken := clickStub()
	broken.fn = func(context.Context, *ExecutionContext, map[string]any) (string, error) {
		return "", errBoom
	}
	model := newScriptedModel(respond(clickDecision(0)))
	a, _ := newTestAgent(t, model, withTools(doneStub(), broken))

	res, err := a.Execute(context.Background(), "click it")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeToolExecution, res.ErrorCode)
	assert.Equal(t, `tool "click_element_by_index" failed: boom`, res.Data)
	assert.Empty(t, res.History, "a failed step is not recorded")
}

func TestExecute_ToolPanicIsRecovered(t *testing.T) {
	panicky := clickStub()
	panicky.fn = func(context.Context, *ExecutionContext, map[string]any) (string, error) {
		panic("nil element")
	}
	model := newScriptedModel(respond(clickDecision(0)))
	a, _ := newTestAgent(t, model, withTools(doneStub(), panicky))

	res, err := a.Execute(context.Background(), "click it")
	require.NoError(t, err)
	assert.Equal(t, ErrCodeExecutorPanic, res.ErrorCode)
	assert.Contains(t, res.Data, "panicked: nil element")
}

func TestExecute_ModelFailures(t *testing.T) {
	tests := []struct {
		name     string
		step     modelStep
		wantCode ErrorCode
		wantData string
	}{
		{
			name:     "decode error",
			step:     fail(&DecodeError{Raw: "{", Err: errors.New("unexpected end of JSON input")}),
			wantCode: ErrCodeDecodeFailure,
			wantData: "failed to decode model decision",
		},
		{
			name:     "transport error",
			step:     fail(errBoom),
			wantCode: ErrCodeModelFailure,
			wantData: "model invocation failed: boom",
		},
		{
			name:     "empty tool name",
			step:     respond(decide("", nil)),
			wantCode: ErrCodeDecodeFailure,
			wantData: "decision did not select a tool",
		},
		{
			name:     "input violates schema",
			step:     respond(decide("click_element_by_index", map[string]any{"index": "first"})),
			wantCode: ErrCodeDecodeFailure,
			wantData: "does not match its schema",
		},
		{
			name: "nil response",
			step: func(context.Context, InvokeRequest) (*InvokeResponse, error) {
				return nil, nil
			},
			wantCode: ErrCodeModelFailure,
			wantData: "returned no response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ui := newTestAgent(t, newScriptedModel(tt.step))

			res, err := a.Execute(context.Background(), "task")
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			assert.Contains(t, res.Data, tt.wantData)
			ui.AssertNumberOfCalls(t, "Done", 1)
		})
	}
}

func TestExecute_StepDelayIsCancellable(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(0)))
	afterFirst := make(chan struct{})
	var once sync.Once
	a, _ := newTestAgent(t, model,
		withConfig(func(c *config.AgentConfig) { c.StepDelay = time.Hour }),
		withHooks(Hooks{AfterStep: func(context.Context, int, []StepRecord) { once.Do(func() { close(afterFirst) }) }}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	results := executeAsync(ctx, a, "slow")
	waitClosed(t, afterFirst, 2*time.Second)
	cancel()

	res := waitResult(t, results, 2*time.Second)
	assert.Equal(t, ErrCodeCancelled, res.ErrorCode)
	assert.Len(t, res.History, 1)
}

func TestExecute_CancelDuringToolKeepsCompletedStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	click := clickStub()
	click.fn = func(context.Context, *ExecutionContext, map[string]any) (string, error) {
		cancel()
		return "clicked", nil
	}
	model := newScriptedModel(respond(clickDecision(0)))
	a, _ := newTestAgent(t, model, withTools(doneStub(), click))

	res, err := a.Execute(ctx, "click then stop")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeCancelled, res.ErrorCode)
	require.Len(t, res.History, 1, "the step the tool finished stays recorded")
	assert.Equal(t, "clicked", res.History[0].Action.Output)
	assert.EqualValues(t, 1, model.calls.Load())
}

func TestExecute_CancelDuringDoneKeepsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := doneStub()
	inner := done.fn
	done.fn = func(ctx context.Context, ec *ExecutionContext, input map[string]any) (string, error) {
		cancel()
		return inner(ctx, ec, input)
	}
	model := newScriptedModel(respond(doneDecision(true, "X")))
	a, ui := newTestAgent(t, model, withTools(done, clickStub()))

	res, err := a.Execute(ctx, "finish")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "X", res.Data)
	assert.Empty(t, res.ErrorCode)
	assert.Len(t, res.History, 1)
	ui.AssertCalled(t, "Done", mock.Anything, true)
}

func TestExecute_CancelledToolErrorIsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	click := clickStub()
	click.fn = func(ctx context.Context, _ *ExecutionContext, _ map[string]any) (string, error) {
		cancel()
		return "", ctx.Err()
	}
	a, _ := newTestAgent(t, newScriptedModel(respond(clickDecision(0))), withTools(doneStub(), click))

	res, err := a.Execute(ctx, "click")
	require.NoError(t, err)
	assert.Equal(t, ErrCodeCancelled, res.ErrorCode)
	assert.Empty(t, res.History)
}

// -- History isolation --

func TestHistory_CallersCannotRewriteRecords(t *testing.T) {
	model := newScriptedModel(
		respond(decide("click_element_by_index", map[string]any{"index": float64(3)})),
		respond(doneDecision(true, "ok")),
	)
	var hooked []StepRecord
	a, _ := newTestAgent(t, model, withHooks(Hooks{AfterStep: func(_ context.Context, _ int, h []StepRecord) {
		hooked = h
	}}))

	res, err := a.Execute(context.Background(), "click three")
	require.NoError(t, err)

	h := a.History()
	h[0].Action.Input["index"] = "tampered"
	res.History[0].Action.Input["index"] = "tampered"
	hooked[0].Action.Input["index"] = "tampered"
	h[0].Action.Output = "tampered"

	again := a.History()
	assert.Equal(t, float64(3), again[0].Action.Input["index"])
	assert.Equal(t, "click_element_by_index ok", again[0].Action.Output)
}

func TestLedger_SnapshotIsDeepCopy(t *testing.T) {
	cached := 7
	l := NewLedger()
	input := map[string]any{"options": []any{"a", map[string]any{"k": "v"}}}
	l.Append(StepRecord{Action: ActionRecord{Name: "t", Input: input}, Usage: Usage{CachedTokens: &cached}})

	input["options"].([]any)[0] = "changed"
	cached = 0
	snap := l.Snapshot()
	snap[0].Action.Input["options"].([]any)[1].(map[string]any)["k"] = "changed"
	*snap[0].Usage.CachedTokens = 1

	want := []StepRecord{{
		Action: ActionRecord{Name: "t", Input: map[string]any{"options": []any{"a", map[string]any{"k": "v"}}}},
		Usage:  Usage{CachedTokens: intPtr(7)},
	}}
	assert.Equal(t, want, l.Snapshot())
}

func intPtr(n int) *int { return &n }

// -- Page clean-up --

func TestExecute_CleansUpPageAfterEveryTask(t *testing.T) {
	page := &fakePage{state: &BrowserState{URL: "https://example.com"}}
	model := newScriptedModel(respond(doneDecision(true, "ok")), fail(errBoom))
	a, _ := newTestAgent(t, model, withPage(page))

	res, err := a.Execute(context.Background(), "first")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 1, page.cleanups.Load())

	res, err = a.Execute(context.Background(), "second")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.EqualValues(t, 2, page.cleanups.Load(), "failed tasks are cleaned up too")
}

// -- Dispose --

func TestDispose_CancelsRunningTaskAndRejectsNewOnes(t *testing.T) {
	entered := make(chan struct{})
	observed := make(chan error, 1)
	model := newScriptedModel(blockUntilCancelled(entered, observed))

	var disposeReason string
	a, _ := newTestAgent(t, model, withHooks(Hooks{OnDispose: func(reason string) { disposeReason = reason }}))

	results := executeAsync(context.Background(), a, "long task")
	waitClosed(t, entered, 2*time.Second)

	a.Dispose("page unloaded")
	res := waitResult(t, results, 2*time.Second)

	assert.ErrorIs(t, <-observed, ErrDisposed)
	assert.Equal(t, ErrCodeCancelled, res.ErrorCode)
	assert.Contains(t, res.Data, "page unloaded")
	assert.Equal(t, "page unloaded", disposeReason)
	assert.Equal(t, StateDisposed, a.State())
	assert.Empty(t, a.History())

	again, err := a.Execute(context.Background(), "another")
	assert.Nil(t, again)
	assert.ErrorIs(t, err, ErrDisposed)

	// Disposing twice is a no-op.
	a.Dispose("again")
	assert.Equal(t, "page unloaded", disposeReason)
}

// -- Hooks, events and prompts --

func TestExecute_HooksRunInOrder(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(0)), respond(doneDecision(true, "ok")))

	var mu sync.Mutex
	var calls []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, s)
	}

	var afterTaskResult *ExecutionResult
	a, _ := newTestAgent(t, model, withHooks(Hooks{
		BeforeTask: func(_ context.Context, _, task string) { record("before_task:" + task) },
		BeforeStep: func(_ context.Context, step int) { record("before_step:" + string(rune('0'+step))) },
		AfterStep: func(_ context.Context, step int, history []StepRecord) {
			record("after_step:" + string(rune('0'+step)))
			assert.Len(t, history, step)
		},
		AfterTask: func(ctx context.Context, res *ExecutionResult) {
			record("after_task")
			assert.NoError(t, ctx.Err())
			afterTaskResult = res
		},
	}))

	res, err := a.Execute(context.Background(), "hooks")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"before_task:hooks",
		"before_step:1", "after_step:1",
		"before_step:2", "after_step:2",
		"after_task",
	}, calls)
	assert.Same(t, res, afterTaskResult)
}

func TestExecute_PublishesEvents(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(3)), respond(doneDecision(true, "answer")))
	a, _ := newTestAgent(t, model)

	events, unsubscribe := a.Events().Subscribe()
	defer unsubscribe()

	_, err := a.Execute(context.Background(), "watch me")
	require.NoError(t, err)

	var got []EventType
	var toolCompleted Event
	var taskID string
	for len(got) < 10 {
		select {
		case evt := <-events:
			got = append(got, evt.Type)
			if taskID == "" {
				taskID = evt.TaskID
			}
			assert.Equal(t, taskID, evt.TaskID)
			if evt.Type == EventToolCompleted && toolCompleted.Tool == "" {
				toolCompleted = evt
			}
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", got)
		}
	}

	assert.Equal(t, []EventType{
		EventTaskStart, EventInput,
		EventThinking, EventToolExecuting, EventToolCompleted,
		EventThinking, EventToolExecuting, EventToolCompleted,
		EventOutput, EventCompleted,
	}, got)
	assert.Equal(t, "click_element_by_index", toolCompleted.Tool)
	assert.Equal(t, float64(3), toolCompleted.Args["index"])
	assert.Equal(t, "click_element_by_index ok", toolCompleted.Result)
}

func TestExecute_PromptCarriesStateAndHistory(t *testing.T) {
	model := newScriptedModel(respond(clickDecision(0)), respond(doneDecision(true, "ok")))
	page := &fakePage{state: &BrowserState{URL: "https://shop.example", Title: "Shop", Content: "[0]<a>Cart</a>"}}
	a, _ := newTestAgent(t, model,
		withPage(page),
		withConfig(func(c *config.AgentConfig) { c.Instructions = "Prefer the search box." }),
	)

	_, err := a.Execute(context.Background(), "buy socks")
	require.NoError(t, err)

	reqs := model.Requests()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "- click_element_by_index: stub click_element_by_index")
		assert.Contains(t, req.Messages[0].Content, "Prefer the search box.")
		assert.Same(t, a.Schema(), req.Schema)
	}

	first := reqs[0].Messages[1].Content
	assert.Contains(t, first, "<user_request>\nbuy socks\n</user_request>")
	assert.Contains(t, first, "Step 1 of 10 max possible steps")
	assert.Contains(t, first, "Current Page: [Shop](https://shop.example)")
	assert.Contains(t, first, "[0]<a>Cart</a>")
	assert.Contains(t, first, "No previous steps.")

	second := reqs[1].Messages[1].Content
	assert.Contains(t, second, "<step_1>")
	assert.Contains(t, second, `Action Result: click_element_by_index({"index":0}) -> click_element_by_index ok`)
	assert.Contains(t, second, "Step 2 of 10")
}

func TestExecute_BrowserStateFailureIsNotFatal(t *testing.T) {
	model := newScriptedModel(respond(doneDecision(true, "ok")))
	a, _ := newTestAgent(t, model, withPage(&fakePage{err: errors.New("target closed")}))

	res, err := a.Execute(context.Background(), "task")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.Contains(model.Requests()[0].Messages[1].Content, "Failed to read the page state: target closed"))
}

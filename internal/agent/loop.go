package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	// waitAdvisoryThreshold is the accumulated wait, in seconds, from which
	// wait outputs carry the advisory text.
	waitAdvisoryThreshold = 3
	// defaultDoneText is the result data of a done call without text.
	defaultDoneText = "no text provided"
)

func (a *Agent) runTask(ctx context.Context, r *run) *ExecutionResult {
	a.activate(r)
	logger := a.logger.With(zap.String("task_id", r.id))
	logger.Info("Task started", zap.String("task", r.task), zap.Int("max_steps", r.maxSteps))

	a.hooks.beforeTask(ctx, r.id, r.task)
	a.publish(r, Event{Type: EventTaskStart})
	a.publish(r, Event{Type: EventInput, Text: r.task})

	success, data, err := a.loop(ctx, r, logger)
	return a.finish(ctx, r, success, data, err)
}

// finish is the single exit of a task. It converts err into a failure,
// notifies the UI exactly once and runs the after-task hook.
func (a *Agent) finish(ctx context.Context, r *run, success bool, data string, err error) *ExecutionResult {
	result := &ExecutionResult{
		TaskID:     r.id,
		Task:       r.task,
		Success:    success,
		Data:       data,
		History:    r.ledger.Snapshot(),
		StartedAt:  r.startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Success = false
		result.Data = err.Error()
		result.ErrorCode = CodeOf(err)
	}

	// Notifications must still go out for a cancelled task.
	detached := context.WithoutCancel(ctx)
	if a.page != nil {
		if cerr := a.page.CleanUp(detached); cerr != nil {
			a.logger.Warn("Failed to clean up page", zap.String("task_id", r.id), zap.Error(cerr))
		}
	}
	a.ui.Done(detached, result.Success)

	if err != nil {
		a.publish(r, Event{Type: EventError, Text: result.Data, ErrorCode: result.ErrorCode})
	} else {
		a.publish(r, Event{Type: EventOutput, Text: result.Data, Success: result.Success})
	}
	a.publish(r, Event{Type: EventCompleted, Success: result.Success, Text: result.Data})

	a.hooks.afterTask(detached, result)

	if result.Success {
		a.setState(r, StateCompleted)
	} else {
		a.setState(r, StateFailed)
	}
	a.logger.Info("Task finished",
		zap.String("task_id", r.id),
		zap.Bool("success", result.Success),
		zap.Int("steps", len(result.History)),
		zap.String("error_code", string(result.ErrorCode)),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result
}

// loop runs steps until the terminal tool, the step ceiling, cancellation
// or an error ends the task.
func (a *Agent) loop(ctx context.Context, r *run, logger *zap.Logger) (bool, string, error) {
	for {
		if err := cancellationFrom(ctx); err != nil {
			return false, "", err
		}
		stepStart := time.Now()
		a.hooks.beforeStep(ctx, r.step+1)

		if err := a.awaitUnpause(ctx, r); err != nil {
			return false, "", err
		}

		a.setState(r, StateRequestingDecision)
		resp, err := a.requestDecision(ctx, r)
		if err != nil {
			return false, "", err
		}
		decision := resp.Decision
		call := decision.Action
		if call.Input == nil {
			call.Input = map[string]any{}
		}
		if call.Tool == "" {
			return false, "", &DecodeError{Raw: resp.Output, Err: errors.New("decision did not select a tool")}
		}
		if err := a.schema.ValidateInput(call.Tool, call.Input); err != nil {
			return false, "", err
		}

		a.publish(r, Event{
			Type: EventThinking,
			Step: r.step + 1,
			Text: fmt.Sprintf("%s\n%s\n%s", decision.EvaluationPreviousGoal, decision.Memory, decision.NextGoal),
		})

		if err := a.awaitUnpause(ctx, r); err != nil {
			return false, "", err
		}

		a.setState(r, StateExecutingTool)
		output, elapsed, err := a.executeTool(ctx, r, call, logger)
		if err != nil {
			return false, "", err
		}
		output = a.accountWait(r, call, output, elapsed)

		r.ledger.Append(StepRecord{
			Brain:    decision.Brain,
			Action:   ActionRecord{Name: call.Tool, Input: call.Input, Output: output},
			Usage:    resp.Usage,
			Duration: time.Since(stepStart),
		})
		r.step++
		a.hooks.afterStep(ctx, r.step, r.ledger.Snapshot())

		if call.Tool == ToolDone {
			success, text := doneOutcome(call.Input)
			return success, text, nil
		}
		if r.step >= r.maxSteps {
			logger.Warn("Task reached the step ceiling", zap.Int("steps", r.step))
			return false, "", ErrStepLimit
		}

		a.setState(r, StateRunning)
		if err := sleepCtx(ctx, a.cfg.StepDelay); err != nil {
			return false, "", err
		}
	}
}

// awaitUnpause blocks while the agent is paused.
func (a *Agent) awaitUnpause(ctx context.Context, r *run) error {
	if a.pause.Paused() {
		a.setState(r, StateAwaitingUnpause)
	}
	return a.pause.Wait(ctx)
}

func (a *Agent) requestDecision(ctx context.Context, r *run) (*InvokeResponse, error) {
	req := InvokeRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: a.prompts.systemPrompt()},
			{Role: RoleUser, Content: a.prompts.userPrompt(ctx, r, a.page, a.logger)},
		},
		Schema: a.schema,
	}

	resp, err := a.model.Invoke(ctx, req)
	if cerr := cancellationFrom(ctx); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		var (
			decodeErr   *DecodeError
			notFoundErr *ToolNotFoundError
		)
		if errors.As(err, &decodeErr) || errors.As(err, &notFoundErr) {
			return nil, err
		}
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}
	if resp == nil {
		return nil, errors.New("model invocation returned no response")
	}
	return resp, nil
}

func (a *Agent) executeTool(ctx context.Context, r *run, call ActionCall, logger *zap.Logger) (string, time.Duration, error) {
	ec := &ExecutionContext{
		TaskID: r.id,
		Step:   r.step + 1,
		Page:   a.page,
		UI:     a.ui,
		Logger: logger.Named("tool").With(zap.String("tool", call.Tool)),
	}

	a.publish(r, Event{Type: EventToolExecuting, Step: ec.Step, Tool: call.Tool, Args: call.Input})
	start := time.Now()
	output, err := a.tools.Execute(ctx, ec, call.Tool, call.Input)
	elapsed := time.Since(start)

	// A tool that returns output has completed its step even when the task
	// was cancelled meanwhile; the next checkpoint observes the cancellation.
	if err != nil {
		if cerr := cancellationFrom(ctx); cerr != nil {
			return "", elapsed, cerr
		}
		var toolErr *ToolExecutionError
		var notFoundErr *ToolNotFoundError
		if !errors.As(err, &toolErr) && !errors.As(err, &notFoundErr) {
			err = &ToolExecutionError{Tool: call.Tool, Code: ErrCodeToolExecution, Err: err}
		}
		logger.Warn("Tool execution failed", zap.String("tool", call.Tool), zap.Error(err))
		return "", elapsed, err
	}

	a.publish(r, Event{
		Type:     EventToolCompleted,
		Step:     ec.Step,
		Tool:     call.Tool,
		Args:     call.Input,
		Result:   output,
		Duration: elapsed,
	})
	return output, elapsed, nil
}

// accountWait updates the run's wait accumulator. Consecutive wait calls add
// their requested seconds plus any time spent beyond the request; any other
// tool resets the accumulator.
func (a *Agent) accountWait(r *run, call ActionCall, output string, elapsed time.Duration) string {
	if call.Tool != ToolWait {
		r.waitTotal = 0
		return output
	}
	requested := numberFrom(call.Input["seconds"])
	overshoot := math.Max(0, elapsed.Seconds()-requested)
	r.waitTotal = int(math.Round(float64(r.waitTotal) + requested + overshoot))
	if r.waitTotal >= waitAdvisoryThreshold {
		output += a.prompts.waitAdvisory(r.waitTotal)
	}
	return output
}

func doneOutcome(input map[string]any) (bool, string) {
	success, _ := input["success"].(bool)
	text, _ := input["text"].(string)
	if text == "" {
		text = defaultDoneText
	}
	return success, text
}

func numberFrom(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case interface{ Float64() (float64, error) }:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return cancellationFrom(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return cancellationFrom(ctx)
	case <-timer.C:
		return nil
	}
}

// internal/agent/hooks.go
package agent

import "context"

// Hooks are optional lifecycle callbacks. They run synchronously on the
// loop's goroutine, so a slow hook delays the task.
type Hooks struct {
	BeforeTask func(ctx context.Context, taskID, task string)
	// AfterTask receives a context that outlives the task's cancellation so
	// it can still perform I/O for a cancelled task.
	AfterTask  func(ctx context.Context, result *ExecutionResult)
	BeforeStep func(ctx context.Context, step int)
	AfterStep  func(ctx context.Context, step int, history []StepRecord)
	OnDispose  func(reason string)
}

func (h Hooks) beforeTask(ctx context.Context, taskID, task string) {
	if h.BeforeTask != nil {
		h.BeforeTask(ctx, taskID, task)
	}
}

func (h Hooks) afterTask(ctx context.Context, result *ExecutionResult) {
	if h.AfterTask != nil {
		h.AfterTask(ctx, result)
	}
}

func (h Hooks) beforeStep(ctx context.Context, step int) {
	if h.BeforeStep != nil {
		h.BeforeStep(ctx, step)
	}
}

func (h Hooks) afterStep(ctx context.Context, step int, history []StepRecord) {
	if h.AfterStep != nil {
		h.AfterStep(ctx, step, history)
	}
}

func (h Hooks) onDispose(reason string) {
	if h.OnDispose != nil {
		h.OnDispose(reason)
	}
}

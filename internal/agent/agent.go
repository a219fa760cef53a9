package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/undefined996/page-agent/internal/config"
)

// Options wires an Agent to its collaborators.
type Options struct {
	Config config.AgentConfig
	Model  ModelClient
	Page   PageController
	UI     UserInterface
	// Tools is the built-in tool set.
	Tools []Tool
	// Overrides is merged over Tools: a nil value removes a tool, any other
	// value inserts or replaces it.
	Overrides map[string]Tool
	Hooks     Hooks
	// Events is created with Config.EventBufferSize when nil.
	Events *EventBus
	Logger *zap.Logger
}

// Agent drives tasks through the decide/execute step loop.
type Agent struct {
	id      string
	cfg     config.AgentConfig
	logger  *zap.Logger
	model   ModelClient
	page    PageController
	ui      UserInterface
	hooks   Hooks
	events  *EventBus
	tools   *Registry
	schema  *DecisionSchema
	prompts *promptBuilder
	pause   *PauseController

	// slot admits one loop at a time.
	slot *semaphore.Weighted

	mu            sync.Mutex
	state         AgentState
	disposed      bool
	generation    uint64
	inflight      int
	cancelCurrent context.CancelCauseFunc
	ledger        *Ledger
}

// New validates the options, composes the decision schema and returns an
// idle agent.
func New(opts Options) (*Agent, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("a model client is required")
	}
	if opts.UI == nil {
		return nil, fmt.Errorf("a user interface is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	if opts.Config.OverlapPolicy == "" {
		opts.Config.OverlapPolicy = config.OverlapSupersede
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()[:8]
	logger = logger.Named("agent").With(zap.String("agent_id", id))

	registry, err := NewRegistry(logger, opts.Tools...)
	if err != nil {
		return nil, fmt.Errorf("failed to register built-in tools: %w", err)
	}
	disabled := make(map[string]Tool, len(opts.Config.DisabledTools))
	for _, name := range opts.Config.DisabledTools {
		disabled[name] = nil
	}
	if err := registry.ApplyOverrides(disabled); err != nil {
		return nil, err
	}
	if err := registry.ApplyOverrides(opts.Overrides); err != nil {
		return nil, fmt.Errorf("failed to apply tool overrides: %w", err)
	}

	schema, err := Compose(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to compose decision schema: %w", err)
	}

	events := opts.Events
	if events == nil {
		events = NewEventBus(logger, opts.Config.EventBufferSize)
	}

	a := &Agent{
		id:      id,
		cfg:     opts.Config,
		logger:  logger,
		model:   opts.Model,
		page:    opts.Page,
		ui:      opts.UI,
		hooks:   opts.Hooks,
		events:  events,
		tools:   registry,
		schema:  schema,
		prompts: newPromptBuilder(opts.Config.Language, opts.Config.Instructions, schema),
		pause:   NewPauseController(),
		slot:    semaphore.NewWeighted(1),
		state:   StateIdle,
		ledger:  NewLedger(),
	}
	logger.Debug("Agent initialized", zap.Strings("tools", schema.ToolNames()), zap.Int("max_steps", a.cfg.MaxSteps))
	return a, nil
}

// Execute runs task to completion and returns its result. A non-nil error
// means the task never started: the task was empty, the agent was disposed,
// or the overlap policy rejected it. Every other outcome, including
// cancellation, is reported through the result.
func (a *Agent) Execute(ctx context.Context, task string) (*ExecutionResult, error) {
	if strings.TrimSpace(task) == "" {
		return nil, ErrTaskInput
	}

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil, ErrDisposed
	}
	if a.inflight > 0 && a.cfg.OverlapPolicy == config.OverlapReject {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	if a.cancelCurrent != nil {
		a.cancelCurrent(ErrSuperseded)
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	a.cancelCurrent = cancel
	a.generation++
	a.inflight++
	r := newRun(task, a.generation, a.cfg.MaxSteps)
	a.mu.Unlock()

	defer func() {
		cancel(nil)
		a.mu.Lock()
		a.inflight--
		if a.inflight == 0 && !a.disposed {
			a.state = StateIdle
		}
		a.mu.Unlock()
	}()

	// Wait for a superseded loop to drain before touching shared state.
	if err := a.slot.Acquire(runCtx, 1); err != nil {
		return a.finish(runCtx, r, false, "", cancellationFrom(runCtx)), nil
	}
	defer a.slot.Release(1)

	return a.runTask(runCtx, r), nil
}

// Pause suspends the running task at its next suspension point.
func (a *Agent) Pause() {
	if a.pause.Pause() {
		a.logger.Info("Agent paused")
		a.events.Publish(Event{Type: EventPaused})
	}
}

// Resume releases a paused task.
func (a *Agent) Resume() {
	if a.pause.Resume() {
		a.logger.Info("Agent resumed")
		a.events.Publish(Event{Type: EventResumed})
	}
}

// Paused reports whether the agent is paused.
func (a *Agent) Paused() bool {
	return a.pause.Paused()
}

// Dispose cancels the running task with reason and releases the agent for
// good. Later calls to Execute return ErrDisposed.
func (a *Agent) Dispose(reason string) {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	a.state = StateDisposed
	cancel := a.cancelCurrent
	a.ledger = NewLedger()
	a.mu.Unlock()

	if cancel != nil {
		cancel(fmt.Errorf("%w: %s", ErrDisposed, reason))
	}
	a.logger.Info("Agent disposed", zap.String("reason", reason))
	a.hooks.onDispose(reason)
	a.events.Shutdown()
}

// State reports where the agent is in the step loop.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a copy of the most recent task's step records.
func (a *Agent) History() []StepRecord {
	a.mu.Lock()
	ledger := a.ledger
	a.mu.Unlock()
	return ledger.Snapshot()
}

// Schema returns the composed decision schema.
func (a *Agent) Schema() *DecisionSchema {
	return a.schema
}

// Events returns the bus the agent publishes on.
func (a *Agent) Events() *EventBus {
	return a.events
}

// setState records s unless r has been superseded.
func (a *Agent) setState(r *run, s AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.generation == a.generation && !a.disposed {
		a.state = s
	}
}

// activate makes r's ledger the one History reports.
func (a *Agent) activate(r *run) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.disposed {
		a.ledger = r.ledger
	}
	if r.generation == a.generation && !a.disposed {
		a.state = StateRunning
	}
}

func (a *Agent) publish(r *run, evt Event) {
	evt.TaskID = r.id
	if evt.Step == 0 {
		evt.Step = r.step
	}
	a.events.Publish(evt)
}

// run is the state owned by a single Execute call.
type run struct {
	id         string
	task       string
	generation uint64
	ledger     *Ledger
	step       int
	maxSteps   int
	waitTotal  int
	startedAt  time.Time
}

func newRun(task string, generation uint64, maxSteps int) *run {
	return &run{
		id:         uuid.NewString(),
		task:       task,
		generation: generation,
		ledger:     NewLedger(),
		maxSteps:   maxSteps,
		startedAt:  time.Now().UTC(),
	}
}

// internal/agent/interfaces.go
package agent

import (
	"context"

	"go.uber.org/zap"
)

// Tool is a named capability the model can select. A tool's identity is its
// name; the input schema is a JSON Schema object describing its parameters.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	// Execute runs the tool. input has already been validated against
	// InputSchema. The returned string is recorded as the step's output.
	Execute(ctx context.Context, ec *ExecutionContext, input map[string]any) (string, error)
}

// ExecutionContext is the explicit environment handed to a tool.
type ExecutionContext struct {
	TaskID string
	Step   int
	Page   PageController
	UI     UserInterface
	Logger *zap.Logger
}

// ModelClient requests one decision from a language model. Implementations
// decode the output with req.Schema and must honour ctx cancellation.
type ModelClient interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)
}

// BrowserState is the flattened view of the page offered to the model.
type BrowserState struct {
	URL     string
	Title   string
	Header  string
	Content string
	Footer  string
}

// ScrollOptions parameterizes both scroll directions.
type ScrollOptions struct {
	// Forward means down for vertical and right for horizontal scrolling.
	Forward  bool
	NumPages float64
	Pixels   int
	// Index targets a scrollable element; nil scrolls the document.
	Index *int
}

// PageController is the host page the tools act on.
type PageController interface {
	BrowserState(ctx context.Context) (*BrowserState, error)
	ClickElement(ctx context.Context, index int) (string, error)
	InputText(ctx context.Context, index int, text string) (string, error)
	SelectOption(ctx context.Context, index int, optionText string) (string, error)
	Scroll(ctx context.Context, opts ScrollOptions) (string, error)
	ScrollHorizontally(ctx context.Context, opts ScrollOptions) (string, error)
	ExecuteJavascript(ctx context.Context, script string) (string, error)
	CleanUp(ctx context.Context) error
}

// UserInterface is the host surface facing the person who issued the task.
type UserInterface interface {
	AskUser(ctx context.Context, question string) (string, error)
	// Done is invoked exactly once per task with its final success state.
	Done(ctx context.Context, success bool)
}

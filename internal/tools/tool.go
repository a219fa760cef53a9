// internal/tools/tool.go
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/undefined996/page-agent/internal/agent"
)

// ErrNoPage is returned by page tools when the agent has no page attached.
var ErrNoPage = errors.New("no page is attached to the agent")

// Func is the typed body of a tool. in holds the decoded, already validated
// input.
type Func[In any] func(ctx context.Context, ec *agent.ExecutionContext, in In) (string, error)

type typedTool[In any] struct {
	name        string
	description string
	schema      map[string]any
	fn          Func[In]
}

// New builds an agent.Tool whose input map is decoded into In before fn runs.
// Fields of In are matched by their `mapstructure` tag.
func New[In any](name, description string, schema map[string]any, fn Func[In]) agent.Tool {
	return &typedTool[In]{name: name, description: description, schema: schema, fn: fn}
}

func (t *typedTool[In]) Name() string                { return t.name }
func (t *typedTool[In]) Description() string         { return t.description }
func (t *typedTool[In]) InputSchema() map[string]any { return t.schema }

func (t *typedTool[In]) Execute(ctx context.Context, ec *agent.ExecutionContext, input map[string]any) (string, error) {
	var in In
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &in,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return "", err
	}
	if err := decoder.Decode(input); err != nil {
		return "", &agent.ToolExecutionError{
			Tool: t.name,
			Code: agent.ErrCodeInvalidArgument,
			Err:  fmt.Errorf("failed to decode input: %w", err),
		}
	}
	return t.fn(ctx, ec, in)
}

// pageOf returns the page from ec or ErrNoPage.
func pageOf(ec *agent.ExecutionContext) (agent.PageController, error) {
	if ec == nil || ec.Page == nil {
		return nil, ErrNoPage
	}
	return ec.Page, nil
}

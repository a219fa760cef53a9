// internal/tools/builtin.go
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/undefined996/page-agent/internal/agent"
)

// Tool names beyond the two the agent treats specially.
const (
	AskUser            = "ask_user"
	ClickElement       = "click_element_by_index"
	InputText          = "input_text"
	SelectOption       = "select_dropdown_option"
	Scroll             = "scroll"
	ScrollHorizontally = "scroll_horizontally"
	ExecuteJavascript  = "execute_javascript"
)

// Builtin returns the default tool set.
func Builtin() []agent.Tool {
	return []agent.Tool{
		Done(),
		Wait(),
		AskUserTool(),
		Click(),
		Input(),
		Select(),
		ScrollTool(),
		ScrollHorizontallyTool(),
		ExecuteJavascriptTool(),
	}
}

// -- Schema helpers --

func object(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

func prop(typ, description string, extra ...any) map[string]any {
	p := map[string]any{"type": typ, "description": description}
	for i := 0; i+1 < len(extra); i += 2 {
		p[extra[i].(string)] = extra[i+1]
	}
	return p
}

func indexProp() map[string]any {
	return prop("integer", "Index of the element in the browser state.", "minimum", 0)
}

// -- Terminal and flow tools --

type doneInput struct {
	Text    string `mapstructure:"text"`
	Success bool   `mapstructure:"success"`
}

// Done ends the task. The agent reads success and text from its input.
func Done() agent.Tool {
	return New(agent.ToolDone,
		"Complete the task. Set success to false if the task could not be completed and explain why in text.",
		object(nil, map[string]any{
			"text":    prop("string", "The final answer or summary for the user."),
			"success": prop("boolean", "Whether the task was completed."),
		}),
		func(_ context.Context, _ *agent.ExecutionContext, in doneInput) (string, error) {
			return in.Text, nil
		},
	)
}

type waitInput struct {
	Seconds float64 `mapstructure:"seconds"`
}

// Wait sleeps for the requested number of seconds.
func Wait() agent.Tool {
	return New(agent.ToolWait,
		"Wait for a number of seconds, for example while the page is loading.",
		object([]string{"seconds"}, map[string]any{
			"seconds": prop("number", "Seconds to wait, between 1 and 10.", "minimum", 1, "maximum", 10),
		}),
		func(ctx context.Context, _ *agent.ExecutionContext, in waitInput) (string, error) {
			timer := time.NewTimer(time.Duration(in.Seconds * float64(time.Second)))
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-timer.C:
			}
			return fmt.Sprintf("Waited for %g seconds", in.Seconds), nil
		},
	)
}

type askUserInput struct {
	Question string `mapstructure:"question"`
}

// AskUserTool forwards a question to the user and returns the answer.
func AskUserTool() agent.Tool {
	return New(AskUser,
		"Ask the user a question when the task cannot continue without their input.",
		object([]string{"question"}, map[string]any{
			"question": prop("string", "The question for the user.", "minLength", 1),
		}),
		func(ctx context.Context, ec *agent.ExecutionContext, in askUserInput) (string, error) {
			if ec == nil || ec.UI == nil {
				return "", fmt.Errorf("no user interface is attached")
			}
			answer, err := ec.UI.AskUser(ctx, in.Question)
			if err != nil {
				return "", err
			}
			return "User answered: " + answer, nil
		},
	)
}

// -- Page tools --

type indexInput struct {
	Index int `mapstructure:"index"`
}

// Click clicks an indexed element.
func Click() agent.Tool {
	return New(ClickElement,
		"Click the element with the given index.",
		object([]string{"index"}, map[string]any{"index": indexProp()}),
		func(ctx context.Context, ec *agent.ExecutionContext, in indexInput) (string, error) {
			page, err := pageOf(ec)
			if err != nil {
				return "", err
			}
			return page.ClickElement(ctx, in.Index)
		},
	)
}

type textInput struct {
	Index int    `mapstructure:"index"`
	Text  string `mapstructure:"text"`
}

// Input types text into an indexed input element.
func Input() agent.Tool {
	return New(InputText,
		"Click and type text into the input element with the given index.",
		object([]string{"index", "text"}, map[string]any{
			"index": indexProp(),
			"text":  prop("string", "The text to type."),
		}),
		func(ctx context.Context, ec *agent.ExecutionContext, in textInput) (string, error) {
			page, err := pageOf(ec)
			if err != nil {
				return "", err
			}
			return page.InputText(ctx, in.Index, in.Text)
		},
	)
}

// Select chooses an option of an indexed select element by its visible text.
func Select() agent.Tool {
	return New(SelectOption,
		"Select an option of the dropdown element with the given index by the option's text.",
		object([]string{"index", "text"}, map[string]any{
			"index": indexProp(),
			"text":  prop("string", "The visible text of the option."),
		}),
		func(ctx context.Context, ec *agent.ExecutionContext, in textInput) (string, error) {
			page, err := pageOf(ec)
			if err != nil {
				return "", err
			}
			return page.SelectOption(ctx, in.Index, in.Text)
		},
	)
}

type scrollInput struct {
	Down     bool     `mapstructure:"down"`
	NumPages *float64 `mapstructure:"num_pages"`
	Pixels   *int     `mapstructure:"pixels"`
	Index    *int     `mapstructure:"index"`
}

// ScrollTool scrolls the document or an indexed container vertically.
// Without num_pages or pixels it scrolls one page.
func ScrollTool() agent.Tool {
	return New(Scroll,
		"Scroll the page, or the scrollable element with the given index, vertically.",
		object([]string{"down"}, map[string]any{
			"down":      prop("boolean", "True to scroll down, false to scroll up."),
			"num_pages": prop("number", "Number of pages to scroll.", "minimum", 0, "maximum", 10),
			"pixels":    prop("integer", "Number of pixels to scroll; overrides num_pages.", "minimum", 0),
			"index":     indexProp(),
		}),
		func(ctx context.Context, ec *agent.ExecutionContext, in scrollInput) (string, error) {
			page, err := pageOf(ec)
			if err != nil {
				return "", err
			}
			opts := agent.ScrollOptions{Forward: in.Down, Index: in.Index, NumPages: 1}
			if in.NumPages != nil {
				opts.NumPages = *in.NumPages
			}
			if in.Pixels != nil {
				opts.Pixels = *in.Pixels
				opts.NumPages = 0
			}
			return page.Scroll(ctx, opts)
		},
	)
}

type scrollHorizontalInput struct {
	Right  bool `mapstructure:"right"`
	Pixels int  `mapstructure:"pixels"`
	Index  *int `mapstructure:"index"`
}

// ScrollHorizontallyTool scrolls the document or an indexed container sideways.
func ScrollHorizontallyTool() agent.Tool {
	return New(ScrollHorizontally,
		"Scroll the page, or the scrollable element with the given index, horizontally.",
		object([]string{"right", "pixels"}, map[string]any{
			"right":  prop("boolean", "True to scroll right, false to scroll left."),
			"pixels": prop("integer", "Number of pixels to scroll.", "minimum", 0),
			"index":  indexProp(),
		}),
		func(ctx context.Context, ec *agent.ExecutionContext, in scrollHorizontalInput) (string, error) {
			page, err := pageOf(ec)
			if err != nil {
				return "", err
			}
			return page.ScrollHorizontally(ctx, agent.ScrollOptions{Forward: in.Right, Pixels: in.Pixels, Index: in.Index})
		},
	)
}

type scriptInput struct {
	Script string `mapstructure:"script"`
}

// ExecuteJavascriptTool evaluates a script in the page and returns its result.
func ExecuteJavascriptTool() agent.Tool {
	return New(ExecuteJavascript,
		"Execute JavaScript in the page. The script may return a value or a promise; the result is returned as text.",
		object([]string{"script"}, map[string]any{
			"script": prop("string", "The JavaScript source to evaluate.", "minLength", 1),
		}),
		func(ctx context.Context, ec *agent.ExecutionContext, in scriptInput) (string, error) {
			page, err := pageOf(ec)
			if err != nil {
				return "", err
			}
			if ec.Logger != nil {
				ec.Logger.Debug("Executing page script", zap.Int("length", len(in.Script)))
			}
			out, err := page.ExecuteJavascript(ctx, in.Script)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "Script executed with no result", nil
			}
			return out, nil
		},
	)
}

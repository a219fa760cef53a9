// internal/agent/prompt.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// promptBuilder assembles the two messages sent to the model on each step.
type promptBuilder struct {
	cat          *catalog
	instructions string
	schema       *DecisionSchema
	descriptions map[string]string
	now          func() time.Time
}

func newPromptBuilder(lang, instructions string, schema *DecisionSchema) *promptBuilder {
	descriptions := make(map[string]string, len(schema.names))
	for name, v := range schema.variants {
		descriptions[name] = v.description
	}
	return &promptBuilder{
		cat:          catalogFor(lang),
		instructions: strings.TrimSpace(instructions),
		schema:       schema,
		descriptions: descriptions,
		now:          time.Now,
	}
}

func (p *promptBuilder) systemPrompt() string {
	var b strings.Builder
	b.WriteString(p.cat.systemIntro)
	b.WriteString("\n\n")
	b.WriteString(p.cat.toolsHeading)
	b.WriteString("\n")
	for _, name := range p.schema.names {
		fmt.Fprintf(&b, "- %s: %s\n", name, p.descriptions[name])
	}
	b.WriteString("\n")
	b.WriteString(p.cat.systemRules)
	b.WriteString("\n\n")
	b.WriteString(p.cat.outputFormat)
	if p.instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(p.cat.extraHeading)
		b.WriteString("\n")
		b.WriteString(p.instructions)
	}
	return b.String()
}

// userPrompt renders the history, the agent state and the page state.
func (p *promptBuilder) userPrompt(ctx context.Context, r *run, page PageController, logger *zap.Logger) string {
	var b strings.Builder

	b.WriteString("<agent_history>\n")
	history := r.ledger.Snapshot()
	if len(history) == 0 {
		b.WriteString(p.cat.historyEmpty)
		b.WriteString("\n")
	}
	for i, rec := range history {
		fmt.Fprintf(&b, "<step_%d>\n", i+1)
		fmt.Fprintf(&b, "%s: %s\n", p.cat.evaluation, rec.Brain.EvaluationPreviousGoal)
		fmt.Fprintf(&b, "%s: %s\n", p.cat.memory, rec.Brain.Memory)
		fmt.Fprintf(&b, "%s: %s\n", p.cat.nextGoal, rec.Brain.NextGoal)
		fmt.Fprintf(&b, "%s: %s(%s) -> %s\n", p.cat.actionResult, rec.Action.Name, renderInput(rec.Action.Input), rec.Action.Output)
		fmt.Fprintf(&b, "</step_%d>\n", i+1)
	}
	b.WriteString("</agent_history>\n\n")

	b.WriteString("<agent_state>\n")
	fmt.Fprintf(&b, "<user_request>\n%s\n</user_request>\n", r.task)
	b.WriteString("<step_info>\n")
	fmt.Fprintf(&b, p.cat.stepInfo, r.step+1, r.maxSteps)
	fmt.Fprintf(&b, "\n%s: %s\n", p.cat.currentTime, p.now().Format("2006-01-02 15:04"))
	b.WriteString("</step_info>\n")
	b.WriteString("</agent_state>\n\n")

	b.WriteString("<browser_state>\n")
	b.WriteString(p.browserState(ctx, page, logger))
	b.WriteString("\n</browser_state>")
	return b.String()
}

func (p *promptBuilder) browserState(ctx context.Context, page PageController, logger *zap.Logger) string {
	if page == nil {
		return p.cat.noPageAttached
	}
	state, err := page.BrowserState(ctx)
	if err != nil {
		// The step continues; the model sees the failure and can react to it.
		logger.Warn("Failed to read browser state", zap.Error(err))
		return fmt.Sprintf(p.cat.stateError, err)
	}

	title := state.Title
	if title == "" {
		title = p.cat.pageUnknown
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: [%s](%s)\n", p.cat.currentPage, title, state.URL)
	for _, part := range []string{state.Header, state.Content, state.Footer} {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteString(part)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *promptBuilder) waitAdvisory(total int) string {
	return fmt.Sprintf(p.cat.waitAdvisory, total)
}

func renderInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(raw)
}

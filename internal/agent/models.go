// internal/agent/models.go
package agent

import (
	"time"
)

// AgentState is the orchestrator's position in the step loop.
type AgentState string

const (
	StateIdle               AgentState = "IDLE"                // No task is running.
	StateRunning            AgentState = "RUNNING"             // A task has started and is between suspension points.
	StateRequestingDecision AgentState = "REQUESTING_DECISION" // Waiting on the model client.
	StateAwaitingUnpause    AgentState = "AWAITING_UNPAUSE"    // Suspended until Resume or cancellation.
	StateExecutingTool      AgentState = "EXECUTING_TOOL"      // Waiting on a tool.
	StateCompleted          AgentState = "COMPLETED"           // The last task finished through the terminal tool with success.
	StateFailed             AgentState = "FAILED"              // The last task ended in failure.
	StateDisposed           AgentState = "DISPOSED"            // Terminal; the agent accepts no more tasks.
)

// Designated tool names the loop treats specially.
const (
	ToolDone = "done"
	ToolWait = "wait"
)

// Brain holds the model's narrative reasoning for one step.
type Brain struct {
	EvaluationPreviousGoal string `json:"evaluation_previous_goal"`
	Memory                 string `json:"memory"`
	NextGoal               string `json:"next_goal"`
}

// ActionCall is the single tool invocation selected by a decision.
type ActionCall struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Decision is the structured output of the model for one step.
type Decision struct {
	Brain
	Action ActionCall `json:"action"`
}

// ActionRecord is the executed action as stored in history.
type ActionRecord struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	Output string         `json:"output"`
}

// Usage is the token accounting reported by the model client.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	CachedTokens     *int `json:"cached_tokens,omitempty"`
	ReasoningTokens  *int `json:"reasoning_tokens,omitempty"`
}

// StepRecord is the immutable record of one completed step.
type StepRecord struct {
	Brain    Brain         `json:"brain"`
	Action   ActionRecord  `json:"action"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// ExecutionResult is what Execute returns for every task that started.
type ExecutionResult struct {
	TaskID     string       `json:"task_id"`
	Task       string       `json:"task"`
	Success    bool         `json:"success"`
	Data       string       `json:"data"`
	History    []StepRecord `json:"history"`
	ErrorCode  ErrorCode    `json:"error_code,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Role identifies the author of a prompt message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one prompt message sent to the model client.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// InvokeRequest is a single decision request.
type InvokeRequest struct {
	Messages []Message
	Schema   *DecisionSchema
}

// InvokeResponse carries the decoded decision and its accounting.
type InvokeResponse struct {
	Decision Decision
	// Output is the raw text the decision was decoded from.
	Output string
	Usage  Usage
}

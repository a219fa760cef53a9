package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/undefined996/page-agent/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Run is one persisted task execution.
type Run struct {
	ID         string
	Task       string
	Success    bool
	Data       string
	ErrorCode  string
	StepCount  int
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []Step
}

// Step is one persisted step of a run.
type Step struct {
	RunID                  string
	Step                   int
	Tool                   string
	Input                  []byte
	Output                 string
	EvaluationPreviousGoal string
	Memory                 string
	NextGoal               string
	PromptTokens           int
	CompletionTokens       int
	TotalTokens            int
	Duration               time.Duration
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agent_runs (
        id UUID PRIMARY KEY,
        task TEXT NOT NULL,
        success BOOLEAN NOT NULL,
        data TEXT NOT NULL,
        error_code TEXT NOT NULL DEFAULT '',
        step_count INTEGER NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS agent_steps (
        run_id UUID NOT NULL REFERENCES agent_runs (id) ON DELETE CASCADE,
        step INTEGER NOT NULL,
        tool TEXT NOT NULL,
        input JSONB NOT NULL,
        output TEXT NOT NULL,
        evaluation_previous_goal TEXT NOT NULL,
        memory TEXT NOT NULL,
        next_goal TEXT NOT NULL,
        prompt_tokens INTEGER NOT NULL,
        completion_tokens INTEGER NOT NULL,
        total_tokens INTEGER NOT NULL,
        duration_ms BIGINT NOT NULL,
        PRIMARY KEY (run_id, step)
    )`,
	`CREATE INDEX IF NOT EXISTS agent_runs_started_at_idx ON agent_runs (started_at DESC)`,
}

var stepColumns = []string{
	"run_id", "step", "tool", "input", "output",
	"evaluation_previous_goal", "memory", "next_goal",
	"prompt_tokens", "completion_tokens", "total_tokens", "duration_ms",
}

// Store persists agent runs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the run tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// RunFromResult converts an execution result into its persisted form.
func RunFromResult(result *agent.ExecutionResult) (Run, error) {
	run := Run{
		ID:         result.TaskID,
		Task:       result.Task,
		Success:    result.Success,
		Data:       result.Data,
		ErrorCode:  string(result.ErrorCode),
		StepCount:  len(result.History),
		StartedAt:  result.StartedAt.UTC(),
		FinishedAt: result.FinishedAt.UTC(),
		Steps:      make([]Step, 0, len(result.History)),
	}
	for i, rec := range result.History {
		input := rec.Action.Input
		if input == nil {
			input = map[string]any{}
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return Run{}, fmt.Errorf("failed to encode input of step %d: %w", i+1, err)
		}
		run.Steps = append(run.Steps, Step{
			RunID:                  result.TaskID,
			Step:                   i + 1,
			Tool:                   rec.Action.Name,
			Input:                  raw,
			Output:                 rec.Action.Output,
			EvaluationPreviousGoal: rec.Brain.EvaluationPreviousGoal,
			Memory:                 rec.Brain.Memory,
			NextGoal:               rec.Brain.NextGoal,
			PromptTokens:           rec.Usage.PromptTokens,
			CompletionTokens:       rec.Usage.CompletionTokens,
			TotalTokens:            rec.Usage.TotalTokens,
			Duration:               rec.Duration,
		})
	}
	return run, nil
}

// SaveRun inserts the run row and its steps in a single transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
        INSERT INTO agent_runs (id, task, success, data, error_code, step_count, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `, run.ID, run.Task, run.Success, run.Data, run.ErrorCode, run.StepCount, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(run.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, run.Steps); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted", zap.String("run_id", run.ID), zap.Int("steps", len(run.Steps)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, steps []Step) error {
	rows := make([][]any, len(steps))
	for i, st := range steps {
		rows[i] = []any{
			st.RunID, st.Step, st.Tool, st.Input, st.Output,
			st.EvaluationPreviousGoal, st.Memory, st.NextGoal,
			st.PromptTokens, st.CompletionTokens, st.TotalTokens,
			st.Duration.Milliseconds(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"agent_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, without their steps.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT id, task, success, data, error_code, step_count, started_at, finished_at
        FROM agent_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Task, &r.Success, &r.Data, &r.ErrorCode, &r.StepCount, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// ListSteps returns the steps of one run in order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]Step, error) {
	query := `
        SELECT step, tool, input, output, evaluation_previous_goal, memory, next_goal,
               prompt_tokens, completion_tokens, total_tokens, duration_ms
        FROM agent_steps
        WHERE run_id = $1
        ORDER BY step ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		st := Step{RunID: runID}
		var durationMS int64
		err := rows.Scan(
			&st.Step, &st.Tool, &st.Input, &st.Output,
			&st.EvaluationPreviousGoal, &st.Memory, &st.NextGoal,
			&st.PromptTokens, &st.CompletionTokens, &st.TotalTokens,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		st.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return steps, nil
}

// AfterTaskHook persists every finished task. Failures are logged, not
// returned, since the task result has already been produced.
func (s *Store) AfterTaskHook() func(ctx context.Context, result *agent.ExecutionResult) {
	return func(ctx context.Context, result *agent.ExecutionResult) {
		run, err := RunFromResult(result)
		if err == nil {
			err = s.SaveRun(ctx, run)
		}
		if err != nil {
			s.log.Error("Failed to persist run", zap.String("run_id", result.TaskID), zap.Error(err))
		}
	}
}

// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/browser"
	"github.com/undefined996/page-agent/internal/config"
	"github.com/undefined996/page-agent/internal/llmclient"
	"github.com/undefined996/page-agent/internal/observability"
	"github.com/undefined996/page-agent/internal/store"
	"github.com/undefined996/page-agent/internal/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var startURL string

	runCmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Runs a natural-language task against a browser page",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			task := strings.TrimSpace(strings.Join(args, " "))
			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			if startURL != "" {
				if err := components.Page.Navigate(ctx, startURL); err != nil {
					return err
				}
			}

			hooks := agent.Hooks{}
			if components.Store != nil {
				hooks.AfterTask = components.Store.AfterTaskHook()
			}

			a, err := agent.New(agent.Options{
				Config: cfg.Agent,
				Model:  components.Model,
				Page:   components.Page,
				UI:     newTerminalUI(cmd.InOrStdin(), cmd.ErrOrStderr()),
				Tools:  tools.Builtin(),
				Hooks:  hooks,
				Logger: logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}
			defer a.Dispose("command finished")

			events, unsubscribe := a.Events().Subscribe()
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				printEvents(cmd.ErrOrStderr(), events)
			}()

			result, err := a.Execute(ctx, task)
			unsubscribe()
			<-printed
			if err != nil {
				return err
			}
			if dropped := a.Events().Dropped(); dropped > 0 {
				logger.Warn("Progress events were dropped", zap.Int64("dropped", dropped))
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !result.Success {
				return fmt.Errorf("task did not succeed (%s)", failureLabel(result))
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&startURL, "url", "u", "", "Page to open before the task starts.")
	runCmd.Flags().Int("max-steps", 0, "Maximum number of steps. (Overrides config/env)")
	runCmd.Flags().String("language", "", "Prompt language, e.g. en-US or zh-CN. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run Chrome without a window. (Overrides config/env)")
	runCmd.Flags().String("provider", "", "Model provider: gemini or openai. (Overrides config/env)")
	runCmd.Flags().String("model", "", "Model name. (Overrides config/env)")
	return runCmd
}

func failureLabel(result *agent.ExecutionResult) string {
	if result.ErrorCode != "" {
		return string(result.ErrorCode)
	}
	return "reported unsuccessful"
}

// runComponents holds the collaborators of a single run.
type runComponents struct {
	Model  agent.ModelClient
	Page   *browser.Page
	Store  *store.Store
	DBPool *pgxpool.Pool
}

// Shutdown releases every initialized component.
func (rc *runComponents) Shutdown() {
	if rc.Page != nil {
		rc.Page.Close()
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	model, err := llmclient.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model client: %w", err)
	}
	components.Model = model

	if cfg.Store.Enabled {
		st, pool, err := openStore(ctx, cfg.Store, logger)
		if err != nil {
			return components, err
		}
		components.Store, components.DBPool = st, pool
	}

	page, err := browser.Launch(ctx, cfg.Browser, logger)
	if err != nil {
		return components, fmt.Errorf("failed to launch browser: %w", err)
	}
	components.Page = page
	return components, nil
}

// openStore connects to the run database and prepares the schema.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, nil, errors.New("store URL is not configured (PAGE_AGENT_STORE_URL)")
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if cfg.EnsureSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return st, pool, nil
}

// -- cmd/schema.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/config"
	"github.com/undefined996/page-agent/internal/observability"
	"github.com/undefined996/page-agent/internal/tools"
)

// newSchemaCmd prints the decision schema the model is asked to follow.
func newSchemaCmd() *cobra.Command {
	var namesOnly bool

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Prints the decision schema for the configured tool set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}

			schema, err := composeSchema(cfg.Agent, observability.GetLogger())
			if err != nil {
				return err
			}

			if namesOnly {
				for _, name := range schema.ToolNames() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			out, err := schema.JSON()
			if err != nil {
				return fmt.Errorf("failed to render schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	schemaCmd.Flags().BoolVar(&namesOnly, "names", false, "Print only the tool names.")
	return schemaCmd
}

// composeSchema builds the schema for the built-in tools minus the disabled ones.
func composeSchema(cfg config.AgentConfig, logger *zap.Logger) (*agent.DecisionSchema, error) {
	registry, err := agent.NewRegistry(logger, tools.Builtin()...)
	if err != nil {
		return nil, err
	}
	disabled := make(map[string]agent.Tool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = nil
	}
	if err := registry.ApplyOverrides(disabled); err != nil {
		return nil, err
	}
	return agent.Compose(registry)
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/cmd"
	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/flags"
)

// ValidateCmd should be used to represent the 'validate' command.
type ValidateCmd struct {
	*cmd.BaseCmd
	IncludeDisabled bool
}

// NewValidateCmd creates a newly configured (Cobra) command.
func NewValidateCmd(baseCmd *cmd.BaseCmd) (*cobra.Command, error) {
	c := &ValidateCmd{
		BaseCmd: baseCmd,
	}

	cobraCommand := &cobra.Command{
		Use:   "validate",
		Short: "Validates the MCP server configuration file",
		Long: "Validates the MCP server configuration file, reporting schema violations " +
			"and interpolation errors per server",
		RunE: c.run,
	}

	cobraCommand.Flags().BoolVar(
		&c.IncludeDisabled,
		"include-disabled",
		false,
		"Also validate servers marked as disabled",
	)

	return cobraCommand, nil
}

func (c *ValidateCmd) run(cobraCmd *cobra.Command, _ []string) error {
	var opts []config.Option
	if c.IncludeDisabled {
		opts = append(opts, config.WithIncludeDisabled())
	}
	if flags.WorkspaceFolder != "" {
		opts = append(opts, config.WithWorkspaceFolder(flags.WorkspaceFolder))
	}

	loader := &config.DefaultLoader{}
	result, err := loader.Load(flags.ConfigFile, opts...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cobraCmd.OutOrStdout()

	for _, name := range result.ServerIDs() {
		desc := result.Servers[name]
		state := "enabled"
		if desc.Disabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "✓ %s (%s, %s)\n", name, desc.Kind, state)
	}

	if len(result.Invalid) == 0 {
		fmt.Fprintf(out, "Configuration valid: %d server(s)\n", len(result.Servers))
		return nil
	}

	for _, srvErr := range result.Invalid {
		if len(srvErr.Violations) > 0 {
			fmt.Fprintf(out, "✗ %s:\n    %s\n", srvErr.Server, strings.Join(srvErr.Violations, "\n    "))
		} else {
			fmt.Fprintf(out, "✗ %s: %v\n", srvErr.Server, srvErr.Err)
		}
	}

	return fmt.Errorf("configuration contains %d invalid server(s)", len(result.Invalid))
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/cmd"
	"github.com/mcpherd/mcpherd/internal/flags"
)

// RootCmd should be used to represent the root command.
type RootCmd struct {
	*cmd.BaseCmd
}

func Execute() {
	rootCmd, err := NewRootCmd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring root command: %s\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates a newly configured (Cobra) command.
func NewRootCmd() (*cobra.Command, error) {
	c := &RootCmd{
		BaseCmd: &cmd.BaseCmd{},
	}

	rootCmd := &cobra.Command{
		Use:          "mcpherd <command> [args]",
		Short:        "'mcpherd' supervises connections to configured MCP servers.",
		Long:         c.longDescription(),
		SilenceUsage: true,
		Version:      cmd.Version(),
	}

	// Global flags
	flags.InitFlags(rootCmd.PersistentFlags())

	daemonCmd, err := NewDaemonCmd(c.BaseCmd)
	if err != nil {
		return nil, err
	}
	rootCmd.AddCommand(daemonCmd)

	validateCmd, err := NewValidateCmd(c.BaseCmd)
	if err != nil {
		return nil, err
	}
	rootCmd.AddCommand(validateCmd)

	return rootCmd, nil
}

func (c *RootCmd) longDescription() string {
	return `'mcpherd' loads an MCP server configuration file, establishes and supervises
connections to every enabled server, and exposes their state, tools, prompts
and resources via an HTTP API.`
}

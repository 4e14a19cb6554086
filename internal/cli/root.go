// Package cli implements the ring command line: the daemon entry point and a
// client for the control-plane API.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ErrNotLoggedIn is returned when a command needs a token and none is stored
// for the context.
var ErrNotLoggedIn = errors.New("not logged in; run `ring login`")

type app struct {
	configPath  string
	contextName string
	tokens      TokenStore
}

// NewRootCmd builds the command tree. tokens may be nil to use the OS keyring.
func NewRootCmd(version string, tokens TokenStore) *cobra.Command {
	if tokens == nil {
		tokens = keyringTokens{}
	}
	a := &app{tokens: tokens}

	root := &cobra.Command{
		Use:   "ring",
		Short: "Minimal container workload orchestrator",
		Long: `ring keeps Docker containers in line with declared deployments.
Run the daemon with "ring server start" and drive it with the other commands.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "ring version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&a.configPath, "config-file", DefaultConfigPath(), "CLI configuration file")
	root.PersistentFlags().StringVar(&a.contextName, "context", "", "context to use instead of the current one")

	root.AddCommand(
		newServerCmd(version),
		newInitCmd(),
		newApplyCmd(a),
		newLoginCmd(a),
		newDeploymentCmd(a),
		newUserCmd(a),
		newConfigCmd(a),
		newVersionCmd(version),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute(version string) {
	if err := NewRootCmd(version, nil).Execute(); err != nil {
		os.Exit(1)
	}
}

// client returns an API client for the selected context with its token.
func (a *app) client(requireToken bool) (*Client, error) {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	name, ctx, err := cfg.Resolve(a.contextName)
	if err != nil {
		return nil, err
	}
	token, err := a.tokens.Get(name)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if requireToken && token == "" {
		return nil, ErrNotLoggedIn
	}
	return NewClient(ctx, token)
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ring version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ring version %s\n", version)
		},
	}
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kemeter/ring/internal/config"
	"github.com/kemeter/ring/internal/controlplane"
	"github.com/kemeter/ring/internal/logging"
)

func newServerCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the ring daemon",
	}
	var configFile string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the API server and the reconcile loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return controlplane.Run(ctx, cfg, version)
		},
	}
	start.Flags().StringVarP(&configFile, "config", "c", "/etc/ring/ring.ini", "server configuration file (INI)")
	cmd.AddCommand(start)
	return cmd
}

func newInitCmd() *cobra.Command {
	var configFile, username, password string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and an admin user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			created, err := controlplane.Bootstrap(cmd.Context(), cfg.DBPath, username, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !created {
				fmt.Fprintf(out, "user %q already exists in %s\n", username, cfg.DBPath)
				return nil
			}
			fmt.Fprintf(out, "database %s ready, user %q created\n", cfg.DBPath, username)
			if password == "" {
				fmt.Fprintf(out, "default password is %q, change it with `ring user update`\n", controlplane.DefaultAdminPassword)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "/etc/ring/ring.ini", "server configuration file (INI)")
	cmd.Flags().StringVar(&username, "username", "admin", "name of the user to create")
	cmd.Flags().StringVar(&password, "password", "", "password of the user (default \"changeme\")")
	return cmd
}

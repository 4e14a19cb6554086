package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the control plane and store the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			name, ctx, err := cfg.Resolve(a.contextName)
			if err != nil {
				return err
			}
			if username == "" {
				username = ctx.Username
			}
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			client, err := NewClient(ctx, "")
			if err != nil {
				return err
			}
			token, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := a.tokens.Set(name, token); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (context %s)\n", username, name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "user name (defaults to the context's username)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit CLI contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(header("CURRENT", "NAME", "API URL", "CA CERT", "USERNAME"))
			for _, name := range cfg.names() {
				c := cfg.Contexts[name]
				mark := ""
				if name == cfg.CurrentContext {
					mark = "*"
				}
				t.AppendRow(table.Row{mark, name, c.APIURL, c.CACert, c.Username})
			}
			t.Render()
			return nil
		},
	}

	var c Context
	setContext := &cobra.Command{
		Use:   "set-context <name>",
		Short: "Create or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			cur := cfg.Contexts[args[0]]
			if cmd.Flags().Changed("api-url") {
				cur.APIURL = c.APIURL
			}
			if cmd.Flags().Changed("ca-cert") {
				cur.CACert = c.CACert
			}
			if cmd.Flags().Changed("username") {
				cur.Username = c.Username
			}
			if cur.APIURL == "" {
				cur.APIURL = defaultAPIURL
			}
			cfg.Contexts[args[0]] = cur
			if err := cfg.Save(a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "context %s saved\n", args[0])
			return nil
		},
	}
	setContext.Flags().StringVar(&c.APIURL, "api-url", "", "control plane URL, e.g. https://ring.example.com:3030")
	setContext.Flags().StringVar(&c.CACert, "ca-cert", "", "CA certificate to trust for TLS")
	setContext.Flags().StringVar(&c.Username, "username", "", "default user for login")

	useContext := &cobra.Command{
		Use:   "use-context <name>",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			if _, ok := cfg.Contexts[args[0]]; !ok {
				return fmt.Errorf("context %q not found", args[0])
			}
			cfg.CurrentContext = args[0]
			if err := cfg.Save(a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to context %s\n", args[0])
			return nil
		},
	}

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the token of the current context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			name, _, err := cfg.Resolve(a.contextName)
			if err != nil {
				return err
			}
			return a.tokens.Delete(name)
		},
	}

	cmd.AddCommand(setContext, useContext, logout)
	return cmd
}

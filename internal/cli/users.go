package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Aliases: []string{"users"},
		Short:   "Manage control-plane users",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(true)
			if err != nil {
				return err
			}
			users, err := client.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			renderUsers(cmd.OutOrStdout(), users)
			return nil
		},
	}

	var username, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			client, err := a.client(true)
			if err != nil {
				return err
			}
			u, err := client.CreateUser(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s created (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	create.Flags().StringVarP(&username, "username", "u", "", "user name")
	create.Flags().StringVarP(&password, "password", "p", "", "password")

	var newName, newPassword string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename a user or change its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if newName == "" && newPassword == "" {
				return errors.New("nothing to update: pass --username or --password")
			}
			client, err := a.client(true)
			if err != nil {
				return err
			}
			u, err := client.UpdateUser(cmd.Context(), args[0], newName, newPassword)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s updated\n", u.Username)
			return nil
		},
	}
	update.Flags().StringVarP(&newName, "username", "u", "", "new user name")
	update.Flags().StringVarP(&newPassword, "password", "p", "", "new password")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(true)
			if err != nil {
				return err
			}
			if err := client.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, create, update, del)
	return cmd
}

func renderUsers(out io.Writer, users []deployments.User) {
	if len(users) == 0 {
		fmt.Fprintln(out, text.FgYellow.Sprint("No users found"))
		return
	}
	t := newTable(out)
	t.AppendHeader(header("ID", "USERNAME", "STATUS", "LAST LOGIN"))
	for _, u := range users {
		login := "never"
		if u.LoginAt != nil {
			login = u.LoginAt.Local().Format(time.DateTime)
		}
		t.AppendRow(table.Row{u.ID, u.Username, u.Status, login})
	}
	t.Render()
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

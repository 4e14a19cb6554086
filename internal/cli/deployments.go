package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

func newDeploymentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployment",
		Aliases: []string{"deployments", "deploy"},
		Short:   "Inspect and delete deployments",
	}

	var namespace string
	list := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// listing is open on the API; send a token only if one is stored
			client, err := a.client(false)
			if err != nil {
				return err
			}
			items, err := client.ListDeployments(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			renderDeployments(cmd.OutOrStdout(), items)
			return nil
		},
	}
	list.Flags().StringVarP(&namespace, "namespace", "n", "", "only list this namespace")

	inspect := &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(true)
			if err != nil {
				return err
			}
			d, err := client.GetDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderDeployment(cmd.OutOrStdout(), d)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Mark a deployment deleted; its containers are removed by the next pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(true)
			if err != nil {
				return err
			}
			if err := client.DeleteDeployment(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deployment %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, inspect, del)
	return cmd
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}

func renderDeployments(out io.Writer, items []deployments.Deployment) {
	if len(items) == 0 {
		fmt.Fprintln(out, text.FgYellow.Sprint("No deployments found"))
		return
	}
	t := newTable(out)
	t.AppendHeader(header("ID", "NAMESPACE", "NAME", "IMAGE", "REPLICAS", "STATUS", "CREATED"))
	for _, d := range items {
		t.AppendRow(table.Row{
			d.ID,
			d.Namespace,
			d.Name,
			d.Image,
			fmt.Sprintf("%d/%d", len(d.Instances), d.Replicas),
			status(d.Status),
			d.CreatedAt.Local().Format(time.DateTime),
		})
	}
	t.Render()
}

func renderDeployment(out io.Writer, d deployments.Deployment) {
	t := newTable(out)
	t.AppendHeader(header("KEY", "VALUE"))
	t.AppendRows([]table.Row{
		{"id", d.ID},
		{"namespace", d.Namespace},
		{"name", d.Name},
		{"runtime", d.Runtime},
		{"image", d.Image},
		{"replicas", d.Replicas},
		{"status", status(d.Status)},
		{"network", deployments.NetworkName(d.Namespace)},
		{"instances", strings.Join(d.Instances, "\n")},
		{"labels", formatLabels(d.Labels)},
		{"secrets", strings.Join(sortedKeys(d.Secrets), "\n")},
		{"created", d.CreatedAt.Local().Format(time.DateTime)},
		{"updated", d.UpdatedAt.Local().Format(time.DateTime)},
	})
	t.Render()
}

func status(s deployments.Status) string {
	if s == deployments.StatusDeleted {
		return text.FgRed.Sprint(string(s))
	}
	return text.FgGreen.Sprint(string(s))
}

func formatLabels(l deployments.LabelSet) string {
	var lines []string
	for _, entry := range l {
		for _, k := range sortedKeys(entry) {
			lines = append(lines, k+"="+entry[k])
		}
	}
	return strings.Join(lines, "\n")
}

package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/manifest"
)

const watchDebounce = 500 * time.Millisecond

func newApplyCmd(a *app) *cobra.Command {
	var (
		file  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or replace the deployments declared in a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := applyFile(cmd.Context(), client, file, out); err != nil {
				if !watch {
					return err
				}
				fmt.Fprintf(out, "apply failed: %v\n", err)
			}
			if !watch {
				return nil
			}
			return watchFile(cmd.Context(), file, out, func() {
				if err := applyFile(cmd.Context(), client, file, out); err != nil {
					fmt.Fprintf(out, "apply failed: %v\n", err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "ring.yaml", "manifest to apply")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-apply whenever the file changes")
	return cmd
}

func applyFile(ctx context.Context, client *Client, path string, out io.Writer) error {
	specs, err := manifest.ParseFile(path)
	if err != nil {
		return err
	}
	res, err := applySpecs(ctx, client, specs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d created, %d replaced, %d unchanged\n", res.created, res.replaced, res.unchanged)
	return nil
}

type applyResult struct {
	created, replaced, unchanged int
}

// applySpecs matches specs to active deployments by namespace and name. An
// identical deployment is kept, a different one is deleted and recreated.
func applySpecs(ctx context.Context, client *Client, specs []manifest.Spec) (applyResult, error) {
	var res applyResult
	existing := map[string][]deployments.Deployment{}
	for _, s := range specs {
		if _, ok := existing[s.Namespace]; ok {
			continue
		}
		list, err := client.ListDeployments(ctx, s.Namespace)
		if err != nil {
			return res, err
		}
		existing[s.Namespace] = list
	}

	for _, s := range specs {
		var current *deployments.Deployment
		for i, d := range existing[s.Namespace] {
			if d.Name == s.Name && !d.Deleted() {
				current = &existing[s.Namespace][i]
				break
			}
		}
		if current != nil && sameSpec(*current, s) {
			res.unchanged++
			continue
		}
		if current != nil {
			if err := client.DeleteDeployment(ctx, current.ID); err != nil {
				return res, fmt.Errorf("replace %s/%s: %w", s.Namespace, s.Name, err)
			}
		}
		if _, err := client.CreateDeployment(ctx, s); err != nil {
			return res, fmt.Errorf("create %s/%s: %w", s.Namespace, s.Name, err)
		}
		if current != nil {
			res.replaced++
		} else {
			res.created++
		}
	}
	return res, nil
}

func sameSpec(d deployments.Deployment, s manifest.Spec) bool {
	if d.Image != s.Image || d.Replicas != s.Replicas || d.Runtime != s.Runtime {
		return false
	}
	if len(d.Labels) != len(s.Labels) {
		return false
	}
	for i := range d.Labels {
		if !maps.Equal(d.Labels[i], s.Labels[i]) {
			return false
		}
	}
	return maps.Equal(d.Secrets, s.Secrets)
}

// watchFile calls fn after the file settles following a write. The parent
// directory is watched so editors that replace the file are followed.
func watchFile(ctx context.Context, path string, out io.Writer, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s\n", path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	relevant := []fsnotify.Op{fsnotify.Write, fsnotify.Create, fsnotify.Rename}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !slices.ContainsFunc(relevant, ev.Has) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			fn()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "watch error: %v\n", err)
		}
	}
}

package docker

import (
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/network"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

// EnsureNetwork makes sure the bridge network for namespace exists and returns
// its name. Creation is attempted only when the daemon reports the network as
// not found; any other inspect failure is returned as is.
func (r *Runtime) EnsureNetwork(ctx context.Context, namespace string) (string, error) {
	name := deployments.NetworkName(namespace)

	_, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return name, nil
	}
	if !cerrdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect network %s: %w", name, err)
	}

	r.log.Info("creating network", "network", name)
	_, err = r.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{deployments.NamespaceLabel: namespace},
	})
	if err != nil && !cerrdefs.IsConflict(err) {
		return "", fmt.Errorf("create network %s: %w", name, err)
	}
	return name, nil
}

// Package docker is the container runtime adapter. It wraps the Docker Engine
// API and carries no reconciliation logic.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

// ErrSnapshotUnavailable marks a failed discovery. Callers must not read it
// as "zero instances exist".
var ErrSnapshotUnavailable = errors.New("instance snapshot unavailable")

// DefaultStopGrace is how long a container gets to exit before the daemon
// kills it.
const DefaultStopGrace = 10 * time.Second

// engine is the subset of the Docker client the adapter uses.
type engine interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	Close() error
}

// InstanceSpec is everything needed to start one instance of a deployment.
type InstanceSpec struct {
	DeploymentID string
	Namespace    string
	Name         string
	Image        string
	Labels       map[string]string
	Env          []string
}

// Runtime implements the reconciler's runtime contract against dockerd.
type Runtime struct {
	cli       engine
	stopGrace time.Duration
	log       *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithStopGrace overrides DefaultStopGrace.
func WithStopGrace(d time.Duration) Option {
	return func(r *Runtime) { r.stopGrace = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// New connects to the daemon at host, or to the one described by the
// DOCKER_* environment when host is empty.
func New(host string, opts ...Option) (*Runtime, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return newRuntime(cli, opts...), nil
}

func newRuntime(cli engine, opts ...Option) *Runtime {
	r := &Runtime{cli: cli, stopGrace: DefaultStopGrace}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Ping checks that the daemon answers.
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

// Close releases the client connection.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

// ListInstances returns the ids of all containers, running or not, that carry
// the ownership label for deploymentID.
func (r *Runtime) ListInstances(ctx context.Context, deploymentID string) ([]string, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", deployments.OwnerLabel+"="+deploymentID)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers for %s: %w: %w", deploymentID, ErrSnapshotUnavailable, err)
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		// the daemon filters already; guard against partial filter support
		if c.Labels[deployments.OwnerLabel] != deploymentID {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// PullImage pulls ref. Pulling an image that is already present is a cheap
// no-op on the daemon side.
func (r *Runtime) PullImage(ctx context.Context, ref string) error {
	r.log.Debug("pulling image", "image", ref)
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer func() { _ = rc.Close() }()
	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

// CreateInstance pulls the image, ensures the namespace network, creates the
// container with the ownership label and starts it.
func (r *Runtime) CreateInstance(ctx context.Context, spec InstanceSpec) (string, error) {
	if err := r.PullImage(ctx, spec.Image); err != nil {
		return "", err
	}
	netName, err := r.EnsureNetwork(ctx, spec.Namespace)
	if err != nil {
		return "", err
	}

	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[deployments.OwnerLabel] = spec.DeploymentID

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.Image,
			Labels: labels,
			Env:    spec.Env,
		},
		&container.HostConfig{
			NetworkMode:   container.NetworkMode(netName),
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{netName: {}},
		},
		nil,
		containerName(spec.Namespace, spec.Name),
	)
	if err != nil {
		return "", fmt.Errorf("create container for %s: %w", spec.DeploymentID, err)
	}
	for _, w := range created.Warnings {
		r.log.Warn("container create warning", "container", shortID(created.ID), "warning", w)
	}

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// A created-but-never-started container still carries the label and
		// would be counted by the next discovery.
		if rmErr := r.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			r.log.Error("failed to clean up unstarted container", "container", shortID(created.ID), "error", rmErr)
		}
		return "", fmt.Errorf("start container %s: %w", shortID(created.ID), err)
	}

	r.log.Info("container started", "container", shortID(created.ID), "deployment", spec.DeploymentID, "image", spec.Image)
	return created.ID, nil
}

// RemoveInstance stops the container within the grace period and removes it.
// A container that is already gone counts as removed.
func (r *Runtime) RemoveInstance(ctx context.Context, id string) error {
	secs := int(r.stopGrace / time.Second)
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("stop container %s: %w", shortID(id), err)
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", shortID(id), err)
	}
	r.log.Info("container removed", "container", shortID(id))
	return nil
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func containerName(namespace, name string) string {
	base := invalidNameChars.ReplaceAllString(namespace+"_"+name, "-")
	base = strings.TrimLeft(base, "_.-")
	if base == "" {
		base = "ring"
	}
	return base + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

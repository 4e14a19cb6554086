package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeContainer struct {
	id      string
	labels  map[string]string
	env     []string
	netMode string
	running bool
}

// fakeEngine is an in-memory stand-in for dockerd.
type fakeEngine struct {
	mu         sync.Mutex
	seq        int
	containers []*fakeContainer
	networks   map[string]bool
	pulled     []string

	listErr     error
	inspectErr  error
	createErr   error
	startErr    error
	stopErr     error
	netCreated  int
	created     *container.Config
	endpoints   *network.NetworkingConfig
	stopTimeout *int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{networks: map[string]bool{}}
}

func (f *fakeEngine) Ping(ctx context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeEngine) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var want string
	for _, v := range options.Filters.Get("label") {
		want = v
	}
	var out []container.Summary
	for _, c := range f.containers {
		if want != "" {
			k, v, _ := strings.Cut(want, "=")
			if c.labels[k] != v {
				continue
			}
		}
		out = append(out, container.Summary{ID: c.id, Labels: c.labels})
	}
	return out, nil
}

func (f *fakeEngine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.seq++
	id := fmt.Sprintf("c%015d", f.seq)
	f.containers = append(f.containers, &fakeContainer{id: id, labels: config.Labels, env: config.Env, netMode: string(hostConfig.NetworkMode)})
	f.created = config
	f.endpoints = networkingConfig
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeEngine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	for _, c := range f.containers {
		if c.id == containerID {
			c.running = true
			return nil
		}
	}
	return fmt.Errorf("container %s: %w", containerID, cerrdefs.ErrNotFound)
}

func (f *fakeEngine) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTimeout = options.Timeout
	if f.stopErr != nil {
		return f.stopErr
	}
	for _, c := range f.containers {
		if c.id == containerID {
			c.running = false
			return nil
		}
	}
	return fmt.Errorf("container %s: %w", containerID, cerrdefs.ErrNotFound)
}

func (f *fakeEngine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.containers {
		if c.id == containerID {
			f.containers = append(f.containers[:i], f.containers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("container %s: %w", containerID, cerrdefs.ErrNotFound)
}

func (f *fakeEngine) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, refStr)
	return io.NopCloser(strings.NewReader(`{"status":"Pull complete"}`)), nil
}

func (f *fakeEngine) NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return network.Inspect{}, f.inspectErr
	}
	if !f.networks[networkID] {
		return network.Inspect{}, fmt.Errorf("network %s: %w", networkID, cerrdefs.ErrNotFound)
	}
	return network.Inspect{Name: networkID}, nil
}

func (f *fakeEngine) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.networks[name] {
		return network.CreateResponse{}, fmt.Errorf("network %s: %w", name, cerrdefs.ErrConflict)
	}
	f.networks[name] = true
	f.netCreated++
	return network.CreateResponse{ID: name}, nil
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) add(id string, labels map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = append(f.containers, &fakeContainer{id: id, labels: labels, running: true})
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

var errDaemon = errors.New("daemon unavailable")

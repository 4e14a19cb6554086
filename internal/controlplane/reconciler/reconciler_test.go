package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/controlplane/resolver"
	"github.com/kemeter/ring/internal/runtime/docker"
)

// fakeRuntime keeps instances per deployment in creation order.
type fakeRuntime struct {
	mu        sync.Mutex
	seq       int
	instances map[string][]string
	specs     []docker.InstanceSpec
	creates   int
	removes   []string

	listErr   error
	createErr func(n int) error
	removeErr map[string]error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{instances: map[string][]string{}, removeErr: map[string]error{}}
}

func (f *fakeRuntime) seed(deploymentID string, n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.seq++
		f.instances[deploymentID] = append(f.instances[deploymentID], fmt.Sprintf("%s-%d", deploymentID, f.seq))
	}
	return append([]string(nil), f.instances[deploymentID]...)
}

func (f *fakeRuntime) ListInstances(ctx context.Context, deploymentID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string{}, f.instances[deploymentID]...), nil
}

func (f *fakeRuntime) CreateInstance(ctx context.Context, spec docker.InstanceSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		if err := f.createErr(f.creates); err != nil {
			return "", err
		}
	}
	f.seq++
	id := fmt.Sprintf("%s-%d", spec.DeploymentID, f.seq)
	f.instances[spec.DeploymentID] = append(f.instances[spec.DeploymentID], id)
	f.specs = append(f.specs, spec)
	return id, nil
}

func (f *fakeRuntime) RemoveInstance(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, id)
	if err := f.removeErr[id]; err != nil {
		return err
	}
	for dep, ids := range f.instances {
		for i, got := range ids {
			if got == id {
				f.instances[dep] = append(ids[:i:i], ids[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func deployment(replicas int) deployments.Deployment {
	d := deployments.New("default", "web", "nginx:1.27", replicas)
	d.ID = "dep-1"
	return d
}

func TestReconcile_ConvergesFromZero(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, WithLogger(quiet()))

	res := rec.Reconcile(context.Background(), deployment(3))

	require.NoError(t, res.Err)
	assert.Equal(t, 3, rt.creates)
	assert.Len(t, res.Created, 3)
	assert.Len(t, res.Instances, 3)
	assert.Empty(t, res.Failures)
}

func TestReconcile_Idempotent(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, WithLogger(quiet()))
	d := deployment(2)

	rec.Reconcile(context.Background(), d)
	creates, removes := rt.creates, len(rt.removes)

	res := rec.Reconcile(context.Background(), d)
	assert.Equal(t, creates, rt.creates)
	assert.Equal(t, removes, len(rt.removes))
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Removed)
	assert.Len(t, res.Instances, 2)
}

func TestReconcile_ScaleDownExact(t *testing.T) {
	rt := newFakeRuntime()
	seeded := rt.seed("dep-1", 5)
	rec := New(rt, WithLogger(quiet()))

	res := rec.Reconcile(context.Background(), deployment(2))

	assert.Len(t, rt.removes, 3)
	assert.Equal(t, seeded[:3], res.Removed)
	assert.Equal(t, seeded[3:], res.Instances)
	left, err := rt.ListInstances(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestReconcile_DeletedDrainsRegardlessOfReplicas(t *testing.T) {
	rt := newFakeRuntime()
	rt.seed("dep-1", 3)
	rec := New(rt, WithLogger(quiet()))
	d := deployment(3)
	d.Status = deployments.StatusDeleted

	res := rec.Reconcile(context.Background(), d)

	assert.Len(t, rt.removes, 3)
	assert.Equal(t, 0, rt.creates)
	assert.Empty(t, res.Instances)
	assert.NotNil(t, res.Instances)
}

func TestReconcile_DeletedWithNothingLeftIsNoop(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, WithLogger(quiet()))
	d := deployment(1)
	d.Status = deployments.StatusDeleted

	res := rec.Reconcile(context.Background(), d)
	assert.Empty(t, rt.removes)
	assert.Equal(t, 0, rt.creates)
	assert.Empty(t, res.Failures)
}

func TestReconcile_DiscoveryFailureTakesNoAction(t *testing.T) {
	rt := newFakeRuntime()
	rt.listErr = fmt.Errorf("list: %w", docker.ErrSnapshotUnavailable)
	rec := New(rt, WithLogger(quiet()))

	res := rec.Reconcile(context.Background(), deployment(3))

	assert.ErrorIs(t, res.Err, docker.ErrSnapshotUnavailable)
	assert.Nil(t, res.Instances)
	assert.Equal(t, 0, rt.creates)
	assert.Empty(t, rt.removes)
}

func TestReconcile_CreateFailureDoesNotAbortRemainingDelta(t *testing.T) {
	rt := newFakeRuntime()
	rt.createErr = func(n int) error {
		if n == 2 {
			return errors.New("pull failed")
		}
		return nil
	}
	rec := New(rt, WithLogger(quiet()))

	res := rec.Reconcile(context.Background(), deployment(4))

	assert.Equal(t, 4, rt.creates)
	assert.Len(t, res.Created, 3)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, OpCreate, res.Failures[0].Op)

	// the shortfall is picked up by the next pass
	res = rec.Reconcile(context.Background(), deployment(4))
	assert.Len(t, res.Created, 1)
	assert.Len(t, res.Instances, 4)
}

func TestReconcile_RemoveFailureKeepsInstanceListed(t *testing.T) {
	rt := newFakeRuntime()
	seeded := rt.seed("dep-1", 3)
	rt.removeErr[seeded[0]] = errors.New("stop timeout")
	rec := New(rt, WithLogger(quiet()))

	res := rec.Reconcile(context.Background(), deployment(1))

	assert.Len(t, rt.removes, 2)
	assert.Equal(t, []string{seeded[1]}, res.Removed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, seeded[0], res.Failures[0].InstanceID)
	assert.ElementsMatch(t, []string{seeded[0], seeded[2]}, res.Instances)
}

func TestReconcile_ResolvesLabelsAndSecrets(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, WithLogger(quiet()), WithResolver(resolver.Resolver{
		Lookup: func(k string) (string, bool) {
			if k == "API_KEY" {
				return "abc", true
			}
			return "", false
		},
	}))
	d := deployment(1)
	d.Labels = deployments.LabelSet{{"tier": "web"}, {"tier": "api"}}
	d.Secrets = map[string]string{"KEY": "$API_KEY", "OTHER": "$MISSING", "PLAIN": "v"}

	rec.Reconcile(context.Background(), d)

	require.Len(t, rt.specs, 1)
	spec := rt.specs[0]
	assert.Equal(t, map[string]string{"tier": "api"}, spec.Labels)
	assert.Equal(t, []string{"KEY=abc", "OTHER=$MISSING", "PLAIN=v"}, spec.Env)
	assert.Equal(t, "ring_default", deployments.NetworkName(spec.Namespace))
}

func TestReconcile_CancelledContextRecordsFailures(t *testing.T) {
	rt := newFakeRuntime()
	rec := New(rt, WithLogger(quiet()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := rec.Reconcile(ctx, deployment(2))
	assert.Equal(t, 0, rt.creates)
	assert.Len(t, res.Failures, 2)
}

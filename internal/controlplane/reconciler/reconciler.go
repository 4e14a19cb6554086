package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/controlplane/resolver"
	"github.com/kemeter/ring/internal/metrics"
	"github.com/kemeter/ring/internal/runtime/docker"
)

// Runtime is the container capability surface a pass needs.
type Runtime interface {
	ListInstances(ctx context.Context, deploymentID string) ([]string, error)
	CreateInstance(ctx context.Context, spec docker.InstanceSpec) (string, error)
	RemoveInstance(ctx context.Context, instanceID string) error
}

type Op string

const (
	OpCreate Op = "create"
	OpRemove Op = "remove"
)

// Failure is one instance operation that did not succeed. The next pass
// retries it because the delta persists.
type Failure struct {
	Op         Op
	InstanceID string
	Err        error
}

func (f Failure) Error() string {
	if f.InstanceID == "" {
		return fmt.Sprintf("%s: %v", f.Op, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Op, f.InstanceID, f.Err)
}

// Result is the outcome of one pass.
type Result struct {
	DeploymentID string
	// Instances is the post-pass instance list. Nil when discovery failed.
	Instances []string
	Created   []string
	Removed   []string
	Failures  []Failure
	// Err is set when discovery failed; no action was taken.
	Err error
}

// Reconciler drives one deployment's actual instances toward its declared
// replica count. It holds no per-deployment state between passes.
type Reconciler struct {
	runtime  Runtime
	resolver resolver.Resolver
	metrics  *metrics.Reconcile
	log      *slog.Logger
}

type Option func(*Reconciler)

func WithResolver(r resolver.Resolver) Option {
	return func(rc *Reconciler) { rc.resolver = r }
}

func WithMetrics(m *metrics.Reconcile) Option {
	return func(rc *Reconciler) { rc.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(rc *Reconciler) { rc.log = l }
}

func New(rt Runtime, opts ...Option) *Reconciler {
	r := &Reconciler{runtime: rt}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Reconcile runs one pass for d. Callers must not run two passes for the
// same deployment concurrently.
func (r *Reconciler) Reconcile(ctx context.Context, d deployments.Deployment) Result {
	start := time.Now()
	res := r.reconcile(ctx, d)
	r.metrics.Record(ctx, metrics.Pass{
		DeploymentID: d.ID,
		Namespace:    d.Namespace,
		Created:      len(res.Created),
		Removed:      len(res.Removed),
		Failures:     len(res.Failures),
		Duration:     time.Since(start),
		Err:          res.Err,
	})
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, d deployments.Deployment) Result {
	log := r.log.With("deployment", d.ID, "namespace", d.Namespace, "name", d.Name)
	res := Result{DeploymentID: d.ID}

	instances, err := r.runtime.ListInstances(ctx, d.ID)
	if err != nil {
		log.Error("discovery failed, skipping pass", "error", err)
		res.Err = err
		return res
	}

	if d.Deleted() {
		if len(instances) > 0 {
			log.Info("draining deleted deployment", "instances", len(instances))
		}
		res.Instances = r.remove(ctx, log, instances, &res)
		return res
	}

	delta := d.Replicas - len(instances)
	switch {
	case delta > 0:
		log.Info("scaling up", "current", len(instances), "desired", d.Replicas)
		res.Instances = r.create(ctx, log, d, delta, instances, &res)
	case delta < 0:
		log.Info("scaling down", "current", len(instances), "desired", d.Replicas)
		// Victims come from the head of the runtime listing.
		victims := instances[:-delta]
		kept := r.remove(ctx, log, victims, &res)
		res.Instances = append(kept, instances[-delta:]...)
	default:
		log.Debug("in sync", "instances", len(instances))
		res.Instances = append([]string{}, instances...)
	}
	return res
}

func (r *Reconciler) create(ctx context.Context, log *slog.Logger, d deployments.Deployment, n int, current []string, res *Result) []string {
	spec := docker.InstanceSpec{
		DeploymentID: d.ID,
		Namespace:    d.Namespace,
		Name:         d.Name,
		Image:        d.Image,
		Labels:       resolver.ResolveLabels(d.Labels),
		Env:          resolver.Env(r.resolver.ResolveSecrets(d.Secrets)),
	}
	out := make([]string, 0, len(current)+n)
	out = append(out, current...)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, Failure{Op: OpCreate, Err: err})
			continue
		}
		id, err := r.runtime.CreateInstance(ctx, spec)
		if err != nil {
			log.Error("instance creation failed", "error", err)
			res.Failures = append(res.Failures, Failure{Op: OpCreate, Err: err})
			continue
		}
		res.Created = append(res.Created, id)
		out = append(out, id)
	}
	return out
}

// remove removes ids and returns the ones that could not be removed.
func (r *Reconciler) remove(ctx context.Context, log *slog.Logger, ids []string, res *Result) []string {
	left := make([]string, 0)
	for _, id := range ids {
		if err := r.runtime.RemoveInstance(ctx, id); err != nil {
			log.Error("instance removal failed", "instance", id, "error", err)
			res.Failures = append(res.Failures, Failure{Op: OpRemove, InstanceID: id, Err: err})
			left = append(left, id)
			continue
		}
		res.Removed = append(res.Removed, id)
	}
	return left
}

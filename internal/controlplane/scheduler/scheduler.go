// Package scheduler drives reconcile passes over every stored deployment on a
// fixed interval and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/controlplane/dispatch"
	"github.com/kemeter/ring/internal/controlplane/reconciler"
)

const (
	DefaultInterval      = 10 * time.Second
	DefaultMaxConcurrent = 8
	stopTimeout          = 30 * time.Second
)

// Passer runs one reconcile pass.
type Passer interface {
	Reconcile(ctx context.Context, d deployments.Deployment) reconciler.Result
}

// CycleReport collects the results of one cycle, in store order.
type CycleReport struct {
	Results []reconciler.Result
}

// Failed returns the number of passes that failed discovery or recorded at
// least one instance failure.
func (r CycleReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil || len(res.Failures) > 0 {
			n++
		}
	}
	return n
}

// Scheduler serializes passes per deployment id and runs different ids
// concurrently.
type Scheduler struct {
	store       deployments.Store
	passer      Passer
	dispatch    *dispatch.Manager
	interval    time.Duration
	passTimeout time.Duration
	limit       int
	log         *slog.Logger

	locks keyedMutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cycling atomic.Bool
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithPassTimeout bounds every pass. Zero means no bound.
func WithPassTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.passTimeout = d }
}

func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) { s.limit = n }
}

func WithDispatch(m *dispatch.Manager) Option {
	return func(s *Scheduler) { s.dispatch = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func New(store deployments.Store, passer Passer, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		passer:   passer,
		interval: DefaultInterval,
		limit:    DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.limit <= 0 {
		s.limit = DefaultMaxConcurrent
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// RunCycle runs one pass for every stored deployment, deleted ones included.
// A failing deployment never stops the cycle; only a store listing failure
// is returned.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	all, err := s.store.FindAll(ctx, deployments.Filter{})
	if err != nil {
		return CycleReport{}, fmt.Errorf("list deployments: %w", err)
	}

	report := CycleReport{Results: make([]reconciler.Result, len(all))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, d := range all {
		g.Go(func() error {
			report.Results[i] = s.runPass(gctx, d.ID)
			return nil
		})
	}
	_ = g.Wait()

	if failed := report.Failed(); failed > 0 {
		s.log.Warn("cycle finished with failures", "deployments", len(all), "failed", failed)
	} else {
		s.log.Debug("cycle finished", "deployments", len(all))
	}
	return report, nil
}

// Reconcile runs one pass for the deployment with the given id.
func (s *Scheduler) Reconcile(ctx context.Context, id string) (reconciler.Result, error) {
	if _, err := s.store.Find(ctx, id); err != nil {
		return reconciler.Result{DeploymentID: id}, err
	}
	return s.runPass(ctx, id), nil
}

// runPass reads the record only once it holds the id's lock, so a pass that
// waited behind another one sees every write made meanwhile.
func (s *Scheduler) runPass(ctx context.Context, id string) (res reconciler.Result) {
	unlock := s.locks.Lock(id)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pass panicked", "deployment", id, "panic", r)
			res = reconciler.Result{DeploymentID: id, Err: fmt.Errorf("pass panicked: %v", r)}
		}
	}()

	d, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, deployments.ErrNotFound) {
			// removed from the store since it was listed
			return reconciler.Result{DeploymentID: id}
		}
		s.log.Error("load deployment failed", "deployment", id, "error", err)
		return reconciler.Result{DeploymentID: id, Err: err}
	}

	if s.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.passTimeout)
		defer cancel()
	}

	res = s.passer.Reconcile(ctx, d)
	if res.Err != nil {
		return res
	}
	// only the instance cache is written; status and spec stay the API's
	if err := s.store.UpdateInstances(ctx, id, res.Instances); err != nil {
		s.log.Error("persist instances failed", "deployment", id, "error", err)
	}
	return res
}

// Start runs a cycle immediately, then every interval, and reacts to
// dispatch notifications until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)

	var events <-chan string
	unsubscribe := func() {}
	if s.dispatch != nil {
		events, unsubscribe = s.dispatch.Subscribe()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.loop(ctx, events)
	}()
	s.log.Info("scheduler started", "interval", s.interval, "max_concurrent", s.limit)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, events <-chan string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.startCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.startCycle(ctx)
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			for _, id := range s.dispatch.DrainPending() {
				s.startReconcile(ctx, id)
			}
		}
	}
}

// startCycle skips the tick when the previous cycle is still running.
func (s *Scheduler) startCycle(ctx context.Context) {
	if !s.cycling.CompareAndSwap(false, true) {
		s.log.Debug("previous cycle still running, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.cycling.Store(false)
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("cycle failed", "error", err)
		}
	}()
}

func (s *Scheduler) startReconcile(ctx context.Context, id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Reconcile(ctx, id); err != nil && ctx.Err() == nil {
			s.log.Error("triggered pass failed", "deployment", id, "error", err)
		}
	}()
}

// Stop cancels the loop and waits for in-flight passes.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return errors.New("scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-time.After(stopTimeout):
		s.log.Warn("timeout waiting for passes to stop")
	}
	return nil
}

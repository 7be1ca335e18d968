// Package vu implements the virtual user: one simulated client that loops
// request, checks, submit and sleep until it is told to stop.
package vu

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/check"
	"github.com/wesleyorama2/surge/internal/clock"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/request"
)

// State represents the lifecycle state of a Virtual User.
type State int32

const (
	// StateIdle indicates the VU has been created but not started.
	StateIdle State = iota
	// StateRunning indicates the VU is looping iterations.
	StateRunning
	// StateStopping indicates a stop was requested; the current iteration
	// is allowed to finish.
	StateStopping
	// StateStopped indicates the VU goroutine has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Executor issues a single request. *request.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, tpl request.Template) request.Outcome
}

// Sink receives one sample per completed iteration. *metrics.Aggregator
// implements it.
type Sink interface {
	Submit(s metrics.Sample)
}

// Options are shared by every VU of a run.
type Options struct {
	Executor Executor
	Template request.Template
	Checks   *check.Set
	Sink     Sink

	// Sleep between iterations. Zero loops back immediately.
	Sleep time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// VirtualUser represents a single simulated user executing iterations.
type VirtualUser struct {
	id   int
	opts Options
	log  *zap.Logger

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once

	iterations atomic.Int64
}

// New creates an idle Virtual User.
func New(id int, opts Options) *VirtualUser {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VirtualUser{
		id:     id,
		opts:   opts,
		log:    logger.With(zap.Int("vu", id)),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// ID returns the VU identifier.
func (vu *VirtualUser) ID() int {
	return vu.id
}

// State returns the current lifecycle state.
func (vu *VirtualUser) State() State {
	return State(vu.state.Load())
}

// Iterations returns the number of completed iterations.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

// Done is closed once the VU has stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// RequestStop asks the VU to stop after its current iteration. An
// in-flight request is never aborted. Safe to call more than once.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) ||
		vu.state.CompareAndSwap(int32(StateIdle), int32(StateStopping)) {
		vu.log.Debug("stop requested")
	}
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// Run loops iterations until RequestStop is called or ctx is cancelled.
// Both are observed at iteration boundaries and during the sleep.
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.markStopped()

	if !vu.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return
	}
	vu.log.Debug("started")

	for {
		if vu.stopping() || ctx.Err() != nil {
			return
		}

		vu.runIteration(ctx)

		if !vu.sleep(ctx) {
			return
		}
	}
}

func (vu *VirtualUser) runIteration(ctx context.Context) {
	out := vu.opts.Executor.Execute(ctx, vu.opts.Template)

	// A request cut short by a hard abort is not a real outcome.
	if ctx.Err() != nil {
		return
	}

	vu.opts.Sink.Submit(metrics.Sample{
		Outcome: out,
		Checks:  vu.opts.Checks.Evaluate(out),
	})
	vu.iterations.Add(1)

	if out.Err != nil {
		vu.log.Debug("request failed", zap.Error(out.Err))
	}
}

// sleep waits the configured interval. It returns false when the VU
// should exit instead of starting another iteration.
func (vu *VirtualUser) sleep(ctx context.Context) bool {
	if vu.opts.Sleep <= 0 {
		return true
	}

	select {
	case <-vu.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-vu.opts.Clock.After(vu.opts.Sleep):
		return true
	}
}

func (vu *VirtualUser) stopping() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(StateStopped))
	vu.doneOnce.Do(func() {
		close(vu.doneCh)
		vu.log.Debug("stopped", zap.Int64("iterations", vu.iterations.Load()))
	})
}

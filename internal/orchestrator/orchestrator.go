// Package orchestrator drives a load test: it follows the stage schedule,
// spawns and retires virtual users, and aggregates their results.
//
// Example usage:
//
//	sched, _ := schedule.New(schedule.FromZero(stages...)...)
//	o, _ := orchestrator.New(orchestrator.Options{
//		Schedule: sched,
//		Template: request.Template{URL: "http://localhost:8083/health"},
//	})
//	result, _ := o.Run(ctx)
//	fmt.Printf("passed: %v\n", result.Passed)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surge/internal/check"
	"github.com/wesleyorama2/surge/internal/clock"
	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/request"
	"github.com/wesleyorama2/surge/internal/schedule"
	"github.com/wesleyorama2/surge/internal/threshold"
	"github.com/wesleyorama2/surge/internal/vu"
)

const (
	// DefaultTickInterval is how often the VU count is reconciled with
	// the schedule.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultGracefulStop bounds how long the run waits for VUs to finish
	// their last iteration once the schedule has ended.
	DefaultGracefulStop = 30 * time.Second

	// DefaultSleep is the pause between iterations used by configuration
	// loaders when none is given.
	DefaultSleep = time.Second
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("orchestrator: run already started")

// ConfigError reports invalid run options. The run never starts.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid run options: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Options configures a run. Schedule and Template are required.
type Options struct {
	// Name labels the run in output.
	Name string

	Schedule *schedule.Schedule
	Template request.Template

	// Checks evaluated against every outcome. Nil means no checks.
	Checks *check.Set

	// Sleep between iterations of each VU. Zero loops immediately.
	Sleep time.Duration

	// Client configures the pooled HTTP client.
	Client request.ClientConfig

	TickInterval time.Duration
	GracefulStop time.Duration

	Thresholds *threshold.Config

	// Registerer, when set, receives a Prometheus collector for the run.
	Registerer prometheus.Registerer

	Clock  clock.Clock
	Logger *zap.Logger

	// Executor replaces the HTTP executor built from Client.
	Executor vu.Executor
}

// Result contains the complete run results.
type Result struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name,omitempty"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Stages as scheduled.
	Stages []schedule.Stage `json:"stages"`

	Metrics *metrics.Snapshot `json:"metrics"`

	// Threshold evaluation
	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// Aborted is set when the run was cancelled before the schedule ended.
	Aborted bool `json:"aborted,omitempty"`
}

// Progress is a live view of a running test.
type Progress struct {
	Elapsed   time.Duration  `json:"elapsed"`
	Total     time.Duration  `json:"total"`
	Percent   float64        `json:"percent"`
	Stage     int            `json:"stage"`
	StageName string         `json:"stageName,omitempty"`
	Phase     schedule.Phase `json:"phase"`
	TargetVUs int            `json:"targetVUs"`
	LiveVUs   int            `json:"liveVUs"`
	Requests  int64          `json:"requests"`
	Failed    int64          `json:"failed"`
}

// Orchestrator owns the VU pool and the metrics aggregator for one run.
type Orchestrator struct {
	opts     Options
	runID    string
	clock    clock.Clock
	log      *zap.Logger
	executor vu.Executor
	httpExec *request.Executor

	started atomic.Bool
	agg     *metrics.Aggregator

	mu        sync.Mutex
	startTime time.Time
	vus       []*vu.VirtualUser // live VUs, oldest first
	nextID    int
	lastStage int
	target    int

	running   atomic.Int32
	vuCtx     context.Context
	cancelVUs context.CancelFunc
	group     *errgroup.Group
}

// New validates opts and returns an Orchestrator ready to Run.
func New(opts Options) (*Orchestrator, error) {
	if opts.Schedule == nil {
		return nil, &ConfigError{Field: "schedule", Err: errors.New("schedule is required")}
	}
	if err := opts.Template.Validate(); err != nil {
		return nil, &ConfigError{Field: "request", Err: err}
	}
	if opts.Sleep < 0 {
		return nil, &ConfigError{Field: "sleep", Err: errors.New("sleep cannot be negative")}
	}
	if opts.TickInterval < 0 {
		return nil, &ConfigError{Field: "tickInterval", Err: errors.New("tick interval cannot be negative")}
	}
	if opts.GracefulStop < 0 {
		return nil, &ConfigError{Field: "gracefulStop", Err: errors.New("graceful stop cannot be negative")}
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, &ConfigError{Field: "thresholds", Err: err}
	}

	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.GracefulStop == 0 {
		opts.GracefulStop = DefaultGracefulStop
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	o := &Orchestrator{
		opts:      opts,
		runID:     uuid.NewString(),
		clock:     opts.Clock,
		lastStage: -1,
	}
	o.log = logging.Component(opts.Logger, "orchestrator").With(zap.String("run_id", o.runID))

	o.executor = opts.Executor
	if o.executor == nil {
		o.httpExec = request.NewExecutor(opts.Client, opts.Clock)
		o.executor = o.httpExec
	}
	return o, nil
}

// RunID returns the unique identifier of this run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run executes the schedule and blocks until every VU has stopped or the
// graceful-stop window has expired. Cancelling ctx aborts the run early;
// the partial result is still returned together with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	o.start(ctx)
	defer o.cancelVUs()

	total := o.opts.Schedule.TotalDuration()
	o.log.Info("run started",
		zap.String("name", o.opts.Name),
		zap.String("url", o.opts.Template.URL),
		zap.Duration("duration", total),
		zap.Int("maxVUs", o.opts.Schedule.MaxTarget()))

	ticker := o.clock.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	aborted := false
	done := o.tick()
	for !done {
		select {
		case <-ctx.Done():
			aborted = true
			done = true
		case <-ticker.C():
			done = o.tick()
		}
	}

	o.stopAll()
	result := o.finish(aborted)

	if aborted {
		o.log.Warn("run aborted", zap.Duration("elapsed", result.Duration))
		return result, fmt.Errorf("run aborted: %w", ctx.Err())
	}
	return result, nil
}

// start initialises per-run state. Split from Run so tests can drive
// ticks against a fake clock.
func (o *Orchestrator) start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.startTime = o.clock.Now()
	o.agg = metrics.NewAggregator(metrics.DefaultConfig(), o.clock, o.opts.Checks.Names()...)
	o.vuCtx, o.cancelVUs = context.WithCancel(ctx)
	o.group = new(errgroup.Group)

	if o.opts.Registerer != nil {
		if err := o.opts.Registerer.Register(metrics.NewCollector(o.agg, o.runID)); err != nil {
			o.log.Warn("failed to register metrics collector", zap.Error(err))
		}
	}
}

// tick reconciles the VU pool with the schedule. It reports true once the
// schedule has ended.
func (o *Orchestrator) tick() bool {
	elapsed := o.clock.Since(o.startTime)
	sched := o.opts.Schedule

	if sched.Done(elapsed) {
		return true
	}

	target := sched.TargetAt(elapsed)
	idx, stage := sched.StageAt(elapsed)

	o.mu.Lock()
	defer o.mu.Unlock()

	if idx != o.lastStage {
		o.lastStage = idx
		o.log.Info("stage started",
			zap.Int("stage", idx),
			zap.String("name", stage.Name),
			zap.Duration("duration", stage.Duration),
			zap.Int("target", stage.Target),
			zap.String("phase", string(sched.PhaseAt(elapsed))))
	}

	o.target = target
	o.scaleLocked(target)
	o.agg.Advance()
	return false
}

// scaleLocked spawns or retires VUs so that exactly target are live.
// Retired VUs finish their current iteration in the background.
func (o *Orchestrator) scaleLocked(target int) {
	live := len(o.vus)

	switch {
	case target > live:
		vuOpts := o.vuOptions()
		for i := live; i < target; i++ {
			o.nextID++
			v := vu.New(o.nextID, vuOpts)
			o.vus = append(o.vus, v)
			o.running.Add(1)
			ctx := o.vuCtx
			o.group.Go(func() error {
				defer o.running.Add(-1)
				v.Run(ctx)
				return nil
			})
		}
		o.log.Debug("spawned VUs", zap.Int("count", target-live), zap.Int("live", target))

	case target < live:
		excess := live - target
		for _, v := range o.vus[:excess] {
			v.RequestStop()
		}
		o.vus = append([]*vu.VirtualUser(nil), o.vus[excess:]...)
		o.log.Debug("retired VUs", zap.Int("count", excess), zap.Int("live", target))
	}

	o.agg.SetActiveVUs(len(o.vus))
}

func (o *Orchestrator) vuOptions() vu.Options {
	return vu.Options{
		Executor: o.executor,
		Template: o.opts.Template,
		Checks:   o.opts.Checks,
		Sink:     o.agg,
		Sleep:    o.opts.Sleep,
		Clock:    o.clock,
		Logger:   o.log,
	}
}

func (o *Orchestrator) stopAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, v := range o.vus {
		v.RequestStop()
	}
	o.vus = nil
	o.agg.SetActiveVUs(0)
}

// finish waits for VUs to stop, bounded by the graceful-stop window, and
// builds the result.
func (o *Orchestrator) finish(aborted bool) *Result {
	waitCh := make(chan struct{})
	go func() {
		_ = o.group.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-o.clock.After(o.opts.GracefulStop):
		o.log.Warn("graceful stop expired, aborting in-flight requests",
			zap.Int32("running", o.running.Load()),
			zap.Duration("gracefulStop", o.opts.GracefulStop))
		o.cancelVUs()
		<-waitCh
	}

	if o.httpExec != nil {
		o.httpExec.CloseIdleConnections()
	}

	o.agg.Flush()
	end := o.clock.Now()
	snap := o.agg.Snapshot()
	thresholds := threshold.Evaluate(o.opts.Thresholds, snap)

	result := &Result{
		RunID:      o.runID,
		Name:       o.opts.Name,
		StartTime:  o.startTime,
		EndTime:    end,
		Duration:   end.Sub(o.startTime),
		Stages:     o.opts.Schedule.Stages(),
		Metrics:    snap,
		Passed:     threshold.AllPassed(thresholds),
		Thresholds: thresholds,
		Aborted:    aborted,
	}

	o.log.Info("run finished",
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", snap.TotalRequests),
		zap.Int64("failed", snap.FailedRequests),
		zap.Duration("p95", snap.Latency.P95),
		zap.Bool("passed", result.Passed))

	return result
}

// LiveVUs returns the number of VUs currently counted toward the target.
// Retired VUs finishing their last iteration are not included.
func (o *Orchestrator) LiveVUs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.vus)
}

// RunningVUs returns the number of VU goroutines that have not exited,
// including retired ones still finishing an iteration.
func (o *Orchestrator) RunningVUs() int {
	return int(o.running.Load())
}

// Snapshot returns current metrics, or nil before Run.
func (o *Orchestrator) Snapshot() *metrics.Snapshot {
	o.mu.Lock()
	agg := o.agg
	o.mu.Unlock()

	if agg == nil {
		return nil
	}
	return agg.Snapshot()
}

// Progress returns a live view of the run. Before Run it is zero apart
// from Total.
func (o *Orchestrator) Progress() Progress {
	sched := o.opts.Schedule
	p := Progress{Total: sched.TotalDuration()}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.agg == nil {
		return p
	}

	p.Elapsed = o.clock.Since(o.startTime)
	p.Percent = float64(p.Elapsed) / float64(p.Total) * 100
	if p.Percent > 100 {
		p.Percent = 100
	}

	idx, stage := sched.StageAt(p.Elapsed)
	p.Stage = idx
	p.StageName = stage.Name
	p.Phase = sched.PhaseAt(p.Elapsed)
	p.TargetVUs = o.target
	p.LiveVUs = len(o.vus)
	p.Requests = o.agg.TotalRequests()
	p.Failed = o.agg.FailedRequests()
	return p
}

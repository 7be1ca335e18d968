// Package metrics aggregates per-iteration results into run-level metrics.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/surge/internal/check"
	"github.com/wesleyorama2/surge/internal/clock"
	"github.com/wesleyorama2/surge/internal/request"
)

// Sample is what a VU submits after each iteration.
type Sample struct {
	Outcome request.Outcome
	Checks  []check.Result
}

// Config contains configuration for the aggregator.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// BucketInterval is the length of one time-series bucket (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets bounds the time series; older buckets are dropped (default: 3600)
	MaxBuckets int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
	}
}

type checkTally struct {
	passes int64
	fails  int64
}

// Aggregator accumulates request counts, the latency distribution and
// check tallies.
//
// Submit is the single serialization point for all VUs: the histogram
// and check tallies are guarded by one mutex, while request counters are
// atomics so live readers never contend with submitters.
type Aggregator struct {
	config Config
	clock  clock.Clock

	mu          sync.Mutex
	latencyHist *hdrhistogram.Histogram
	checks      map[string]*checkTally
	checkOrder  []string
	statusCodes map[int]int64
	series      *bucketRing

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	totalBytes     atomic.Int64
	iterations     atomic.Int64

	activeVUs atomic.Int32

	startTime time.Time
}

// NewAggregator creates an aggregator. checkNames pre-registers checks so
// they appear in snapshots in configuration order even before they run.
func NewAggregator(cfg Config, clk clock.Clock, checkNames ...string) *Aggregator {
	if cfg.HistogramMax <= cfg.HistogramMin || cfg.HistogramSigFigs <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.BucketInterval <= 0 {
		cfg.BucketInterval = DefaultConfig().BucketInterval
	}
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = DefaultConfig().MaxBuckets
	}
	if clk == nil {
		clk = clock.Real()
	}

	start := clk.Now()
	a := &Aggregator{
		config:      cfg,
		clock:       clk,
		latencyHist: hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
		checks:      make(map[string]*checkTally),
		statusCodes: make(map[int]int64),
		series:      newBucketRing(cfg, start),
		startTime:   start,
	}
	for _, name := range checkNames {
		a.tallyLocked(name)
	}
	return a
}

// Submit records one iteration's outcome and check results.
func (a *Aggregator) Submit(s Sample) {
	latencyMicros := s.Outcome.Duration.Microseconds()
	if latencyMicros < a.config.HistogramMin {
		latencyMicros = a.config.HistogramMin
	}
	if latencyMicros > a.config.HistogramMax {
		latencyMicros = a.config.HistogramMax
	}

	a.mu.Lock()
	// HDR histogram RecordValue is not thread-safe.
	_ = a.latencyHist.RecordValue(latencyMicros)
	a.statusCodes[s.Outcome.StatusCode]++
	a.series.record(latencyMicros, s.Outcome.Failed())
	for _, r := range s.Checks {
		t := a.tallyLocked(r.Name)
		if r.Passed {
			t.passes++
		} else {
			t.fails++
		}
	}
	a.mu.Unlock()

	a.iterations.Add(1)
	a.totalRequests.Add(1)
	a.totalBytes.Add(s.Outcome.BytesReceived)
	if s.Outcome.Failed() {
		a.failedRequests.Add(1)
	}
}

func (a *Aggregator) tallyLocked(name string) *checkTally {
	t, ok := a.checks[name]
	if !ok {
		t = &checkTally{}
		a.checks[name] = t
		a.checkOrder = append(a.checkOrder, name)
	}
	return t
}

// Advance closes every time-series interval that has ended by now. The
// orchestrator calls it on each control tick.
func (a *Aggregator) Advance() {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.series.advance(now, a.startTime, a.ActiveVUs())
}

// Flush closes the open time-series interval, even if it is partial. Call
// it once at the end of a run, before the final Snapshot.
func (a *Aggregator) Flush() {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.series.flush(now, a.startTime, a.ActiveVUs())
}

// SetActiveVUs updates the live VU count.
func (a *Aggregator) SetActiveVUs(n int) {
	a.activeVUs.Store(int32(n))
}

// ActiveVUs returns the live VU count.
func (a *Aggregator) ActiveVUs() int {
	return int(a.activeVUs.Load())
}

// TotalRequests returns the number of submitted samples without locking.
func (a *Aggregator) TotalRequests() int64 {
	return a.totalRequests.Load()
}

// FailedRequests returns the number of failed samples without locking.
func (a *Aggregator) FailedRequests() int64 {
	return a.failedRequests.Load()
}

// Snapshot returns a point-in-time copy of all metrics.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	latency := latencyStats(a.latencyHist)

	checks := make([]CheckStats, 0, len(a.checkOrder))
	var passes, fails int64
	for _, name := range a.checkOrder {
		t := a.checks[name]
		checks = append(checks, CheckStats{Name: name, Passes: t.passes, Fails: t.fails})
		passes += t.passes
		fails += t.fails
	}

	codes := make([]StatusCount, 0, len(a.statusCodes))
	for code, n := range a.statusCodes {
		codes = append(codes, StatusCount{Code: code, Count: n})
	}
	series := a.series.list()
	a.mu.Unlock()

	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })

	total := a.totalRequests.Load()
	failed := a.failedRequests.Load()
	elapsed := a.clock.Since(a.startTime)

	snap := &Snapshot{
		TotalRequests:   total,
		SuccessRequests: total - failed,
		FailedRequests:  failed,
		TotalBytes:      a.totalBytes.Load(),
		Iterations:      a.iterations.Load(),
		Latency:         latency,
		Checks:          checks,
		StatusCodes:     codes,
		ActiveVUs:       a.ActiveVUs(),
		TimeSeries:      series,
		Elapsed:         elapsed,
		StartTime:       a.startTime,
		Timestamp:       a.clock.Now(),
	}

	if total > 0 {
		snap.ErrorRate = float64(failed) / float64(total)
	}
	if elapsed > 0 {
		snap.RPS = float64(total) / elapsed.Seconds()
	}
	if passes+fails > 0 {
		snap.ChecksPassRate = float64(passes) / float64(passes+fails)
	}
	return snap
}

// latencyStats reads h; the caller must hold the aggregator lock.
func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64 `json:"totalRequests"`
	SuccessRequests int64 `json:"successRequests"`
	FailedRequests  int64 `json:"failedRequests"`
	TotalBytes      int64 `json:"totalBytes"`
	Iterations      int64 `json:"iterations"`

	// ErrorRate is the fraction of failed requests (0.0 to 1.0)
	ErrorRate float64 `json:"errorRate"`

	RPS float64 `json:"rps"`

	Latency LatencyStats `json:"latency"`

	Checks []CheckStats `json:"checks,omitempty"`

	// ChecksPassRate is passes / evaluations across all checks.
	ChecksPassRate float64 `json:"checksPassRate"`

	// StatusCodes counts responses per status code; 0 means no response.
	StatusCodes []StatusCount `json:"statusCodes,omitempty"`

	// TimeSeries holds one bucket per closed interval, oldest first.
	TimeSeries []Bucket `json:"timeSeries,omitempty"`

	ActiveVUs int           `json:"activeVUs"`
	Elapsed   time.Duration `json:"elapsed"`
	StartTime time.Time     `json:"startTime"`
	Timestamp time.Time     `json:"timestamp"`
}

// Check returns the tally for the named check.
func (s *Snapshot) Check(name string) (CheckStats, bool) {
	for _, c := range s.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckStats{}, false
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// CheckStats is the pass/fail tally of one check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// PassRate returns passes / (passes + fails), or 0 when never evaluated.
func (c CheckStats) PassRate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// StatusCount is the number of responses with a given status code.
type StatusCount struct {
	Code  int   `json:"code"`
	Count int64 `json:"count"`
}

package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Bucket is the metrics of one time-series interval.
type Bucket struct {
	// Start is the wall time the interval began.
	Start time.Time `json:"start"`

	// Elapsed is the offset of the interval end from the start of the run.
	Elapsed time.Duration `json:"elapsed"`

	// Duration is the interval length. Only the final, flushed bucket may be
	// shorter than the configured interval.
	Duration time.Duration `json:"duration"`

	Requests  int64         `json:"requests"`
	Failures  int64         `json:"failures"`
	RPS       float64       `json:"rps"`
	ErrorRate float64       `json:"errorRate"`
	P95       time.Duration `json:"p95"`

	// ActiveVUs is the live VU count when the interval closed.
	ActiveVUs int `json:"activeVUs"`
}

// bucketRing holds closed buckets in a fixed-size ring, oldest dropped
// first, plus the accumulator for the open interval. Guarded by the
// aggregator lock.
type bucketRing struct {
	buckets []Bucket
	head    int
	count   int

	interval time.Duration
	start    time.Time

	requests int64
	failures int64
	latency  *hdrhistogram.Histogram
}

func newBucketRing(cfg Config, start time.Time) *bucketRing {
	return &bucketRing{
		buckets:  make([]Bucket, cfg.MaxBuckets),
		interval: cfg.BucketInterval,
		start:    start,
		latency:  hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
	}
}

func (r *bucketRing) record(latencyMicros int64, failed bool) {
	r.requests++
	if failed {
		r.failures++
	}
	_ = r.latency.RecordValue(latencyMicros)
}

// advance closes every full interval that ended at or before now. Intervals
// without requests still produce a bucket so the series has no gaps.
func (r *bucketRing) advance(now, runStart time.Time, activeVUs int) {
	for now.Sub(r.start) >= r.interval {
		r.close(r.start.Add(r.interval), runStart, activeVUs)
	}
}

// flush closes the open interval early. It is a no-op when the interval is
// empty and has no length.
func (r *bucketRing) flush(now, runStart time.Time, activeVUs int) {
	r.advance(now, runStart, activeVUs)
	if !now.After(r.start) && r.requests == 0 {
		return
	}
	r.close(now, runStart, activeVUs)
}

func (r *bucketRing) close(end, runStart time.Time, activeVUs int) {
	b := Bucket{
		Start:     r.start,
		Elapsed:   end.Sub(runStart),
		Duration:  end.Sub(r.start),
		Requests:  r.requests,
		Failures:  r.failures,
		ActiveVUs: activeVUs,
	}
	if b.Duration > 0 {
		b.RPS = float64(b.Requests) / b.Duration.Seconds()
	}
	if b.Requests > 0 {
		b.ErrorRate = float64(b.Failures) / float64(b.Requests)
		b.P95 = time.Duration(r.latency.ValueAtQuantile(95)) * time.Microsecond
	}

	r.buckets[r.head] = b
	r.head = (r.head + 1) % len(r.buckets)
	if r.count < len(r.buckets) {
		r.count++
	}

	r.start = end
	r.requests = 0
	r.failures = 0
	r.latency.Reset()
}

// list returns the closed buckets in chronological order.
func (r *bucketRing) list() []Bucket {
	if r.count == 0 {
		return nil
	}
	out := make([]Bucket, r.count)
	first := 0
	if r.count == len(r.buckets) {
		first = r.head
	}
	for i := range out {
		out[i] = r.buckets[(first+i)%len(r.buckets)]
	}
	return out
}

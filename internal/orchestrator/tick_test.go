package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/clock"
	"github.com/wesleyorama2/surge/internal/request"
	"github.com/wesleyorama2/surge/internal/schedule"
	"github.com/wesleyorama2/surge/internal/vu"
)

type instantExecutor struct{}

func (instantExecutor) Execute(context.Context, request.Template) request.Outcome {
	return request.Outcome{StatusCode: 200, Duration: time.Millisecond}
}

func newTickTest(t *testing.T, stages []schedule.Stage) (*Orchestrator, *clock.Fake) {
	t.Helper()

	sched, err := schedule.New(stages...)
	require.NoError(t, err)

	clk := clock.NewFake(time.Unix(1700000000, 0))
	o, err := New(Options{
		Schedule: sched,
		Template: request.Template{URL: "http://example.test/health"},
		Sleep:    time.Second,
		Clock:    clk,
		Executor: instantExecutor{},
	})
	require.NoError(t, err)

	o.started.Store(true)
	o.start(context.Background())
	return o, clk
}

func drain(t *testing.T, o *Orchestrator) *Result {
	t.Helper()
	o.stopAll()
	result := o.finish(false)
	assert.Equal(t, 0, o.RunningVUs())
	return result
}

func TestTick_ConvergesToTarget(t *testing.T) {
	const n = 50
	ramp := 10 * time.Second
	o, clk := newTickTest(t, schedule.FromZero(schedule.Stage{Duration: ramp, Target: n}))
	sched := o.opts.Schedule

	tick := DefaultTickInterval
	var elapsed time.Duration
	for ; elapsed < ramp; elapsed += tick {
		require.False(t, o.tick())
		assert.Equal(t, sched.TargetAt(elapsed), o.LiveVUs(), "elapsed %s", elapsed)
		clk.Advance(tick)
	}

	// The last tick before the end is within one tick of the final target.
	assert.InDelta(t, n, o.LiveVUs(), 1)
	assert.True(t, o.tick())

	drain(t, o)
}

func TestTick_RetiresOldestFirst(t *testing.T) {
	o, clk := newTickTest(t, []schedule.Stage{
		{Duration: time.Second, Target: 4},
		{Duration: 0, Target: 2},
		{Duration: time.Second, Target: 2},
	})

	require.False(t, o.tick())
	require.Equal(t, 4, o.LiveVUs())

	o.mu.Lock()
	initial := append([]*vu.VirtualUser(nil), o.vus...)
	o.mu.Unlock()

	clk.Advance(time.Second)
	require.False(t, o.tick())
	require.Equal(t, 2, o.LiveVUs())

	for _, v := range initial[:2] {
		select {
		case <-v.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("retired VU %d did not stop", v.ID())
		}
	}
	assert.Equal(t, vu.StateRunning, initial[2].State())
	assert.Equal(t, vu.StateRunning, initial[3].State())

	o.mu.Lock()
	assert.Equal(t, initial[2:], o.vus)
	o.mu.Unlock()

	drain(t, o)
}

func TestTick_SpikePresetFullLength(t *testing.T) {
	preset, ok := schedule.LookupPreset("spike")
	require.True(t, ok)

	o, clk := newTickTest(t, preset.Stages)

	checkpoints := []struct {
		at   time.Duration
		want int
	}{
		{0, 0},
		{500 * time.Millisecond, 250},
		{time.Second, 500},
		{2 * time.Minute, 500},
		{4*time.Minute + time.Second, 500},
		{4*time.Minute + 1500*time.Millisecond, 250},
	}

	var now time.Duration
	for _, cp := range checkpoints {
		clk.Advance(cp.at - now)
		now = cp.at
		require.False(t, o.tick())
		assert.Equal(t, cp.want, o.LiveVUs(), "at %s", cp.at)
	}

	clk.Advance(4*time.Minute + 2*time.Second - now)
	assert.True(t, o.tick())

	result := drain(t, o)
	assert.Equal(t, 0, result.Metrics.ActiveVUs)
	assert.Len(t, result.Stages, 4)

	// One bucket per second of schedule; intervals skipped between ticks
	// are still present.
	series := result.Metrics.TimeSeries
	require.GreaterOrEqual(t, len(series), 242)
	assert.Equal(t, time.Second, series[0].Elapsed)
	assert.Equal(t, 500, series[0].ActiveVUs)
	assert.Equal(t, 121*time.Second, series[120].Elapsed)
	assert.Equal(t, 500, series[120].ActiveVUs)
	assert.Equal(t, 242*time.Second, series[241].Elapsed)
	for i := 1; i < 242; i++ {
		assert.Equal(t, series[i-1].Start.Add(time.Second), series[i].Start, "bucket %d", i)
	}
}

func TestProgress(t *testing.T) {
	o, clk := newTickTest(t, schedule.FromZero(
		schedule.Stage{Duration: 10 * time.Second, Target: 10, Name: "ramp"},
		schedule.Stage{Duration: 10 * time.Second, Target: 10, Name: "hold"},
	))

	clk.Advance(15 * time.Second)
	require.False(t, o.tick())

	p := o.Progress()
	assert.Equal(t, 15*time.Second, p.Elapsed)
	assert.Equal(t, 20*time.Second, p.Total)
	assert.InDelta(t, 75.0, p.Percent, 0.001)
	assert.Equal(t, 2, p.Stage)
	assert.Equal(t, "hold", p.StageName)
	assert.Equal(t, schedule.PhaseSteady, p.Phase)
	assert.Equal(t, 10, p.TargetVUs)
	assert.Equal(t, 10, p.LiveVUs)

	drain(t, o)
}

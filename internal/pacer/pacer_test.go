package pacer

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonnetn/ext-proc-load-tester/internal/clock"
	"github.com/bonnetn/ext-proc-load-tester/internal/planner"
)

func TestRunDeterministicDispatchesExpectedCount(t *testing.T) {
	p := New(Deterministic, nil)
	var count int64

	stage := planner.Stage{RateSPS: 200, Duration: 100 * time.Millisecond}
	err := p.Run(context.Background(), clock.New(), stage, func(ctx context.Context) {
		atomic.AddInt64(&count, 1)
	})
	require.NoError(t, err)

	got := atomic.LoadInt64(&count)
	assert.InDelta(t, 20, got, 8, "expected roughly rate*duration dispatches, got %d", got)
}

func TestRunDeterministicNeverWaitsForLaunchedWork(t *testing.T) {
	p := New(Deterministic, nil)
	blocked := make(chan struct{})

	stage := planner.Stage{RateSPS: 500, Duration: 30 * time.Millisecond}
	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), clock.New(), stage, func(ctx context.Context) {
			// Launch hands the work off, as its contract requires; the work
			// never finishes, which would deadlock the pacer if Run awaited it.
			go func() { <-blocked }()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pacer blocked on a launch callback instead of running open-loop")
	}
	close(blocked)
}

func TestRunPoissonUsesFakeClockDeterministically(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := New(Poisson, rng)

	f := clock.NewFake(time.Unix(0, 0))
	var arrivals []time.Time

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), f, planner.Stage{RateSPS: 50, Duration: time.Second}, func(ctx context.Context) {
			arrivals = append(arrivals, f.Now())
		})
	}()

	for i := 0; i < 2000 && len(done) == 0; i++ {
		f.Advance(time.Millisecond)
		time.Sleep(time.Microsecond)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poisson pacer did not terminate against the fake clock")
	}

	assert.NotEmpty(t, arrivals)
	for _, a := range arrivals {
		assert.False(t, a.After(time.Unix(1, 0)))
	}
}

func TestRunTerminatesOnContextCancellation(t *testing.T) {
	p := New(Deterministic, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := planner.Stage{RateSPS: 10, Duration: time.Hour}
	err := p.Run(ctx, clock.New(), stage, func(ctx context.Context) {
		t.Fatal("launch should not fire after cancellation")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

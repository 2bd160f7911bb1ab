package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonnetn/ext-proc-load-tester/internal/clock"
	"github.com/bonnetn/ext-proc-load-tester/internal/harness"
	"github.com/bonnetn/ext-proc-load-tester/internal/pacer"
	"github.com/bonnetn/ext-proc-load-tester/internal/planner"
	"github.com/bonnetn/ext-proc-load-tester/internal/sink"
)

func TestRunProducesOneArtifactPerStage(t *testing.T) {
	srv := harness.Start()
	defer srv.Stop()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := srv.Dial(dialCtx)
	require.NoError(t, err)
	defer conn.Close()

	dir := t.TempDir()
	snk, err := sink.New(dir)
	require.NoError(t, err)

	plan, err := planner.Build(planner.Config{
		Start: 50, End: 50, StepDuration: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	p := pacer.New(pacer.Deterministic, nil)

	err = Run(context.Background(), conn, plan, clock.New(), p, snk, Options{
		GraceWindow: time.Second,
		QueueLimit:  10000,
	}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "stage-0000-rate-50.json"))
	require.NoError(t, err)

	var samples []int64
	require.NoError(t, json.Unmarshal(data, &samples))
	assert.NotEmpty(t, samples)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s, int64(0))
	}
}

func TestRunStopsAtCancellationAndFlushesPartialArtifact(t *testing.T) {
	srv := harness.Start()
	defer srv.Stop()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := srv.Dial(dialCtx)
	require.NoError(t, err)
	defer conn.Close()

	dir := t.TempDir()
	snk, err := sink.New(dir)
	require.NoError(t, err)

	plan, err := planner.Build(planner.Config{
		Start: 10, End: 10, StepDuration: 3 * time.Second,
	})
	require.NoError(t, err)
	plan = append(plan, planner.Stage{Index: 1, RateSPS: 20, Duration: 3 * time.Second})

	p := pacer.New(pacer.Deterministic, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = Run(ctx, conn, plan, clock.New(), p, snk, Options{
		GraceWindow: 200 * time.Millisecond,
		QueueLimit:  10000,
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)

	_, statErr := os.Stat(filepath.Join(dir, "stage-0000-rate-10.json"))
	assert.NoError(t, statErr, "the in-flight stage's partial artifact should have been flushed")

	_, statErr = os.Stat(filepath.Join(dir, "stage-0001-rate-20.json"))
	assert.True(t, os.IsNotExist(statErr), "the unreached second stage should not have produced an artifact")
}

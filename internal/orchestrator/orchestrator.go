// Package orchestrator sequences a plan's stages through the launcher,
// collector, and sink. Each stage runs under an errgroup-supervised
// per-stage drain bounded by a grace window, so a stage's outstanding
// streams get a bounded chance to finish before the next stage starts.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/bonnetn/ext-proc-load-tester/internal/clock"
	"github.com/bonnetn/ext-proc-load-tester/internal/collector"
	"github.com/bonnetn/ext-proc-load-tester/internal/extprocclient"
	"github.com/bonnetn/ext-proc-load-tester/internal/pacer"
	"github.com/bonnetn/ext-proc-load-tester/internal/planner"
	"github.com/bonnetn/ext-proc-load-tester/internal/sink"
	"github.com/bonnetn/ext-proc-load-tester/internal/telemetry"
)

// Options tunes orchestration behavior beyond what a Stage itself encodes.
type Options struct {
	// GraceWindow bounds how long the orchestrator waits for outstanding
	// streams after spawning stops for a stage. Zero or negative means the
	// stage's own duration, with no cap.
	GraceWindow time.Duration
	// QueueLimit is the collector's high-water mark. 0 means unbounded.
	QueueLimit int
	// AbortOnStageError stops the run at the first StageAborted
	// condition instead of continuing to the next stage.
	AbortOnStageError bool
	// Metrics receives live per-stage gauges and counters. Nil disables
	// telemetry entirely; the orchestrator's own behavior never depends
	// on it.
	Metrics *telemetry.Metrics
}

// StageResult summarizes one completed (possibly partial) stage.
type StageResult struct {
	Stage     planner.Stage
	Succeeded int
	Failed    int
	Dropped   int
	Aborted   bool
	SamplesNS []int64
}

// Run drives plan's stages in order over conn, writing one artifact per
// stage to snk. It stops spawning new streams for the current stage as
// soon as ctx is cancelled, flushes that stage's partial artifact, and
// skips remaining stages, returning a wrapped ErrCancelled.
func Run(ctx context.Context, conn *grpc.ClientConn, plan []planner.Stage, clk clock.Clock, p *pacer.Pacer, snk *sink.Sink, opts Options, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("orchestrator")

	for _, stage := range plan {
		if opts.Metrics != nil {
			opts.Metrics.StageIndex.Set(float64(stage.Index))
			opts.Metrics.OfferedRateSPS.Set(stage.RateSPS)
		}

		result, err := runStage(ctx, conn, stage, clk, p, opts, logger)
		if err != nil {
			return err
		}

		if writeErr := snk.Write(stage.Index, stage.RateSPS, result.SamplesNS); writeErr != nil {
			return fmt.Errorf("stage %d: %w", stage.Index, writeErr)
		}

		logger.Info("stage complete",
			zap.Int("stage_index", stage.Index),
			zap.Float64("rate_sps", stage.RateSPS),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("dropped", result.Dropped),
		)

		if opts.Metrics != nil {
			opts.Metrics.StreamsOpened.Add(float64(result.Succeeded + result.Dropped + result.Failed))
			opts.Metrics.StreamsFailed.Add(float64(result.Failed))
			opts.Metrics.SamplesDropped.Add(float64(result.Dropped))
		}

		if result.Aborted {
			logger.Error("stage aborted", zap.Int("stage_index", stage.Index))
			if opts.AbortOnStageError {
				return fmt.Errorf("stage %d: %w", stage.Index, ErrStageAborted)
			}
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: stopped after stage %d", ErrCancelled, stage.Index)
		}
	}
	return nil
}

func runStage(ctx context.Context, conn *grpc.ClientConn, stage planner.Stage, clk clock.Clock, p *pacer.Pacer, opts Options, logger *zap.Logger) (StageResult, error) {
	col := collector.New(opts.QueueLimit)

	stageCtx, cancelStage := context.WithCancel(ctx)
	defer cancelStage()
	group, gctx := errgroup.WithContext(stageCtx)

	var failed int64
	launch := func(_ context.Context) {
		group.Go(func() error {
			if opts.Metrics != nil {
				opts.Metrics.InFlightStreams.Inc()
				defer opts.Metrics.InFlightStreams.Dec()
			}
			elapsed, err := extprocclient.Run(gctx, conn, clk)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				logger.Warn("stream failed", zap.Int("stage_index", stage.Index), zap.Error(err))
				return nil
			}
			col.Submit(elapsed)
			return nil
		})
	}

	if err := p.Run(ctx, clk, stage, launch); err != nil && ctx.Err() == nil {
		return StageResult{}, fmt.Errorf("stage %d: %w", stage.Index, err)
	}

	grace := opts.GraceWindow
	if grace <= 0 {
		grace = stage.Duration
	}

	waitDone := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(grace):
		cancelStage()
		<-waitDone
	}

	samples, dropped := col.Drain()
	samplesNS := make([]int64, len(samples))
	for i, s := range samples {
		samplesNS[i] = s.Nanoseconds()
	}

	aborted := conn.GetState() == connectivity.Shutdown || conn.GetState() == connectivity.TransientFailure

	return StageResult{
		Stage:     stage,
		Succeeded: len(samples),
		Failed:    int(atomic.LoadInt64(&failed)),
		Dropped:   dropped,
		Aborted:   aborted,
		SamplesNS: samplesNS,
	}, nil
}

// Command ext-proc-load-tester opens a paced sequence of ext_proc streams
// against a target endpoint and records per-stage latency distributions to
// disk. Flag parsing here is deliberately thin; signal handling cancels the
// run's root context and lets the orchestrator wind down in place rather
// than tearing anything down abruptly.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bonnetn/ext-proc-load-tester/internal/config"
	"github.com/bonnetn/ext-proc-load-tester/internal/logging"
	"github.com/bonnetn/ext-proc-load-tester/internal/orchestrator"
	"github.com/bonnetn/ext-proc-load-tester/internal/pacer"
	"github.com/bonnetn/ext-proc-load-tester/internal/planner"
	"github.com/bonnetn/ext-proc-load-tester/internal/sink"
	"github.com/bonnetn/ext-proc-load-tester/internal/telemetry"
	"github.com/bonnetn/ext-proc-load-tester/internal/transport"

	"github.com/bonnetn/ext-proc-load-tester/internal/clock"
)

// Exit codes returned by run and mapped to the process exit status.
const (
	exitOK              = 0
	exitFatalStageError = 1
	exitConfigError     = 2
	exitConnectFailed   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	target := flag.String("target", "", "target URI (grpc|http|https|unix)")
	start := flag.Float64("start", 0, "start_throughput: first-stage rate in streams/sec")
	end := flag.Float64("end", 0, "end_throughput: plan upper bound in streams/sec")
	step := flag.Float64("throughput-step", 0, "throughput_step: additive increment; 0 selects multiplicative")
	multiplier := flag.Float64("throughput-multiplier", 0, "throughput_multiplier: geometric factor, used only when step=0")
	testDuration := flag.Duration("test-duration", 0, "test_duration: per-stage duration")
	resultDir := flag.String("result-directory", "", "destination for per-stage JSON artifacts")
	pacingDiscipline := flag.String("pacing-discipline", "", "deterministic or poisson")
	connectTimeout := flag.Duration("connect-timeout", 0, "transport-establishment bound")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on; empty disables it")
	flag.Parse()

	loader := config.NewLoader(config.WithConfigPath(*configPath))
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}
	applyFlagOverrides(cfg, *target, *start, *end, *step, *multiplier, *testDuration, *resultDir, *pacingDiscipline, *connectTimeout, *metricsAddr)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return exitConfigError
	}
	defer logger.Sync()

	plan, err := planner.Build(planner.Config{
		Start:        cfg.Plan.StartThroughput,
		End:          cfg.Plan.EndThroughput,
		Step:         cfg.Plan.ThroughputStep,
		Multiplier:   cfg.Plan.ThroughputMultiplier,
		StepDuration: cfg.Plan.TestDuration,
	})
	if err != nil {
		logger.Error("invalid plan", zap.Error(err))
		return exitConfigError
	}

	snk, err := sink.New(cfg.Run.ResultDirectory)
	if err != nil {
		logger.Error("result directory unusable", zap.Error(err))
		return exitConfigError
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		metricsSrv, metricsErrCh := telemetry.StartServer(cfg.Metrics.Addr, cfg.Metrics.Path, reg)
		defer metricsSrv.Shutdown(5 * time.Second)
		go func() {
			if err := <-metricsErrCh; err != nil {
				logger.Warn("metrics server exited", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	factory := transport.New(cfg.Target.ConnectTimeout)
	conn, err := factory.Connect(ctx, cfg.Target.URI)
	if err != nil {
		logger.Error("connect failed", zap.Error(err))
		return exitConnectFailed
	}
	defer conn.Close()

	discipline := pacer.Deterministic
	if cfg.Run.PacingDiscipline == "poisson" {
		discipline = pacer.Poisson
	}
	p := pacer.New(discipline, rand.New(rand.NewSource(time.Now().UnixNano())))

	clk := clock.New()
	err = orchestrator.Run(ctx, conn, plan, clk, p, snk, orchestrator.Options{
		GraceWindow:       cfg.Run.GraceWindow,
		QueueLimit:        cfg.Run.QueueLimit,
		AbortOnStageError: cfg.Run.AbortOnStageError,
		Metrics:           metrics,
	}, logger)

	switch {
	case err == nil:
		return exitOK
	case ctx.Err() != nil:
		logger.Warn("run cancelled", zap.Error(err))
		return exitOK
	default:
		logger.Error("run failed", zap.Error(err))
		return exitFatalStageError
	}
}

func applyFlagOverrides(cfg *config.Config, target string, start, end, step, multiplier float64, testDuration time.Duration, resultDir, pacingDiscipline string, connectTimeout time.Duration, metricsAddr string) {
	if target != "" {
		cfg.Target.URI = target
	}
	if start != 0 {
		cfg.Plan.StartThroughput = start
	}
	if end != 0 {
		cfg.Plan.EndThroughput = end
	}
	if step != 0 {
		cfg.Plan.ThroughputStep = step
	}
	if multiplier != 0 {
		cfg.Plan.ThroughputMultiplier = multiplier
	}
	if testDuration != 0 {
		cfg.Plan.TestDuration = testDuration
	}
	if resultDir != "" {
		cfg.Run.ResultDirectory = resultDir
	}
	if pacingDiscipline != "" {
		cfg.Run.PacingDiscipline = pacingDiscipline
	}
	if connectTimeout != 0 {
		cfg.Target.ConnectTimeout = connectTimeout
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}
}

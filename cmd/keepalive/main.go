package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/appwrite-keepalive/config"
	"github.com/angeloszaimis/appwrite-keepalive/internal/circuitbreaker"
	"github.com/angeloszaimis/appwrite-keepalive/internal/httpserver"
	"github.com/angeloszaimis/appwrite-keepalive/internal/keepalive"
	"github.com/angeloszaimis/appwrite-keepalive/internal/metrics"
	"github.com/angeloszaimis/appwrite-keepalive/internal/report"
	"github.com/angeloszaimis/appwrite-keepalive/internal/scheduler"
	"github.com/angeloszaimis/appwrite-keepalive/internal/telemetry"
	"github.com/angeloszaimis/appwrite-keepalive/pkg/logger"
)

const serviceName = "appwrite-keepalive"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.Logging.Level, false, cfg.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	shutdownTracer := telemetry.InitTracer(serviceName, version, cfg.Tracing.Enabled, os.Stderr, log)

	code := run(ctx, cfg, os.Stdout, log, keepalive.NewAppwriteClientFactory(cfg.RequestTimeout()))

	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := shutdownTracer(flushCtx); err != nil {
		log.Warn("Failed to flush traces", slog.Any("err", err))
	}
	flushCancel()

	os.Exit(code)
}

// run executes one round, or rounds on the configured interval, and returns
// the process exit code.
func run(ctx context.Context, cfg *config.Config, out io.Writer, log *slog.Logger, newClient keepalive.ClientFactory) int {
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()

	collector := metrics.NewCollector(256, log)
	collector.Start(collectorCtx)

	runner := keepalive.NewRunner(log, newClient,
		keepalive.WithSource(cfg.Keepalive.Source),
		keepalive.WithAttributeWait(cfg.AttributeWait()),
		keepalive.WithCollector(collector),
	)

	if cfg.Interval() <= 0 {
		return runOnce(ctx, cfg, out, log, runner, collector)
	}

	return runDaemon(ctx, cfg, out, log, runner, collector)
}

func runOnce(ctx context.Context, cfg *config.Config, out io.Writer, log *slog.Logger, runner scheduler.Runner, collector *metrics.Collector) int {
	if err := report.WriteHeader(out, version, len(cfg.Projects)); err != nil {
		log.Warn("Failed to write report header", slog.Any("err", err))
	}

	s := scheduler.New(runner, cfg.Projects, log, scheduler.WithCollector(collector))
	summary := report.Summarize(s.RunOnce(ctx))

	if err := report.Write(out, summary); err != nil {
		log.Warn("Failed to write report", slog.Any("err", err))
	}

	if !summary.OK() {
		return 1
	}
	return 0
}

func runDaemon(ctx context.Context, cfg *config.Config, out io.Writer, log *slog.Logger, runner scheduler.Runner, collector *metrics.Collector) int {
	breakers := circuitbreaker.NewRegistry(cfg.Breaker.Threshold, cfg.BreakerResetTimeout())

	srvErrCh := make(chan error, 1)
	if cfg.Server.Enabled {
		srv, err := httpserver.New(cfg.Server.Address, newRouter(collector, breakers), log)
		if err != nil {
			log.Error("Failed to create status server", slog.Any("err", err))
			return 1
		}
		if err := srv.Listen(); err != nil {
			log.Error("Failed to bind status server", slog.String("addr", cfg.Server.Address), slog.Any("err", err))
			return 1
		}

		go func() {
			srvErrCh <- srv.Run(ctx)
		}()
	} else {
		close(srvErrCh)
	}

	s := scheduler.New(runner, cfg.Projects, log,
		scheduler.WithInterval(cfg.Interval()),
		scheduler.WithBreakers(breakers),
		scheduler.WithCollector(collector),
		scheduler.WithRoundHook(func(results []keepalive.Result) {
			if err := report.Write(out, report.Summarize(results)); err != nil {
				log.Warn("Failed to write report", slog.Any("err", err))
			}
		}),
	)

	if err := report.WriteHeader(out, version, len(cfg.Projects)); err != nil {
		log.Warn("Failed to write report header", slog.Any("err", err))
	}

	s.Start(ctx)
	log.Info("Shutting down gracefully...")

	if err := <-srvErrCh; err != nil {
		log.Error("Status server error", slog.Any("err", err))
		return 1
	}

	return 0
}

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/appwrite-keepalive/config"
	"github.com/angeloszaimis/appwrite-keepalive/internal/circuitbreaker"
	"github.com/angeloszaimis/appwrite-keepalive/internal/keepalive"
	"github.com/angeloszaimis/appwrite-keepalive/internal/metrics"
	"github.com/angeloszaimis/appwrite-keepalive/internal/report"
)

// ErrCircuitOpen is the error of projects skipped because they kept failing.
var ErrCircuitOpen = errors.New("skipped: too many consecutive failures")

// Runner runs one keepalive round over a list of projects.
type Runner interface {
	Run(ctx context.Context, projects []config.ProjectConfig) []keepalive.Result
}

type Scheduler struct {
	runner    Runner
	projects  []config.ProjectConfig
	interval  time.Duration
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	logger    *slog.Logger
	onRound   func(results []keepalive.Result)
	now       func() time.Time
}

type Option func(*Scheduler)

// WithInterval makes Start repeat rounds. Zero runs a single round.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

func WithBreakers(breakers *circuitbreaker.Registry) Option {
	return func(s *Scheduler) {
		s.breakers = breakers
	}
}

func WithCollector(collector *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.collector = collector
	}
}

// WithRoundHook registers a callback invoked with every round's results.
func WithRoundHook(fn func(results []keepalive.Result)) Option {
	return func(s *Scheduler) {
		s.onRound = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(runner Runner, projects []config.ProjectConfig, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		projects: projects,
		logger:   logger,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs a round right away and then one per interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.RunOnce(ctx)

	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Keepalive scheduled", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Keepalive scheduler stopped")
			return

		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs one round. Results keep the order of the configured projects.
func (s *Scheduler) RunOnce(ctx context.Context) []keepalive.Result {
	log := s.logger.With(slog.String("run_id", uuid.NewString()))
	log.Info("Starting keepalive round", slog.Int("projects", len(s.projects)))

	results := make([]keepalive.Result, len(s.projects))
	allowed := make([]config.ProjectConfig, 0, len(s.projects))
	positions := make([]int, 0, len(s.projects))

	for i, project := range s.projects {
		if s.breakers != nil && !s.breakers.For(circuitbreaker.KeyFor(project)).Allow() {
			results[i] = keepalive.FailedResult(project, ErrCircuitOpen, s.now().UTC())
			log.Warn("Skipping project",
				slog.String("project", project.Label()),
				slog.String("reason", ErrCircuitOpen.Error()))
			s.collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventKeepaliveFailed,
				Project: project.Label(),
				Error:   ErrCircuitOpen.Error(),
			})
			continue
		}

		allowed = append(allowed, project)
		positions = append(positions, i)
	}

	for j, result := range s.runner.Run(ctx, allowed) {
		if j >= len(positions) {
			break
		}
		results[positions[j]] = result
		s.recordOutcome(allowed[j], result)
	}

	summary := report.Summarize(results)
	s.collector.Emit(metrics.MetricEvent{
		Type:   metrics.EventRoundCompleted,
		Total:  summary.Total,
		Failed: summary.Failed,
	})

	attrs := []any{
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
	}
	if s.breakers != nil {
		attrs = append(attrs, slog.Int("open_breakers", len(s.breakers.Open())))
	}
	log.Info("Keepalive round finished", attrs...)

	if s.onRound != nil {
		s.onRound(results)
	}

	return results
}

// recordOutcome leaves the breaker alone for failures caused by shutdown.
func (s *Scheduler) recordOutcome(project config.ProjectConfig, result keepalive.Result) {
	if s.breakers == nil {
		return
	}

	b := s.breakers.For(circuitbreaker.KeyFor(project))
	switch {
	case result.Success:
		b.RecordSuccess()
	case keepalive.IsContextError(result.Err):
	default:
		b.RecordFailure()
	}
}

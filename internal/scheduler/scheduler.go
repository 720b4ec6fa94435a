package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visionscraper/internal/domain"

	"github.com/robfig/cron/v3"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	DefaultRunTimeout     = 5 * time.Minute
	sideEffectTimeout     = 30 * time.Second
)

type Runner interface {
	Run(ctx context.Context) (*domain.Run, error)
}

type Recorder interface {
	SaveRun(ctx context.Context, run *domain.Run) (int64, error)
}

type Notifier interface {
	NotifyRun(ctx context.Context, run *domain.Run) error
}

type Options struct {
	Spec       string
	RunTimeout time.Duration
	// Recorder and Notifier are optional.
	Recorder Recorder
	Notifier Notifier
}

type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	runner     Runner
	spec       string
	runTimeout time.Duration
	recorder   Recorder
	notifier   Notifier
	log        *slog.Logger
}

func New(ctx context.Context, runner Runner, opts Options, log *slog.Logger) *Scheduler {
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}

	c := cron.New(
		cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		ctx:        ctx,
		cron:       c,
		runner:     runner,
		spec:       strings.TrimSpace(opts.Spec),
		runTimeout: runTimeout,
		recorder:   opts.Recorder,
		notifier:   opts.Notifier,
		log:        log,
	}
}

func (s *Scheduler) Spec() string {
	return s.spec
}

func (s *Scheduler) Start() error {
	if s.spec == "" {
		return errors.New("schedule spec is empty")
	}

	if _, err := s.cron.AddFunc(s.spec, s.runScheduled); err != nil {
		return fmt.Errorf("add cron func (spec = %s): %w", s.spec, err)
	}

	s.cron.Start()

	return nil
}

// Stop halts the cron and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes a single pipeline run and hands the report to the
// recorder and notifier. Their failures are logged and do not affect the
// returned error.
func (s *Scheduler) RunOnce(ctx context.Context) (*domain.Run, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	run, runErr := s.runner.Run(runCtx)
	if runErr != nil {
		s.log.ErrorContext(ctx, "Pipeline run failed",
			"error", runErr,
			"target", runTarget(run),
			"stage", runStage(run))
	}

	if run == nil {
		return nil, runErr
	}

	// Side channels get their own deadline so a run that timed out is still
	// recorded.
	sideCtx, sideCancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer sideCancel()

	if s.recorder != nil {
		id, err := s.recorder.SaveRun(sideCtx, run)
		if err != nil {
			s.log.ErrorContext(ctx, "Failed to save run",
				"error", err,
				"target", run.Target,
				"stage", run.Stage)
		} else {
			s.log.DebugContext(ctx, "Run is saved",
				"runID", id,
				"target", run.Target)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyRun(sideCtx, run); err != nil {
			s.log.ErrorContext(ctx, "Failed to notify about run",
				"error", err,
				"target", run.Target,
				"stage", run.Stage)
		}
	}

	return run, runErr
}

func (s *Scheduler) runScheduled() {
	select {
	case <-s.ctx.Done():
		s.log.InfoContext(s.ctx, "Scheduler context is done",
			"error", s.ctx.Err())
		return
	default:
	}

	_, _ = s.RunOnce(s.ctx)
}

func runTarget(run *domain.Run) string {
	if run == nil {
		return ""
	}

	return run.Target
}

func runStage(run *domain.Run) domain.Stage {
	if run == nil {
		return ""
	}

	return run.Stage
}

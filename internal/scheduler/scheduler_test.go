package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"visionscraper/internal/domain"
	"visionscraper/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	run   *domain.Run
	err   error
}

func (r *stubRunner) Run(ctx context.Context) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("run context has no deadline")
	}

	return r.run, r.err
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

type stubRecorder struct {
	mu   sync.Mutex
	runs []*domain.Run
	err  error
}

func (r *stubRecorder) SaveRun(_ context.Context, run *domain.Run) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)

	return int64(len(r.runs)), r.err
}

type stubNotifier struct {
	mu   sync.Mutex
	runs []*domain.Run
	err  error
}

func (n *stubNotifier) NotifyRun(_ context.Context, run *domain.Run) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)

	return n.err
}

func TestRunOnceRecordsAndNotifies(t *testing.T) {
	run := &domain.Run{Target: "https://example.com", Stage: domain.StageDone}
	runner := &stubRunner{run: run}
	recorder := &stubRecorder{}
	notifier := &stubNotifier{}

	s := scheduler.New(context.Background(), runner, scheduler.Options{
		Recorder: recorder,
		Notifier: notifier,
	}, slog.Default())

	got, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Same(t, run, got)
	assert.Equal(t, []*domain.Run{run}, recorder.runs)
	assert.Equal(t, []*domain.Run{run}, notifier.runs)
}

func TestRunOnceReportsFailedRun(t *testing.T) {
	runErr := errors.New("analyze stage: boom")
	run := &domain.Run{Target: "https://example.com", Stage: domain.StageAnalyze, Err: runErr.Error()}
	recorder := &stubRecorder{}
	notifier := &stubNotifier{}

	s := scheduler.New(context.Background(), &stubRunner{run: run, err: runErr}, scheduler.Options{
		Recorder: recorder,
		Notifier: notifier,
	}, slog.Default())

	got, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, runErr)
	assert.Same(t, run, got)
	assert.Len(t, recorder.runs, 1)
	assert.Len(t, notifier.runs, 1)
}

func TestRunOnceSideChannelFailuresAreIgnored(t *testing.T) {
	run := &domain.Run{Target: "https://example.com", Stage: domain.StageDone}

	s := scheduler.New(context.Background(), &stubRunner{run: run}, scheduler.Options{
		Recorder: &stubRecorder{err: errors.New("disk full")},
		Notifier: &stubNotifier{err: errors.New("telegram down")},
	}, slog.Default())

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
}

func TestRunOnceWithoutSideChannels(t *testing.T) {
	runner := &stubRunner{run: &domain.Run{Stage: domain.StageDone}}

	s := scheduler.New(context.Background(), runner, scheduler.Options{}, slog.Default())

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.callCount())
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	runner := &stubRunner{}

	require.Error(t, scheduler.New(context.Background(), runner, scheduler.Options{}, slog.Default()).Start())
	require.Error(t, scheduler.New(context.Background(), runner, scheduler.Options{Spec: "not a spec"}, slog.Default()).Start())
}

func TestStartRunsOnSchedule(t *testing.T) {
	runner := &stubRunner{run: &domain.Run{Stage: domain.StageDone}}

	s := scheduler.New(context.Background(), runner, scheduler.Options{Spec: "@every 1s"}, slog.Default())
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	assert.Eventually(t, func() bool { return runner.callCount() >= 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestScheduledRunSkippedAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &stubRunner{run: &domain.Run{Stage: domain.StageDone}}

	s := scheduler.New(ctx, runner, scheduler.Options{Spec: "@every 1s"}, slog.Default())
	require.NoError(t, s.Start())

	time.Sleep(1500 * time.Millisecond)
	s.Stop()

	assert.Zero(t, runner.callCount())
}

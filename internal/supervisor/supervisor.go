// Package supervisor implements the Worker Supervisor: a bounded pool of
// task goroutines fed by the Stream Consumer over a channel, with a
// drain-then-cancel graceful shutdown.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	obsctx "github.com/mousehunter-quant/crawler-worker/internal/observability"

	"github.com/mousehunter-quant/crawler-worker/internal/adapter/stream"
	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

// TaskExecutor is the narrow surface the supervisor needs from
// internal/task.Executor, kept as an interface so tests can supply a fake.
type TaskExecutor interface {
	Execute(ctx domain.Context, t domain.Task) domain.TaskResult
}

// Supervisor runs up to MaxConcurrent tasks at a time, draining the Stream
// Consumer's envelope channel and acking every terminal result.
type Supervisor struct {
	Executor                TaskExecutor
	MaxConcurrent           int
	GracefulShutdownTimeout time.Duration
	WorkerID                string

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

// New builds a Supervisor.
func New(executor TaskExecutor, maxConcurrent int, shutdownTimeout time.Duration, workerID string) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Supervisor{
		Executor:                executor,
		MaxConcurrent:           maxConcurrent,
		GracefulShutdownTimeout: shutdownTimeout,
		WorkerID:                workerID,
		inFlight:                make(map[string]context.CancelFunc),
	}
}

// Run pulls envelopes from in until ctx is cancelled, then stops accepting
// new work and drains in-flight tasks for up to GracefulShutdownTimeout
// before force-cancelling whatever remains. It reports whether a forced
// cancellation was needed, which the caller maps to the process exit code.
func (s *Supervisor) Run(ctx context.Context, in <-chan stream.Envelope) (forced bool, err error) {
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("worker_id", s.WorkerID))

	sem := make(chan struct{}, s.MaxConcurrent)
	var wg sync.WaitGroup

readLoop:
	for {
		select {
		case env, ok := <-in:
			if !ok {
				break readLoop
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(env stream.Envelope) {
				defer wg.Done()
				defer func() { <-sem }()
				s.process(env, lg)
			}(env)
		case <-ctx.Done():
			break readLoop
		}
	}

	lg.Info("draining in-flight tasks", slog.Duration("timeout", s.GracefulShutdownTimeout))
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		lg.Info("drain completed cleanly")
		return false, nil
	case <-time.After(s.GracefulShutdownTimeout):
		lg.Warn("drain timeout exceeded, force-cancelling remaining tasks")
		s.cancelAll()
		<-drained
		return true, nil
	}
}

func (s *Supervisor) process(env stream.Envelope, lg *slog.Logger) {
	taskCtx, cancel := context.WithCancel(context.Background())
	s.register(env.Task.TaskID, cancel)
	defer func() {
		s.unregister(env.Task.TaskID)
		cancel()
	}()

	taskCtx = obsctx.ContextWithLogger(taskCtx, lg)
	result := s.Executor.Execute(taskCtx, env.Task)

	if !result.Terminal() {
		lg.Warn("leaving task unacked for redelivery",
			slog.String("task_id", env.Task.TaskID), slog.String("error_kind", string(result.ErrorKind)))
		return
	}
	if err := env.Ack(context.Background()); err != nil {
		lg.Error("ack failed", slog.String("task_id", env.Task.TaskID), slog.Any("error", err))
	}
}

func (s *Supervisor) register(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[taskID] = cancel
}

func (s *Supervisor) unregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, taskID)
}

func (s *Supervisor) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.inFlight {
		cancel()
	}
}

// InFlightCount reports the number of tasks currently executing, for metrics.
func (s *Supervisor) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

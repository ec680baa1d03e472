package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/consentflow/consent-api/pkg/logger"
)

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler runs named maintenance jobs on cron schedules. A job never
// overlaps with itself; a run that is still going when the next one is due
// is skipped.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logger.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]JobFunc
}

// NewScheduler creates a scheduler whose job runs are bounded by timeout.
// A zero timeout leaves runs unbounded.
func NewScheduler(log *logger.Logger, timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.Named("scheduler"),
		timeout: timeout,
		jobs:    make(map[string]JobFunc),
	}
}

// Add registers fn under name on a standard five field spec or a descriptor
// such as "@hourly".
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	if _, dup := s.jobs[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %q already scheduled", name)
	}
	s.jobs[name] = fn
	s.mu.Unlock()

	var running sync.Mutex
	_, err := s.cron.AddFunc(spec, func() {
		if !running.TryLock() {
			s.logger.Warn("Skipping job run, previous run still active", "job", name)
			return
		}
		defer running.Unlock()
		s.run(name, fn)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, name)
		s.mu.Unlock()
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}
	s.logger.Info("Scheduled job", "job", name, "spec", spec)
	return nil
}

// RunNow runs a registered job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return fn(ctx)
}

func (s *Scheduler) run(name string, fn JobFunc) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error(err, "Scheduled job failed", "job", name, "duration", time.Since(start).String())
		return
	}
	s.logger.Debug("Scheduled job finished", "job", name, "duration", time.Since(start).String())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
	}
}

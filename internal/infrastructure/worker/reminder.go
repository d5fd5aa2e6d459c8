package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/application/dispatcher"
	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/domain/event"
)

// Reminder policy defaults. The resend window is one hour shorter than the
// stale threshold so sweep-interval jitter cannot skip a task for a whole
// extra cycle.
const (
	DefaultSweepInterval  = time.Hour
	DefaultStaleThreshold = 24 * time.Hour
	DefaultResendWindow   = 23 * time.Hour
)

// ReminderSweeper periodically scans for tasks whose assignee-reported
// completion has sat unapproved past the threshold, and emits one reminder
// event per task per window.
type ReminderSweeper struct {
	taskRepo   port.TaskRepository
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger

	interval       time.Duration
	staleThreshold time.Duration
	resendWindow   time.Duration
	now            func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// SweeperOption configures the sweeper
type SweeperOption func(*ReminderSweeper)

// WithInterval overrides the sweep interval
func WithInterval(d time.Duration) SweeperOption {
	return func(s *ReminderSweeper) { s.interval = d }
}

// WithStaleThreshold overrides how long a completed task may wait for a
// decision before a reminder fires
func WithStaleThreshold(d time.Duration) SweeperOption {
	return func(s *ReminderSweeper) { s.staleThreshold = d }
}

// WithResendWindow overrides the minimum gap between reminders for the
// same task
func WithResendWindow(d time.Duration) SweeperOption {
	return func(s *ReminderSweeper) { s.resendWindow = d }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) SweeperOption {
	return func(s *ReminderSweeper) { s.now = now }
}

// NewReminderSweeper creates a new reminder sweeper
func NewReminderSweeper(
	taskRepo port.TaskRepository,
	d dispatcher.Dispatcher,
	logger *zap.Logger,
	opts ...SweeperOption,
) *ReminderSweeper {
	s := &ReminderSweeper{
		taskRepo:       taskRepo,
		dispatcher:     d,
		logger:         logger,
		interval:       DefaultSweepInterval,
		staleThreshold: DefaultStaleThreshold,
		resendWindow:   DefaultResendWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the periodic sweep loop
func (s *ReminderSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("reminder sweeper is already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true
	s.done = make(chan struct{})

	s.logger.Info("ReminderSweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_threshold", s.staleThreshold))

	go s.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish rather
// than interrupting a partially-processed batch
func (s *ReminderSweeper) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("ReminderSweeper stopped")
	return nil
}

// Name returns the worker name for identification
func (s *ReminderSweeper) Name() string {
	return "ReminderSweeper"
}

func (s *ReminderSweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Sweep immediately on start.
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("Reminder sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Reminder sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs a single scan, returning the number of reminders emitted.
// Each matching task gets one reminder event and a LastReminderSent stamp.
// The event goes out before the stamp commits: a lost stamp can at worst
// repeat a reminder on the next sweep, never silently drop one for a whole
// resend window.
func (s *ReminderSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.taskRepo.FindStaleApprovals(ctx,
		now.Add(-s.staleThreshold), now.Add(-s.resendWindow))
	if err != nil {
		return 0, fmt.Errorf("find stale approvals: %w", err)
	}

	var emitted int
	for _, t := range stale {
		waiting := now.Sub(deref(t.CompletedAt, now))
		evt := event.New(event.TypeApprovalReminder, t.ID, "",
			"", t.Stage.String(),
			fmt.Sprintf("Task has been awaiting approval for %s", waiting.Round(time.Minute)))
		s.dispatcher.DispatchAsync(ctx, evt)
		emitted++

		reminded := now
		t.LastReminderSent = &reminded
		if err := s.taskRepo.Save(ctx, t, t.Version); err != nil {
			// The reminder is already out; an unstamped task may be
			// reminded again next sweep.
			if errors.Is(err, port.ErrVersionConflict) {
				continue
			}
			s.logger.Error("Failed to stamp reminder",
				zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
	}

	if emitted > 0 {
		s.logger.Info("Reminder sweep completed",
			zap.Int("scanned", len(stale)),
			zap.Int("reminders", emitted))
	}
	return emitted, nil
}

func deref(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

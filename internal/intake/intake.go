// Package intake pulls queued interactions from the task-processing
// queue and dispatches them to the agent with bounded concurrency.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/platform"
)

// Default loop timing. Polling backs off to the long idle wait once a
// push trigger has been seen, since push will wake the loop faster
// than polling would.
const (
	defaultDisabledWait = 5 * time.Second
	defaultIdleWait     = 5 * time.Second
	defaultPushIdleWait = 5 * time.Minute
	defaultBusyWait     = 1 * time.Second
	defaultMaxInFlight  = 4
)

// TaskSource is the queue the loop drains. Implemented by the platform
// client.
type TaskSource interface {
	NextTask(ctx context.Context, providerID, taskType string) (*platform.QueuedTask, error)
	ReportResult(ctx context.Context, taskID int64, output map[string]any) error
	ReportError(ctx context.Context, taskID int64, message string) error
}

// Handler processes one task and returns its result envelope.
type Handler func(ctx context.Context, task *platform.QueuedTask) (map[string]any, error)

// Loop polls the queue while enabled and runs each task in its own
// goroutine. A handler failure is reported back to the queue and never
// stops the loop.
type Loop struct {
	source     TaskSource
	handler    Handler
	providerID string
	taskType   string
	logger     *slog.Logger

	disabledWait time.Duration
	idleWait     time.Duration
	pushIdleWait time.Duration
	busyWait     time.Duration
	maxInFlight  int

	trigger chan struct{}

	mu       sync.Mutex
	enabled  bool
	inFlight int
	pushSeen bool
}

// NewLoop creates a loop for the given provider registration. The loop
// starts disabled; the management API enables it.
func NewLoop(source TaskSource, handler Handler, providerID, taskType string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		source:       source,
		handler:      handler,
		providerID:   providerID,
		taskType:     taskType,
		logger:       logger,
		disabledWait: defaultDisabledWait,
		idleWait:     defaultIdleWait,
		pushIdleWait: defaultPushIdleWait,
		busyWait:     defaultBusyWait,
		maxInFlight:  defaultMaxInFlight,
		trigger:      make(chan struct{}, 1),
	}
}

// SetEnabled switches task intake on or off. Disabling does not cancel
// tasks already in flight.
func (l *Loop) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
	l.logger.Info("task intake toggled", "enabled", enabled)
	if enabled {
		l.wake()
	}
}

// Enabled reports whether intake is active.
func (l *Loop) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Trigger wakes the loop in response to a platform signal (the trigger
// endpoint or a push frame). Once one has been seen, idle polling backs
// off to the long interval, trusting signals to announce new work. Safe
// to call from any goroutine; concurrent triggers coalesce.
func (l *Loop) Trigger() {
	l.mu.Lock()
	l.pushSeen = true
	l.mu.Unlock()
	l.wake()
}

// wake nudges Run out of its idle wait without marking a platform
// signal. Internal wakeups (task completion, enable) go through here so
// they never switch the loop onto the long idle interval.
func (l *Loop) wake() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// InFlight returns the number of tasks currently being processed.
func (l *Loop) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("task intake loop started", "provider", l.providerID, "type", l.taskType)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !l.Enabled() {
			if !l.sleep(ctx, l.disabledWait) {
				return ctx.Err()
			}
			continue
		}

		if l.InFlight() >= l.maxInFlight {
			if !l.sleep(ctx, l.busyWait) {
				return ctx.Err()
			}
			continue
		}

		task, err := l.source.NextTask(ctx, l.providerID, l.taskType)
		if err != nil {
			l.logger.Warn("fetching next task failed", "error", err)
			if !l.sleep(ctx, l.idleWait) {
				return ctx.Err()
			}
			continue
		}

		if task == nil {
			if !l.waitForWork(ctx) {
				return ctx.Err()
			}
			continue
		}

		l.dispatch(ctx, task)
	}
}

// waitForWork blocks until a trigger arrives or the idle interval
// elapses. With tasks in flight the wait stays short so their
// completion is noticed promptly.
func (l *Loop) waitForWork(ctx context.Context) bool {
	wait := l.idleWait
	l.mu.Lock()
	if l.pushSeen && l.inFlight == 0 {
		wait = l.pushIdleWait
	}
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-l.trigger:
		return true
	case <-timer.C:
		return true
	}
}

// dispatch runs one task in its own goroutine and reports its outcome.
// A panicking handler is reported as a task failure, never propagated.
func (l *Loop) dispatch(ctx context.Context, task *platform.QueuedTask) {
	l.mu.Lock()
	l.inFlight++
	l.mu.Unlock()

	l.logger.Info("task accepted", "task", task.ID, "user", task.UserID)

	// Detach from the loop's context so a task already in flight during
	// shutdown can still finish and report its outcome.
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			l.mu.Lock()
			l.inFlight--
			l.mu.Unlock()
			l.wake()
		}()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("task handler panicked", "task", task.ID, "user", task.UserID, "panic", r)
				if rerr := l.source.ReportError(taskCtx, task.ID, fmt.Sprintf("internal error: %v", r)); rerr != nil {
					l.logger.Warn("could not report task failure", "task", task.ID, "error", rerr)
				}
			}
		}()

		output, err := l.handler(taskCtx, task)
		if err != nil {
			l.logger.Error("task failed", "task", task.ID, "user", task.UserID, "error", err)
			if rerr := l.source.ReportError(taskCtx, task.ID, err.Error()); rerr != nil {
				l.logger.Warn("could not report task failure", "task", task.ID, "error", rerr)
			}
			return
		}

		if rerr := l.source.ReportResult(taskCtx, task.ID, output); rerr != nil {
			l.logger.Warn("could not report task result", "task", task.ID, "error", rerr)
			return
		}
		l.logger.Info("task completed", "task", task.ID, "user", task.UserID)
	}()
}

// sleep waits for d, returning false if ctx is cancelled first.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Task statuses reported by the task-processing service.
const (
	StatusSuccessful = "STATUS_SUCCESSFUL"
	StatusFailed     = "STATUS_FAILED"
)

// Timing for the synchronous task helper. A scheduled job is polled
// every pollInterval up to maxPollIterations (10 minutes); transient
// scheduling errors are retried up to scheduleAttempts times.
const (
	scheduleAttempts  = 20
	scheduleRetryWait = 1 * time.Second
	pollInterval      = 5 * time.Second
	maxPollIterations = 120
)

// TaskInput is the payload of one queued agent interaction.
type TaskInput struct {
	Input             string   `json:"input"`
	Confirmation      int      `json:"confirmation"`
	ConversationToken string   `json:"conversation_token"`
	Memories          []string `json:"memories,omitempty"`
}

// QueuedTask is a task handed out by the task-processing queue.
type QueuedTask struct {
	ID     int64     `json:"id"`
	Type   string    `json:"type"`
	UserID string    `json:"userId"`
	Input  TaskInput `json:"input"`
}

// nextTaskResponse wraps the queue's next-task reply. An empty reply
// (no task field) means the queue is idle.
type nextTaskResponse struct {
	Task *QueuedTask `json:"task"`
}

// NextTask asks the queue for the next pending task for the given
// provider. Returns (nil, nil) when the queue is empty.
func (c *Client) NextTask(ctx context.Context, providerID, taskType string) (*QueuedTask, error) {
	var resp nextTaskResponse
	err := c.OCS(ctx, http.MethodPost, "/ocs/v2.php/taskprocessing/tasks_provider/next", map[string]any{
		"providerIds": []string{providerID},
		"taskTypeIds": []string{taskType},
	}, &resp)
	if err != nil {
		if IsNotFound(err) {
			// The queue reports an empty backlog as 404.
			return nil, nil
		}
		return nil, fmt.Errorf("next task: %w", err)
	}
	return resp.Task, nil
}

// ReportResult reports a successful task output envelope.
func (c *Client) ReportResult(ctx context.Context, taskID int64, output map[string]any) error {
	return c.OCS(ctx, http.MethodPost,
		fmt.Sprintf("/ocs/v2.php/taskprocessing/tasks_provider/%d/result", taskID),
		map[string]any{"output": output}, nil)
}

// ReportError reports a failed task with an error message.
func (c *Client) ReportError(ctx context.Context, taskID int64, message string) error {
	return c.OCS(ctx, http.MethodPost,
		fmt.Sprintf("/ocs/v2.php/taskprocessing/tasks_provider/%d/result", taskID),
		map[string]any{"error_message": message}, nil)
}

// scheduledTask is the task record returned by schedule and status calls.
type scheduledTask struct {
	ID     int64          `json:"id"`
	Status string         `json:"status"`
	Output map[string]any `json:"output"`
}

type scheduledTaskResponse struct {
	Task scheduledTask `json:"task"`
}

// isTransient reports whether err is worth a short retry: connection
// failures and timeouts, not HTTP-level rejections or cancellation.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// RunTask schedules a task-processing job of the given type and blocks
// until it reaches a terminal status, returning its output map.
//
// Scheduling is retried on transient network errors. Polling runs at a
// fixed interval with a hard iteration cap; exceeding the cap is a
// failure, not a cancellation of the remote job. HTTP 429 responses
// during polling cost extra iteration budget and a longer wait instead
// of failing outright.
func (c *Client) RunTask(ctx context.Context, taskType string, input map[string]any) (map[string]any, error) {
	body := map[string]any{
		"type":  taskType,
		"appId": c.appID,
		"input": input,
	}

	var resp scheduledTaskResponse
	scheduled := false
	for i := 0; i < scheduleAttempts; i++ {
		err := c.OCS(ctx, http.MethodPost, "/ocs/v1.php/taskprocessing/schedule", body, &resp)
		if err == nil {
			scheduled = true
			break
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("schedule %s task: %w", taskType, err)
		}
		c.logger.Debug("transient error scheduling task, retrying",
			"type", taskType, "attempt", i+1, "error", err)
		if !sleepCtx(ctx, scheduleRetryWait) {
			return nil, ctx.Err()
		}
	}
	if !scheduled {
		return nil, fmt.Errorf("failed to schedule %s task after %d attempts", taskType, scheduleAttempts)
	}

	task := resp.Task
	for i := 0; task.Status != StatusSuccessful && task.Status != StatusFailed && i < maxPollIterations; {
		if !sleepCtx(ctx, pollInterval) {
			return nil, ctx.Err()
		}
		i++

		var poll scheduledTaskResponse
		err := c.OCS(ctx, http.MethodGet, fmt.Sprintf("/ocs/v1.php/taskprocessing/task/%d", task.ID), nil, &poll)
		if err != nil {
			if IsRateLimited(err) {
				c.logger.Info("rate limited while polling task, backing off", "task", task.ID)
				if !sleepCtx(ctx, 2*pollInterval) {
					return nil, ctx.Err()
				}
				i += 2
				continue
			}
			if isTransient(err) {
				c.logger.Debug("transient error polling task", "task", task.ID, "error", err)
				if !sleepCtx(ctx, pollInterval) {
					return nil, ctx.Err()
				}
				i++
				continue
			}
			return nil, fmt.Errorf("poll %s task %d: %w", taskType, task.ID, err)
		}
		task = poll.Task
	}

	if task.Status != StatusSuccessful {
		if task.Status == StatusFailed {
			return nil, fmt.Errorf("%s task %d failed on the platform", taskType, task.ID)
		}
		return nil, fmt.Errorf("%s task %d did not finish within %s", taskType, task.ID,
			time.Duration(maxPollIterations)*pollInterval)
	}
	if task.Output == nil {
		return nil, fmt.Errorf("%s task %d finished without output", taskType, task.ID)
	}
	return task.Output, nil
}

// sleepCtx sleeps for d, returning false if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

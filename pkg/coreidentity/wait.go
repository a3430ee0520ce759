package coreidentity

import (
	"context"
	"fmt"
	"time"
)

// WaitForCompletion polls GetTask every pollInterval until the task is
// completed or failed, or until timeout has elapsed since the call began.
//
// The first poll always happens, so a timeout <= 0 performs exactly one check.
// The interval is fixed. A GetTask error ends the wait and is returned as-is.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string, timeout, pollInterval time.Duration) (*Task, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("%w: poll interval must be > 0, got %s", ErrInvalidArgument, pollInterval)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := c.now()
	for polls := 1; ; polls++ {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		taskPollsTotal.Inc()

		if task.Status.IsTerminal() {
			c.log.InfoObj("task reached terminal status", "task_wait", map[string]any{
				"task_id": taskID,
				"status":  string(task.Status),
				"polls":   polls,
			})
			return task, nil
		}

		elapsed := c.now().Sub(start)
		if elapsed >= timeout {
			waitTimeoutsTotal.Inc()
			c.log.WarnObj("task wait timed out", "task_wait", map[string]any{
				"task_id":     taskID,
				"last_status": string(task.Status),
				"polls":       polls,
				"timeout":     timeout.String(),
			})
			return nil, &TimeoutError{TaskID: taskID, Timeout: timeout, LastStatus: task.Status}
		}

		c.log.DebugObj("task not finished", "task_wait", map[string]any{
			"task_id": taskID,
			"status":  string(task.Status),
			"elapsed": elapsed.String(),
		})
		if err := c.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

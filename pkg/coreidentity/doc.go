// Package coreidentity is a client for the CoreIdentity task-execution API.
//
// A Client submits tasks, fetches their current state, blocks until a task
// reaches a terminal status, and reads account usage:
//
//	c, err := coreidentity.New(apiKey)
//	if err != nil {
//		return err
//	}
//	task, err := c.Submit(ctx, "analyze_data", map[string]any{"data": []int{1, 2, 3}}, coreidentity.PriorityHigh)
//	if err != nil {
//		return err
//	}
//	done, err := c.WaitForCompletion(ctx, task.TaskID, coreidentity.DefaultWaitTimeout, coreidentity.DefaultPollInterval)
//
// Every call is a single request. Nothing is retried or cached; non-2xx
// responses come back as *HTTPError and an exhausted wait as *TimeoutError.
package coreidentity

package notifiers

import (
	"encoding/json"
	"time"

	"github.com/coreidentity/coreidentity-go/pkg/coreidentity"
)

// Event represents the payload announced when a task reaches a terminal status.
type Event struct {
	TaskID     string          `json:"task_id"`
	TaskType   string          `json:"task_type,omitempty"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

// NewEvent constructs an Event for the given task. taskType may be empty when unknown.
func NewEvent(task *coreidentity.Task, taskType string) Event {
	evt := Event{
		TaskType:   taskType,
		ObservedAt: time.Now().UTC(),
	}
	if task != nil {
		evt.TaskID = task.TaskID
		evt.Status = string(task.Status)
		evt.Result = task.Result
	}
	return evt
}

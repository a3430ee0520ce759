package coreidentity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority controls how the service schedules a submitted task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority normalizes s into a Priority. An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityNormal, nil
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate reports whether p is one of the priorities the service accepts.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("%w: unknown priority %q (expected low, normal, high or critical)", ErrInvalidArgument, string(p))
	}
}

// Status is the task state reported by the service. Values are owned by the
// service; the client only distinguishes terminal from non-terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further state change will occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskSubmission is the body of a task creation request.
type TaskSubmission struct {
	TaskType string   `json:"taskType"`
	Payload  any      `json:"payload"`
	Priority Priority `json:"priority"`
}

// Task is a task record as returned by the service.
type Task struct {
	TaskID              string          `json:"taskId"`
	Status              Status          `json:"status"`
	Result              json.RawMessage `json:"result,omitempty"`
	CreatedAt           Timestamp       `json:"createdAt,omitempty"`
	CompletedAt         Timestamp       `json:"completedAt,omitempty"`
	EstimatedCompletion Timestamp       `json:"estimatedCompletion,omitempty"`

	// Raw holds the response body exactly as received.
	Raw json.RawMessage `json:"-"`
}

// DecodeResult unmarshals the task result into v.
func (t *Task) DecodeResult(v any) error {
	if t == nil || len(t.Result) == 0 {
		return fmt.Errorf("task has no result")
	}
	if err := json.Unmarshal(t.Result, v); err != nil {
		return fmt.Errorf("decode task result: %w", err)
	}
	return nil
}

// Timestamp is a time reported by the service, kept as sent. The service owns
// the format, so an unexpected value never fails decoding of the task.
type Timestamp string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
	default:
		*t = Timestamp(b)
	}
	return nil
}

// Time parses the timestamp. RFC 3339, "2006-01-02 15:04:05" (UTC) and Unix
// seconds or milliseconds are understood; ok is false for anything else.
func (t Timestamp) Time() (time.Time, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	if ts, err := time.ParseInLocation(time.DateTime, s, time.UTC); err == nil {
		return ts, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

// Usage is the account usage record exactly as the service sent it.
type Usage json.RawMessage

// MarshalJSON returns the record unchanged.
func (u Usage) MarshalJSON() ([]byte, error) {
	if len(u) == 0 {
		return []byte("null"), nil
	}
	return u, nil
}

// Decode unmarshals the record into v. Numbers decode as json.Number when v
// holds them as interface values, so large counters keep their precision.
func (u Usage) Decode(v any) error {
	dec := json.NewDecoder(bytes.NewReader(u))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode usage: %w", err)
	}
	return nil
}

func decodeTask(body []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, err
	}
	task.Raw = append(json.RawMessage(nil), body...)
	return &task, nil
}

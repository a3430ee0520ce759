package coreidentity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coreidentity/coreidentity-go/pkg/httpclient"
)

const (
	DefaultBaseURL      = "https://api.coreidentity.ai"
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultWaitTimeout  = 300 * time.Second
	DefaultPollInterval = 2 * time.Second

	tasksPath = "/v1/tasks"
	usagePath = "/v1/usage"
)

// Client talks to the task-execution API. Configuration is fixed at
// construction, so a Client may be shared between goroutines.
type Client struct {
	baseURL     string
	authHeader  string
	httpTimeout time.Duration
	http        httpclient.Client
	log         Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// New builds a Client authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrInvalidArgument)
	}

	c := &Client{
		baseURL:     DefaultBaseURL,
		authHeader:  "Bearer " + apiKey,
		httpTimeout: DefaultHTTPTimeout,
		log:         noopLogger{},
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	base, err := normalizeBaseURL(c.baseURL)
	if err != nil {
		return nil, err
	}
	c.baseURL = base
	if c.http == nil {
		c.http = httpclient.NewRestyClient(c.httpTimeout)
	}
	return c, nil
}

// BaseURL returns the endpoint every request is resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// Submit creates a task. An empty priority is sent as PriorityNormal.
func (c *Client) Submit(ctx context.Context, taskType string, payload any, priority Priority) (*Task, error) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return nil, fmt.Errorf("%w: task type is required", ErrInvalidArgument)
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if err := priority.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(TaskSubmission{TaskType: taskType, Payload: payload, Priority: priority})
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not serializable: %v", ErrInvalidArgument, err)
	}

	raw, err := c.do(ctx, "submit", http.MethodPost, tasksPath, body)
	if err != nil {
		return nil, err
	}
	task, err := decodeTask(raw)
	if err != nil {
		return nil, fmt.Errorf("POST %s: decode response: %w", tasksPath, err)
	}
	if task.TaskID == "" {
		return nil, fmt.Errorf("POST %s: response has no taskId", tasksPath)
	}

	c.log.InfoObj("task submitted", "task_submit", map[string]any{
		"task_id":   task.TaskID,
		"task_type": taskType,
		"priority":  string(priority),
		"status":    string(task.Status),
	})
	return task, nil
}

// GetTask fetches the current state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}

	path := tasksPath + "/" + url.PathEscape(taskID)
	raw, err := c.do(ctx, "get_task", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	task, err := decodeTask(raw)
	if err != nil {
		return nil, fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return task, nil
}

// GetUsage fetches account-level usage statistics.
func (c *Client) GetUsage(ctx context.Context) (Usage, error) {
	raw, err := c.do(ctx, "get_usage", http.MethodGet, usagePath, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("GET %s: decode response: body is not valid JSON", usagePath)
	}
	return Usage(append([]byte(nil), raw...)), nil
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	requestID := uuid.NewString()
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: method,
		URL:    c.baseURL + path,
		Headers: map[string]string{
			"Authorization": c.authHeader,
			"Content-Type":  "application/json",
			"Accept":        "application/json",
			"X-Request-Id":  requestID,
		},
		Body: body,
	})
	if err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	requestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode())).Inc()

	if !resp.IsSuccess() {
		httpErr := &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
			RequestID:  requestID,
		}
		c.log.WarnObj("api request failed", "api_error", map[string]any{
			"method":     method,
			"path":       path,
			"status":     httpErr.StatusCode,
			"request_id": requestID,
		})
		return nil, httpErr
	}

	c.log.DebugObj("api request completed", "api_request", map[string]any{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode(),
		"request_id": requestID,
	})
	return resp.Body(), nil
}

func validateTaskID(taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidArgument)
	}
	return nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: base url is empty", ErrInvalidArgument)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse base url: %v", ErrInvalidArgument, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: base url %q must use http or https", ErrInvalidArgument, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: base url %q has no host", ErrInvalidArgument, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

package coreidentity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testAPIKey = "key-123"

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL(baseURL)}, opts...)
	c, err := New(testAPIKey, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSubmitSendsSingleRequest(t *testing.T) {
	const respBody = `{"taskId":"task_1","status":"queued","estimatedCompletion":"2025-01-01T00:00:05.000Z","extra":{"k":1}}`
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/tasks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testAPIKey {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("missing X-Request-Id")
		}

		var sub map[string]any
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &sub); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if sub["taskType"] != "analyze_data" || sub["priority"] != "high" {
			t.Errorf("unexpected submission %s", raw)
		}
		payload, ok := sub["payload"].(map[string]any)
		if !ok || len(payload["data"].([]any)) != 3 {
			t.Errorf("unexpected payload %s", raw)
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(respBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	task, err := c.Submit(context.Background(), "analyze_data", map[string]any{"data": []int{1, 2, 3}}, PriorityHigh)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
	if task.TaskID != "task_1" || task.Status != StatusQueued {
		t.Fatalf("unexpected task %#v", task)
	}
	if ts, ok := task.EstimatedCompletion.Time(); !ok || !ts.Equal(time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC)) {
		t.Fatalf("estimatedCompletion not decoded: %q", task.EstimatedCompletion)
	}
	if string(task.Raw) != respBody {
		t.Fatalf("raw body changed: %s", task.Raw)
	}
}

func TestSubmitDefaultsPriorityToNormal(t *testing.T) {
	var priority string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sub TaskSubmission
		_ = json.NewDecoder(r.Body).Decode(&sub)
		priority = string(sub.Priority)
		_, _ = w.Write([]byte(`{"taskId":"t"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).Submit(context.Background(), "echo", nil, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if priority != "normal" {
		t.Fatalf("expected normal priority, got %q", priority)
	}
}

func TestSubmitRejectsInvalidInputWithoutRequest(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"taskId":"t"}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	cases := []struct {
		name     string
		taskType string
		payload  any
		priority Priority
	}{
		{name: "empty type", taskType: "  ", payload: map[string]any{}},
		{name: "unknown priority", taskType: "echo", priority: "urgent"},
		{name: "unserializable payload", taskType: "echo", payload: make(chan int)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tc.taskType, tc.payload, tc.priority)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
	if calls != 0 {
		t.Fatalf("expected no requests, got %d", calls)
	}
}

func TestSubmitRequiresTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).Submit(context.Background(), "echo", nil, PriorityLow); err == nil {
		t.Fatalf("expected error for response without taskId")
	}
}

func TestGetTaskRequestsExactID(t *testing.T) {
	ids := []string{"task_1700000000000_abc123xyz", "with space", "a/b"}
	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET, got %s", r.Method)
				}
				if r.URL.Path != "/v1/tasks/"+id {
					t.Errorf("path = %q, want %q", r.URL.Path, "/v1/tasks/"+id)
				}
				_, _ = w.Write([]byte(`{"taskId":"` + id + `","status":"completed","result":{"success":true}}`))
			}))
			defer srv.Close()

			task, err := newTestClient(t, srv.URL).GetTask(context.Background(), id)
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			var result struct {
				Success bool `json:"success"`
			}
			if err := task.DecodeResult(&result); err != nil || !result.Success {
				t.Fatalf("DecodeResult: %v %#v", err, result)
			}
		})
	}
}

func TestGetTaskRejectsEmptyID(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if _, err := c.GetTask(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGetUsageReturnsRecordAsIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/usage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"period":"current_month","totalTasks":1247,"totalCost":247.32}`))
	}))
	defer srv.Close()

	usage, err := newTestClient(t, srv.URL).GetUsage(context.Background())
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	var fields map[string]any
	if err := usage.Decode(&fields); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fields["period"] != "current_month" || fields["totalTasks"] != json.Number("1247") {
		t.Fatalf("unexpected usage %#v", fields)
	}
}

func TestGetUsageKeepsArbitraryJSON(t *testing.T) {
	bodies := []string{
		`[{"day":"mon","tasks":3}]`,
		`{"totalTasks":9007199254740993}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		usage, err := newTestClient(t, srv.URL).GetUsage(context.Background())
		srv.Close()
		if err != nil {
			t.Fatalf("GetUsage(%s): %v", body, err)
		}
		if string(usage) != body {
			t.Fatalf("usage changed: got %s, want %s", usage, body)
		}
		out, err := json.Marshal(usage)
		if err != nil || string(out) != body {
			t.Fatalf("usage does not marshal as-is: %s (%v)", out, err)
		}
	}

	var big map[string]any
	if err := Usage(`{"totalTasks":9007199254740993}`).Decode(&big); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if big["totalTasks"] != json.Number("9007199254740993") {
		t.Fatalf("large counter lost precision: %#v", big["totalTasks"])
	}
}

func TestGetUsageRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"totalTasks":`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).GetUsage(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTaskTimestampsNeverFailDecoding(t *testing.T) {
	cases := map[string]string{
		`""`:                    "",
		`1735689600`:            "1735689600",
		`"2025-01-01 00:00:00"`: "2025-01-01 00:00:00",
		`null`:                  "",
	}
	for raw, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"taskId":"t1","status":"completed","createdAt":` + raw + `}`))
		}))
		c := newTestClient(t, srv.URL)

		task, err := c.GetTask(context.Background(), "t1")
		if err != nil {
			srv.Close()
			t.Fatalf("GetTask with createdAt %s: %v", raw, err)
		}
		if string(task.CreatedAt) != want {
			t.Fatalf("createdAt %s decoded as %q", raw, task.CreatedAt)
		}
		if _, err := c.WaitForCompletion(context.Background(), "t1", time.Second, time.Second); err != nil {
			t.Fatalf("WaitForCompletion with createdAt %s: %v", raw, err)
		}
		srv.Close()
	}
}

func TestTimestampTime(t *testing.T) {
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []Timestamp{"2025-01-01T00:00:00Z", "2025-01-01 00:00:00", "1735689600", "1735689600000"} {
		got, ok := ts.Time()
		if !ok || !got.Equal(want) {
			t.Fatalf("%q parsed as %v (ok=%v)", ts, got, ok)
		}
	}
	for _, ts := range []Timestamp{"", "soon"} {
		if _, ok := ts.Time(); ok {
			t.Fatalf("%q should not parse", ts)
		}
	}
}

func TestHTTPErrorsSurfaceBeforeDecoding(t *testing.T) {
	ops := map[string]func(*Client) error{
		"submit": func(c *Client) error {
			_, err := c.Submit(context.Background(), "echo", nil, PriorityNormal)
			return err
		},
		"get_task": func(c *Client) error {
			_, err := c.GetTask(context.Background(), "task_1")
			return err
		},
		"get_usage": func(c *Client) error {
			_, err := c.GetUsage(context.Background())
			return err
		},
	}
	statuses := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError}

	for name, op := range ops {
		for _, status := range statuses {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error": not json`))
			}))
			err := op(newTestClient(t, srv.URL))
			srv.Close()

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("%s/%d: expected *HTTPError, got %v", name, status, err)
			}
			if httpErr.StatusCode != status {
				t.Fatalf("%s: status = %d, want %d", name, httpErr.StatusCode, status)
			}
			if string(httpErr.Body) != `{"error": not json` {
				t.Fatalf("%s: body not preserved: %q", name, httpErr.Body)
			}
			if httpErr.RequestID == "" {
				t.Fatalf("%s: request id missing", name)
			}
		}
	}
}

func TestMalformedSuccessBodySurfacesDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetTask(context.Background(), "task_1")
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if _, ok := StatusCode(err); ok {
		t.Fatalf("decode failure must not be reported as HTTP error: %v", err)
	}
}

func TestAuthorizationHeaderIsStableAcrossOperations(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"taskId":"t","status":"completed"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	if _, err := c.Submit(ctx, "echo", "x", PriorityNormal); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := c.GetTask(ctx, "t"); err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if _, err := c.GetUsage(ctx); err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if _, err := c.WaitForCompletion(ctx, "t", DefaultWaitTimeout, DefaultPollInterval); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}

	if len(headers) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(headers))
	}
	for i, h := range headers {
		if h != "Bearer "+testAPIKey {
			t.Fatalf("request %d Authorization = %q", i, h)
		}
	}
}

func TestNewValidatesConfiguration(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected error for empty api key, got %v", err)
	}
	for _, base := range []string{"", "ftp://example.com", "https://", "::bad"} {
		if _, err := New(testAPIKey, WithBaseURL(base)); err == nil {
			t.Fatalf("expected error for base url %q", base)
		}
	}
	if _, err := New(testAPIKey, WithHTTPTimeout(0)); err == nil {
		t.Fatalf("expected error for zero http timeout")
	}

	c, err := New(testAPIKey, WithBaseURL("https://api.example.com/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.BaseURL() != "https://api.example.com" {
		t.Fatalf("trailing slash not trimmed: %s", c.BaseURL())
	}

	c, err = New(testAPIKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Fatalf("default base url = %s", c.BaseURL())
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{"": PriorityNormal, "LOW": PriorityLow, " high ": PriorityHigh, "critical": PriorityCritical}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePriority("asap"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetTask(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequestsCounterTracksStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	counter := requestsTotal.WithLabelValues("get_usage", "418")
	before := testutil.ToFloat64(counter)
	_, _ = newTestClient(t, srv.URL).GetUsage(context.Background())
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", got)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreidentity/coreidentity-go/internal/config"
	"github.com/coreidentity/coreidentity-go/internal/logger"
	"github.com/coreidentity/coreidentity-go/internal/storage"
	"github.com/coreidentity/coreidentity-go/pkg/coreidentity"
	"github.com/coreidentity/coreidentity-go/pkg/notifiers"
)

// ErrMissingAPIKey is returned by commands that talk to the API when no key is configured.
var ErrMissingAPIKey = errors.New("api key is not configured (set " + config.EnvPrefix + "_API_KEY)")

// App is the CLI runtime. It owns the task journal and the notifier fan-out,
// and builds the API client on first use so that local-only commands work
// without credentials.
type App struct {
	cfg        *config.Config
	log        logger.Logger
	store      storage.Store
	fanout     *notifiers.Fanout
	clientOpts []coreidentity.Option

	mu     sync.Mutex
	client *coreidentity.Client
}

// Option customizes an App.
type Option func(*App)

// WithClientOptions appends options applied when the API client is built.
func WithClientOptions(opts ...coreidentity.Option) Option {
	return func(a *App) {
		a.clientOpts = append(a.clientOpts, opts...)
	}
}

// New builds the runtime from configuration.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a := &App{cfg: cfg, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	storeOpts := storage.Options{
		EntryTTL:        cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.store = store
	log.DebugObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"entry_ttl_seconds":        int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	fanout, err := buildFanout(ctx, cfg.NotifiersFile, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.fanout = fanout

	return a, nil
}

func buildFanout(ctx context.Context, path string, log logger.Logger) (*notifiers.Fanout, error) {
	if strings.TrimSpace(path) == "" {
		return notifiers.NewFanout(nil, log), nil
	}

	file, err := notifiers.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load notifiers: %w", err)
	}
	enabled := file.Enabled()
	built, err := notifiers.BuildAll(ctx, notifiers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build notifiers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, cfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":       cfg.ID,
			"type":     cfg.Type,
			"statuses": strings.Join(cfg.Statuses, ","),
		})
	}
	log.DebugObj("notifiers loaded", "notifiers_meta", map[string]any{
		"count":     len(summaries),
		"notifiers": summaries,
	})
	return notifiers.NewFanout(built, log), nil
}

// Client returns the API client, building it on first use.
func (a *App) Client() (*coreidentity.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []coreidentity.Option{
		coreidentity.WithBaseURL(a.cfg.BaseURL),
		coreidentity.WithHTTPTimeout(a.cfg.HTTPTimeout),
		coreidentity.WithLogger(a.log),
	}
	opts = append(opts, a.clientOpts...)

	c, err := coreidentity.New(a.cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}
	a.client = c
	return c, nil
}

// Submit creates a task and journals it.
func (a *App) Submit(ctx context.Context, taskType string, payload any, priority string) (*coreidentity.Task, error) {
	p, err := coreidentity.ParsePriority(priority)
	if err != nil {
		return nil, err
	}
	c, err := a.Client()
	if err != nil {
		return nil, err
	}

	task, err := c.Submit(ctx, taskType, payload, p)
	if err != nil {
		return nil, err
	}

	a.record(storage.Entry{
		TaskID:      task.TaskID,
		TaskType:    strings.TrimSpace(taskType),
		Priority:    string(p),
		Status:      string(task.Status),
		SubmittedAt: time.Now().UTC(),
	})
	return task, nil
}

// Get fetches the current state of a task.
func (a *App) Get(ctx context.Context, taskID string) (*coreidentity.Task, error) {
	c, err := a.Client()
	if err != nil {
		return nil, err
	}
	task, err := c.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	a.observe(ctx, task)
	return task, nil
}

// Wait blocks on each task in turn. Tasks that finished are returned in
// order; failures for individual tasks are joined into the returned error.
func (a *App) Wait(ctx context.Context, taskIDs []string, timeout, pollInterval time.Duration) ([]*coreidentity.Task, error) {
	if len(taskIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one task id is required", coreidentity.ErrInvalidArgument)
	}
	c, err := a.Client()
	if err != nil {
		return nil, err
	}

	tasks := make([]*coreidentity.Task, 0, len(taskIDs))
	var errs []error
	for _, id := range taskIDs {
		task, err := c.WaitForCompletion(ctx, id, timeout, pollInterval)
		if err != nil {
			var te *coreidentity.TimeoutError
			if errors.As(err, &te) && te.LastStatus != "" {
				a.record(storage.Entry{TaskID: id, Status: string(te.LastStatus)})
			}
			a.log.ErrorObj("task wait failed", "wait_error", map[string]any{
				"task_id": id,
				"error":   err.Error(),
			})
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		a.observe(ctx, task)
		tasks = append(tasks, task)
	}
	return tasks, errors.Join(errs...)
}

// Usage returns the account usage record.
func (a *App) Usage(ctx context.Context) (coreidentity.Usage, error) {
	c, err := a.Client()
	if err != nil {
		return nil, err
	}
	return c.GetUsage(ctx)
}

// History lists journaled tasks, newest first.
func (a *App) History() ([]storage.Entry, error) {
	entries, err := a.store.List()
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return entries, nil
}

// Close releases the journal and any notifier connections.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if err := a.fanout.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// observe journals the latest status of a task and announces it to the
// notifiers the first time it is seen in a terminal status.
func (a *App) observe(ctx context.Context, task *coreidentity.Task) {
	prev, found, err := a.store.Lookup(task.TaskID)
	if err != nil {
		a.log.WarnObj("journal lookup failed", "storage_error", map[string]any{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
	}
	a.record(storage.Entry{TaskID: task.TaskID, Status: string(task.Status)})

	if !task.Status.IsTerminal() {
		return
	}
	if found && coreidentity.Status(prev.Status).IsTerminal() {
		return
	}

	delivered, err := a.fanout.Notify(ctx, notifiers.NewEvent(task, prev.TaskType))
	if err != nil {
		a.log.WarnObj("task notification failed", "notify_error", map[string]any{
			"task_id": task.TaskID,
			"error":   err.Error(),
		})
	}
	if delivered > 0 {
		a.log.InfoObj("task notification delivered", "notify_result", map[string]any{
			"task_id":   task.TaskID,
			"status":    task.Status,
			"notifiers": delivered,
		})
	}
}

func (a *App) record(entry storage.Entry) {
	if strings.TrimSpace(entry.TaskID) == "" {
		return
	}
	if err := a.store.Record(entry); err != nil {
		a.log.WarnObj("journal write failed", "storage_error", map[string]any{
			"task_id": entry.TaskID,
			"error":   err.Error(),
		})
	}
}

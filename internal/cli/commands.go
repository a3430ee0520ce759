package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreidentity/coreidentity-go/pkg/coreidentity"
)

func newSubmitCommand(rt *runtime) *cobra.Command {
	var (
		payload      string
		payloadFile  string
		priority     string
		wait         bool
		timeout      time.Duration
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <task-type>",
		Short: "Submit a task",
		Long: `Submit a task of the given type. The payload is any JSON value, passed inline
with --payload or read from a file with --payload-file. With --wait the command
blocks until the task completes or fails.`,
		Example: `  coreidentity submit analyze_data --payload '{"dataset":"sales_q4"}' --priority high
  coreidentity submit summarize --payload-file job.json --wait --timeout 10m`,
		Args: cobra.ExactArgs(1),
		RunE: rt.runE(func(cmd *cobra.Command, args []string) error {
			body, err := readPayload(payload, payloadFile, cmd.Flags().Changed("payload"))
			if err != nil {
				return err
			}

			task, err := rt.app.Submit(cmd.Context(), args[0], body, priority)
			if err != nil {
				return err
			}
			if !wait {
				return rt.out.tasks([]*coreidentity.Task{task})
			}

			t, iv := rt.waitSettings(cmd, timeout, pollInterval)
			done, err := rt.app.Wait(cmd.Context(), []string{task.TaskID}, t, iv)
			if err != nil {
				// Still show what was created so the task can be followed up.
				return errors.Join(err, rt.out.tasks([]*coreidentity.Task{task}))
			}
			return rt.out.tasks(done)
		}),
	}

	f := cmd.Flags()
	f.StringVar(&payload, "payload", "", "Task payload as a JSON value")
	f.StringVar(&payloadFile, "payload-file", "", "Read the task payload from a JSON file")
	f.StringVar(&priority, "priority", string(coreidentity.PriorityNormal), "Priority: low, normal, high, critical")
	f.BoolVar(&wait, "wait", false, "Wait for the task to complete or fail")
	f.DurationVar(&timeout, "timeout", coreidentity.DefaultWaitTimeout, "How long --wait polls before giving up (default from config)")
	f.DurationVar(&pollInterval, "poll-interval", coreidentity.DefaultPollInterval, "Delay between polls with --wait (default from config)")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")

	return cmd
}

func newGetCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show the current state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: rt.runE(func(cmd *cobra.Command, args []string) error {
			task, err := rt.app.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rt.out.tasks([]*coreidentity.Task{task})
		}),
	}
}

func newWaitCommand(rt *runtime) *cobra.Command {
	var (
		timeout      time.Duration
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait <task-id>...",
		Short: "Wait for tasks to complete or fail",
		Long: `Wait polls each task in turn until it completes or fails. Tasks that finish
are printed even when others fail; the command exits with status 2 if any
task timed out.`,
		Args: cobra.MinimumNArgs(1),
		RunE: rt.runE(func(cmd *cobra.Command, args []string) error {
			t, iv := rt.waitSettings(cmd, timeout, pollInterval)
			done, waitErr := rt.app.Wait(cmd.Context(), args, t, iv)
			if len(done) > 0 {
				if err := rt.out.tasks(done); err != nil {
					return errors.Join(waitErr, err)
				}
			}
			return waitErr
		}),
	}

	cmd.Flags().DurationVar(&timeout, "timeout", coreidentity.DefaultWaitTimeout, "How long to poll each task before giving up (default from config)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", coreidentity.DefaultPollInterval, "Delay between polls (default from config)")
	return cmd
}

func newUsageCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show account usage statistics",
		Args:  cobra.NoArgs,
		RunE: rt.runE(func(cmd *cobra.Command, _ []string) error {
			usage, err := rt.app.Usage(cmd.Context())
			if err != nil {
				return err
			}
			return rt.out.usage(usage)
		}),
	}
}

func newHistoryCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List tasks recorded in the local journal",
		Args:  cobra.NoArgs,
		RunE: rt.runE(func(*cobra.Command, []string) error {
			entries, err := rt.app.History()
			if err != nil {
				return err
			}
			return rt.out.history(entries)
		}),
	}
}

// waitSettings picks flag values when given and configured values otherwise.
func (rt *runtime) waitSettings(cmd *cobra.Command, timeout, pollInterval time.Duration) (time.Duration, time.Duration) {
	if !cmd.Flags().Changed("timeout") {
		timeout = rt.cfg.WaitTimeout
	}
	if !cmd.Flags().Changed("poll-interval") {
		pollInterval = rt.cfg.PollInterval
	}
	return timeout, pollInterval
}

// readPayload decodes the task payload. No payload at all is sent as null.
func readPayload(inline, path string, inlineSet bool) (any, error) {
	var raw []byte
	switch {
	case strings.TrimSpace(path) != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		raw = b
	case inlineSet:
		raw = []byte(inline)
	default:
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON: %v", coreidentity.ErrInvalidArgument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: payload must be a single JSON value", coreidentity.ErrInvalidArgument)
	}
	return v, nil
}

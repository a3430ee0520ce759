package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/coreidentity/coreidentity-go/internal/storage"
	"github.com/coreidentity/coreidentity-go/pkg/coreidentity"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

func validateFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case formatJSON, formatTable:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (expected json or table)", format)
	}
}

// printer renders command results to the command's stdout.
type printer struct {
	w      io.Writer
	format string
}

func (p printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// taskJSON keeps the service response body as it was received.
func taskJSON(t *coreidentity.Task) any {
	if len(t.Raw) > 0 {
		return t.Raw
	}
	return t
}

func (p printer) tasks(tasks []*coreidentity.Task) error {
	if p.format == formatJSON {
		if len(tasks) == 1 {
			return p.writeJSON(taskJSON(tasks[0]))
		}
		out := make([]any, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, taskJSON(t))
		}
		return p.writeJSON(out)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK ID\tSTATUS\tCREATED\tCOMPLETED\tRESULT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.TaskID, t.Status, formatTimestamp(t.CreatedAt), formatTimestamp(t.CompletedAt), compactResult(t.Result))
	}
	return tw.Flush()
}

func (p printer) usage(u coreidentity.Usage) error {
	if p.format == formatJSON {
		return p.writeJSON(u)
	}

	var fields map[string]any
	if err := u.Decode(&fields); err != nil || fields == nil {
		// Not an object: print the record as sent.
		_, err := fmt.Fprintln(p.w, strings.TrimSpace(string(u)))
		return err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range keys {
		raw, err := json.Marshal(fields[k])
		if err != nil {
			return fmt.Errorf("encode usage %s: %w", k, err)
		}
		fmt.Fprintf(tw, "%s\t%s\n", k, raw)
	}
	return tw.Flush()
}

func (p printer) history(entries []storage.Entry) error {
	if p.format == formatJSON {
		if entries == nil {
			entries = []storage.Entry{}
		}
		return p.writeJSON(entries)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK ID\tTYPE\tPRIORITY\tSTATUS\tSUBMITTED\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.TaskID, dash(e.TaskType), dash(e.Priority), dash(e.Status), formatTime(e.SubmittedAt), formatTime(e.UpdatedAt))
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// formatTimestamp normalizes times it understands and shows anything else as sent.
func formatTimestamp(ts coreidentity.Timestamp) string {
	if t, ok := ts.Time(); ok {
		return formatTime(t)
	}
	return dash(strings.TrimSpace(string(ts)))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

const maxResultWidth = 60

func compactResult(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "-"
	}
	if r := []rune(s); len(r) > maxResultWidth {
		s = string(r[:maxResultWidth-3]) + "..."
	}
	return s
}

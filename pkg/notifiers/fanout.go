package notifiers

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Fanout dispatches events to all configured notifiers.
type Fanout struct {
	notifiers []Notifier
	log       Logger
}

// NewFanout builds a dispatcher that fans out events across notifiers.
func NewFanout(ns []Notifier, log Logger) *Fanout {
	cp := make([]Notifier, 0, len(ns))
	for _, n := range ns {
		if n == nil {
			continue
		}
		cp = append(cp, n)
	}
	return &Fanout{notifiers: cp, log: ensureLogger(log)}
}

// Notify forwards the event to every notifier that accepts it.
// It returns the number of notifiers that successfully handled the event.
func (f *Fanout) Notify(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.notifiers) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, n := range f.notifiers {
		if a, ok := n.(accepter); ok && !a.Accepts(evt) {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s notifier[%s]: %w", n.Type(), n.ID(), err))
		} else {
			successful++
		}
	}
	if len(errs) > 0 {
		f.log.WarnObj("task notification partially failed", "notify_result", map[string]any{
			"task_id":    evt.TaskID,
			"successful": successful,
			"failed":     len(errs),
		})
	}
	return successful, errors.Join(errs...)
}

// Size returns the number of active notifiers.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.notifiers)
}

// Close releases notifiers that hold connections.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, n := range f.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s notifier[%s]: %w", n.Type(), n.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// accepter is implemented by notifiers that only want some events.
type accepter interface {
	Accepts(evt Event) bool
}

// filtered restricts a notifier to the statuses listed in its config.
type filtered struct {
	Notifier
	cfg NotifierConfig
}

func (f filtered) Accepts(evt Event) bool { return f.cfg.Wants(evt.Status) }

func (f filtered) Close() error {
	if c, ok := f.Notifier.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

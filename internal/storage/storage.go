package storage

import (
	"fmt"
	"strings"
	"time"
)

// Package storage keeps the local journal of tasks the CLI has submitted or observed.

// Entry is one journaled task.
type Entry struct {
	TaskID      string    `json:"task_id"`
	TaskType    string    `json:"task_type,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Status      string    `json:"status,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store records tasks and lists them back.
type Store interface {
	Close() error
	// Record upserts an entry. Empty fields keep their previously stored value.
	Record(entry Entry) error
	Lookup(taskID string) (Entry, bool, error)
	// List returns live entries, most recently submitted first.
	List() ([]Entry, error)
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	EntryTTL        time.Duration
	CleanupInterval time.Duration
}

const (
	defaultEntryTTL        = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.EntryTTL <= 0 {
		opts.EntryTTL = defaultEntryTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                       { return nil }
func (noopStore) Record(Entry) error                 { return nil }
func (noopStore) Lookup(string) (Entry, bool, error) { return Entry{}, false, nil }
func (noopStore) List() ([]Entry, error)             { return nil, nil }

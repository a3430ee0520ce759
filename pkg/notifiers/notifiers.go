package notifiers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Supported notifier types.
	TypeHTTP   = "http"
	TypeSQS    = "sqs"
	TypeSNS    = "sns"
	TypePubSub = "pubsub"

	httpDefaultMethod         = "POST"
	httpDefaultTimeoutSeconds = 5
)

// File is the notifiers file: the sinks a finished task is announced to.
type File struct {
	Notifiers []NotifierConfig `json:"notifiers" yaml:"notifiers"`
}

// NotifierConfig declares one sink. Statuses limits the terminal statuses it
// hears about; empty means every terminal status.
type NotifierConfig struct {
	ID       string                `json:"id" yaml:"id"`
	Type     string                `json:"type" yaml:"type"`
	Enabled  *bool                 `json:"enabled" yaml:"enabled"`
	Statuses []string              `json:"statuses" yaml:"statuses"`
	HTTP     *HTTPNotifierConfig   `json:"http" yaml:"http"`
	SQS      *SQSNotifierConfig    `json:"sqs" yaml:"sqs"`
	SNS      *SNSNotifierConfig    `json:"sns" yaml:"sns"`
	PubSub   *PubSubNotifierConfig `json:"pubsub" yaml:"pubsub"`
}

// HTTPNotifierConfig posts the event as JSON to a webhook.
type HTTPNotifierConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// SQSNotifierConfig sends the event to a queue.
type SQSNotifierConfig struct {
	QueueURL string `json:"uri" yaml:"uri"`
	Region   string `json:"region" yaml:"region"`
}

// SNSNotifierConfig publishes the event to a topic.
type SNSNotifierConfig struct {
	TopicARN string `json:"topic_arn" yaml:"topic_arn"`
	Region   string `json:"region" yaml:"region"`
}

// PubSubNotifierConfig publishes the event to a Google Cloud Pub/Sub topic.
// Application default credentials apply when CredentialsFile is empty.
type PubSubNotifierConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// LoadFile reads a notifiers file. Files ending in .json are decoded as JSON,
// anything else as YAML.
func LoadFile(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("notifiers file path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notifiers file: %w", err)
	}

	var f File
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(raw, &f)
	} else {
		err = yaml.Unmarshal(raw, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode notifiers file %s: %w", path, err)
	}
	if len(f.Notifiers) == 0 {
		return nil, fmt.Errorf("notifiers file %s declares no notifiers", path)
	}

	seen := make(map[string]struct{}, len(f.Notifiers))
	for i := range f.Notifiers {
		cfg := &f.Notifiers[i]
		cfg.normalize()
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("notifiers[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate notifier id %q", cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
	}
	return &f, nil
}

// Enabled returns the notifiers not switched off, in file order.
func (f *File) Enabled() []NotifierConfig {
	if f == nil {
		return nil
	}
	out := make([]NotifierConfig, 0, len(f.Notifiers))
	for _, cfg := range f.Notifiers {
		if cfg.Enabled == nil || *cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

// Wants reports whether the notifier should hear about a task in status.
func (cfg NotifierConfig) Wants(status string) bool {
	return len(cfg.Statuses) == 0 || slices.Contains(cfg.Statuses, strings.ToLower(status))
}

func (cfg *NotifierConfig) normalize() {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))

	statuses := cfg.Statuses[:0]
	for _, s := range cfg.Statuses {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			statuses = append(statuses, s)
		}
	}
	cfg.Statuses = statuses

	if h := cfg.HTTP; h != nil {
		h.URL = strings.TrimSpace(h.URL)
		h.Method = strings.ToUpper(strings.TrimSpace(h.Method))
		if h.Method == "" {
			h.Method = httpDefaultMethod
		}
		if h.TimeoutSeconds <= 0 {
			h.TimeoutSeconds = httpDefaultTimeoutSeconds
		}
		for k, v := range h.Headers {
			if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				delete(h.Headers, k)
			}
		}
	}
	if q := cfg.SQS; q != nil {
		q.QueueURL = strings.TrimSpace(q.QueueURL)
		q.Region = strings.TrimSpace(q.Region)
	}
	if t := cfg.SNS; t != nil {
		t.TopicARN = strings.TrimSpace(t.TopicARN)
		t.Region = strings.TrimSpace(t.Region)
	}
	if p := cfg.PubSub; p != nil {
		p.ProjectID = strings.TrimSpace(p.ProjectID)
		p.Topic = strings.TrimSpace(p.Topic)
		p.CredentialsFile = strings.TrimSpace(p.CredentialsFile)
	}
}

func (cfg NotifierConfig) validate() error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	for _, s := range cfg.Statuses {
		if s != "completed" && s != "failed" {
			return fmt.Errorf("notifier %q: status filter %q is not a terminal status (completed, failed)", cfg.ID, s)
		}
	}

	var missing string
	switch cfg.Type {
	case "":
		return fmt.Errorf("notifier %q: type is required", cfg.ID)
	case TypeHTTP:
		switch {
		case cfg.HTTP == nil:
			missing = "http"
		case cfg.HTTP.URL == "":
			missing = "http.url"
		}
	case TypeSQS:
		switch {
		case cfg.SQS == nil:
			missing = "sqs"
		case cfg.SQS.QueueURL == "":
			missing = "sqs.uri"
		case cfg.SQS.Region == "":
			missing = "sqs.region"
		}
	case TypeSNS:
		switch {
		case cfg.SNS == nil:
			missing = "sns"
		case cfg.SNS.TopicARN == "":
			missing = "sns.topic_arn"
		case cfg.SNS.Region == "":
			missing = "sns.region"
		}
	case TypePubSub:
		switch {
		case cfg.PubSub == nil:
			missing = "pubsub"
		case cfg.PubSub.ProjectID == "":
			missing = "pubsub.project_id"
		case cfg.PubSub.Topic == "":
			missing = "pubsub.topic"
		}
	default:
		return fmt.Errorf("notifier %q: unknown type %q", cfg.ID, cfg.Type)
	}
	if missing != "" {
		return fmt.Errorf("notifier %q: %s is required", cfg.ID, missing)
	}
	return nil
}

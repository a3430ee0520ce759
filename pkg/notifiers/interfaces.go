package notifiers

import "context"

// Notifier announces task events to a downstream sink (webhook, SQS, SNS, Pub/Sub).
type Notifier interface {
	ID() string
	Type() string
	Notify(ctx context.Context, evt Event) error
}

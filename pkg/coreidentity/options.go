package coreidentity

import (
	"context"
	"fmt"
	"time"

	"github.com/coreidentity/coreidentity-go/pkg/httpclient"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		c.baseURL = baseURL
		return nil
	}
}

// WithHTTPTimeout bounds a single request, including reading the response.
// Ignored when WithHTTPClient is also given.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("%w: http timeout must be > 0", ErrInvalidArgument)
		}
		c.httpTimeout = d
		return nil
	}
}

// WithHTTPClient replaces the resty-backed transport.
func WithHTTPClient(hc httpclient.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: http client is nil", ErrInvalidArgument)
		}
		c.http = hc
		return nil
	}
}

// WithLogger routes request and polling diagnostics to log.
func WithLogger(log Logger) Option {
	return func(c *Client) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

// WithClock replaces the wall clock WaitForCompletion measures elapsed time with.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		if now == nil {
			return fmt.Errorf("%w: clock is nil", ErrInvalidArgument)
		}
		c.now = now
		return nil
	}
}

// WithSleeper replaces the function WaitForCompletion pauses with between polls.
// It must return ctx.Err() if the context ends first.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) error {
		if sleep == nil {
			return fmt.Errorf("%w: sleeper is nil", ErrInvalidArgument)
		}
		c.sleep = sleep
		return nil
	}
}

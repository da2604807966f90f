// Package browser defines the automation resource used to send messages:
// a browser session bound to one local profile directory.
package browser

import (
	"context"
	"errors"
)

// ErrResource marks a failure of the automation resource itself (launch,
// navigation, lost page). Callers retry it by recreating the resource.
var ErrResource = errors.New("automation resource error")

// Outcome is the result of one send
type Outcome int

const (
	// Sent means the message was delivered
	Sent Outcome = iota
	// Rejected means the site refused the message
	Rejected
	// NotFound means the recipient does not exist
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Resource is a live browser session bound to a profile path
type Resource interface {
	Path() string
	// Alive reports whether the session can still be driven
	Alive() bool
	SendMessage(ctx context.Context, recipient, text string) (Outcome, error)
	UnreadCount(ctx context.Context) (int, error)
	// Close is idempotent
	Close() error
}

// Options tunes a single Create call
type Options struct {
	// Headed forces a visible window regardless of the launcher default
	Headed bool
}

// Factory creates resources. Errors wrap ErrResource.
type Factory interface {
	Create(ctx context.Context, path string, opts Options) (Resource, error)
}

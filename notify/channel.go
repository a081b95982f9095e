// Package notify implements the single-slot "data changed" signal the
// monitor raises and external pollers consume.
//
// At most one notification is pending at any time. Notify overwrites an
// unread one; Consume returns it and clears the slot. A consumer that finds
// the slot empty, including because another reader won a race for it, sees
// "no update" rather than an error.
package notify

import (
	"context"
	"time"
)

// DefaultMessage is the text attached to change notifications.
const DefaultMessage = "Permissions data has been updated"

// Payload is the body of a pending notification.
type Payload struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Channel is a single-slot notification store.
type Channel interface {
	// Notify replaces any pending notification with a new one.
	Notify(ctx context.Context, message string) error
	// Consume returns and clears the pending notification, or nil if none.
	Consume(ctx context.Context) (*Payload, error)
}

// Package audit fans flag mutation events out to an event stream. The
// database audit log written by the store is the source of truth; this
// stream is a best-effort feed for downstream consumers, so publishing
// failures never fail the mutation that produced the event.
package audit

import (
	"context"
	"time"
)

// Event is the wire form of a flag mutation published to the stream.
type Event struct {
	FlagID    int64     `json:"flag_id"`
	FlagKey   string    `json:"flag_key"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink delivers events to a destination. Implementations must be safe for
// concurrent use.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

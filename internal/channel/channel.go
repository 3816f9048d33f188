// Package channel delivers outbound messages to chat addresses.
// Delivery is fire-and-forget; callers never retry a whole parse because a
// send failed.
package channel

import "context"

// Channel sends a text message to a canonical address.
type Channel interface {
	Send(ctx context.Context, to, text string) error
	// Configured reports whether the channel has credentials and can be
	// used. Callers must no-op (log and skip) when false.
	Configured() bool
}

// Noop is the channel used when no transport is configured. Configured
// returns false so callers skip sends instead of crashing.
type Noop struct{}

func (Noop) Send(ctx context.Context, to, text string) error { return nil }

func (Noop) Configured() bool { return false }

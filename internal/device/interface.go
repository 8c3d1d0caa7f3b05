// Package device delivers encoded messages to the watch.
package device

import (
	"context"

	"codeberg.org/mutker/cgmbridge/internal/message"
)

// Channel sends messages to the watch.
type Channel interface {
	Send(ctx context.Context, m message.Message) error
	Close() error
}

// Requester is a channel the watch can talk back on.
type Requester interface {
	Channel
	// Requests fires once per watch request for fresh data. Requests that
	// arrive while a previous one is pending are coalesced.
	Requests() <-chan struct{}
	// Configs delivers raw configuration JSON saved on the watch's settings
	// page.
	Configs() <-chan []byte
}

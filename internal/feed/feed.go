// Package feed consumes the content layer's change-event stream and
// dispatches each event to the indexing service. Two interchangeable
// drivers exist (redis streams, kafka); the event shape is the contract,
// not the transport.
package feed

import (
	"context"

	"github.com/supportal/kbsearch/internal/domain"
)

// Handler processes one change event. A non-nil error leaves the event
// unacknowledged so the driver redelivers it.
type Handler func(ctx context.Context, ev domain.ChangeEvent) error

// Consumer is a running change-feed subscription.
type Consumer interface {
	// Run blocks consuming events until ctx is cancelled.
	Run(ctx context.Context) error
	// Ping checks connectivity to the feed backend.
	Ping(ctx context.Context) error
	Close() error
}

// Package sink defines the single downstream collaborator StateActor
// and Director optionally forward outcomes to: a StateReport when one
// is produced, and EndOfStream when present. Adapted down from the
// teacher's internal/eventbus.Handler interface: eventbus dispatches to
// a priority-ordered slice of handlers over NATS JetStream, but this
// system names exactly one optional collaborator, so this package
// drops the registry, priority ordering, and JetStream publishing and
// keeps only the single Handle method.
package sink

import (
	"context"

	"github.com/steveyegge/digitaltwin/internal/message"
)

// Sink receives StateReport and EndOfStream messages that a StateActor
// or Director produces as a side effect of normal routing. Handle
// errors are logged by the caller and never propagated back to the
// original requester — a misbehaving sink must not affect the
// observation/query path it is merely observing.
type Sink interface {
	Handle(ctx context.Context, msg message.Message) error
}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, msg message.Message) error

func (f Func) Handle(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}

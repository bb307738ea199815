package adapters

import (
	"context"

	"github.com/steveyegge/digitaltwin/internal/message"
)

// Router is the subset of *director.Director the adapters package
// needs, a local interface following the same circular-import-avoidance
// pattern internal/director.Store uses for *journal.Journal.
type Router interface {
	Send(ctx context.Context, env message.Envelope) error
}

// Decoder sits between an external transport (stdin, HTTP) and a
// Router, translating Content envelopes into typed ones before
// forwarding.
type Decoder struct {
	Next Router
}

// Handle decodes env's Content payload and forwards the result to
// Next. Decode failures reply an ActorError on env's RespondTo instead
// of reaching the Director at all.
func (d *Decoder) Handle(ctx context.Context, env message.Envelope) {
	c := env.Message.Content
	if c == nil {
		env.Reply(message.NewActorError("", "adapters: expected a Content envelope"))
		return
	}
	msg, err := DecodeContent(c)
	if err != nil {
		env.Reply(message.NewActorError("", err.Error()))
		return
	}
	fwd := message.Envelope{
		Message:      msg,
		RespondTo:    env.RespondTo,
		SequenceTime: env.SequenceTime,
		RequestID:    env.RequestID,
	}
	if err := d.Next.Send(ctx, fwd); err != nil {
		env.Reply(message.NewActorError("", err.Error()))
	}
}

package message

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the internal carrier between components. A RespondTo
// channel is a single-shot reply; every recipient must send exactly one
// Envelope on it or drop it. A dropped channel is treated as a benign
// cancellation by the sender, never a fatal error.
type Envelope struct {
	Message Message

	// RespondTo is nil for fire-and-forget sends (e.g. records streamed
	// during replay). When non-nil the recipient must send exactly once.
	// Callers must give it capacity of at least 1: Reply is a
	// non-blocking best-effort send, since a recipient must never stall
	// its single-writer loop waiting on a caller that cancelled.
	RespondTo chan<- Envelope

	// StreamFrom is populated only on InitCmd envelopes driving replay;
	// mirrors Message.InitCmd.StreamFrom for callers that inspect the
	// envelope without unwrapping the message first.
	StreamFrom <-chan Envelope

	// SequenceTime is the instant this envelope entered the system, the
	// Journal's sequence_time column for Observations/GeneMapping writes.
	SequenceTime time.Time

	// RequestID is a correlation ID for one logical request. NewEnvelope
	// stamps it; the Decoder and Director copy it onto the envelopes they
	// forward, and Reply copies it onto the reply. No log line prints it.
	RequestID string
}

// NewEnvelope wraps msg with a fresh RequestID and SequenceTime set to
// now. Most call sites want this; tests that need deterministic
// sequence times should set Envelope.SequenceTime directly instead.
func NewEnvelope(msg Message) Envelope {
	return Envelope{
		Message:      msg,
		SequenceTime: time.Now().UTC(),
		RequestID:    uuid.NewString(),
	}
}

// Reply sends msg on e's RespondTo channel, if any, dropping it
// silently if the channel is nil or the send would block forever
// because the receiver went away — callers that need blocking
// semantics should send e.RespondTo directly instead.
func (e Envelope) Reply(msg Message) {
	if e.RespondTo == nil {
		return
	}
	select {
	case e.RespondTo <- Envelope{Message: msg, SequenceTime: time.Now().UTC(), RequestID: e.RequestID}:
	default:
	}
}

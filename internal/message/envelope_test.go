package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeStampsRequestID(t *testing.T) {
	e1 := NewEnvelope(NewPersisted())
	e2 := NewEnvelope(NewPersisted())

	require.NotEmpty(t, e1.RequestID)
	require.NotEmpty(t, e2.RequestID)
	assert.NotEqual(t, e1.RequestID, e2.RequestID)
	assert.False(t, e1.SequenceTime.IsZero())
}

func TestReplyDropsNilChannel(t *testing.T) {
	e := Envelope{}
	assert.NotPanics(t, func() { e.Reply(NewPersisted()) })
}

func TestReplyDeliversOnChannel(t *testing.T) {
	replyCh := make(chan Envelope, 1)
	e := Envelope{RespondTo: replyCh, RequestID: "req-1"}

	e.Reply(NewConstraintViolation())

	got := <-replyCh
	assert.Equal(t, KindConstraintViolation, got.Message.Kind)
	assert.Equal(t, "req-1", got.RequestID)
}

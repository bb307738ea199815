package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/digitaltwin/internal/gene"
	"github.com/steveyegge/digitaltwin/internal/message"
)

func ask(t *testing.T, ctx context.Context, h *Handle, msg message.Message) message.Message {
	t.Helper()
	reply := make(chan message.Envelope, 1)
	env := message.NewEnvelope(msg)
	env.RespondTo = reply
	require.NoError(t, h.Send(ctx, env))
	select {
	case r := <-reply:
		return r.Message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for actor reply")
		return message.Message{}
	}
}

func TestObservationsAppliesGaugeAndReports(t *testing.T) {
	ctx := context.Background()
	h := Spawn(gene.New(gene.KindGauge), "/g", 0, nil)
	defer h.Stop()

	t1 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	reply := ask(t, ctx, h, message.NewObservations("/g", t1, map[int32]float64{0: 1.9}))

	require.Equal(t, message.KindStateReport, reply.Kind)
	assert.Equal(t, map[int32]float64{0: 1.9}, reply.StateReport.Values)
	assert.Equal(t, t1, reply.StateReport.DateTime)
}

// Scenario 1 from spec §8: Gauge overwrite with GaugeAndAccum split.
// Index 199 falls in the accumulator range and an actor has no way to
// seed it, so the mixed apply fails as a whole and the seeded state is
// left as it was. The seeded case is gene.TestGaugeOverwrite.
func TestGaugeAndAccumScenario(t *testing.T) {
	ctx := context.Background()
	h := Spawn(gene.New(gene.KindGaugeAndAccum), "/g", 0, nil)
	defer h.Stop()

	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := ask(t, ctx, h, message.NewObservations("/g", t0, map[int32]float64{0: 1.9, 1: 2.7}))
	require.Equal(t, message.KindStateReport, seed.Kind)

	t1 := t0.Add(time.Hour)
	reply := ask(t, ctx, h, message.NewObservations("/g", t1, map[int32]float64{0: 2.9, 199: 4.11}))
	require.Equal(t, message.KindActorError, reply.Kind)
	state := ask(t, ctx, h, message.NewQuery("/g", message.QueryState))
	assert.Equal(t, map[int32]float64{0: 1.9, 1: 2.7}, state.StateReport.Values)
}

func TestAccumulatorUninitializedIndexRepliesActorError(t *testing.T) {
	ctx := context.Background()
	h := Spawn(gene.New(gene.KindAccum), "/a", 0, nil)
	defer h.Stop()

	reply := ask(t, ctx, h, message.NewObservations("/a", time.Now().UTC(), map[int32]float64{5: 1.0}))
	require.Equal(t, message.KindActorError, reply.Kind)
	assert.Equal(t, "/a", reply.ActorError.Path)
}

func TestQueryNeverMutatesState(t *testing.T) {
	ctx := context.Background()
	h := Spawn(gene.New(gene.KindGauge), "/q", 0, nil)
	defer h.Stop()

	t1 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	ask(t, ctx, h, message.NewObservations("/q", t1, map[int32]float64{0: 1.0}))

	first := ask(t, ctx, h, message.NewQuery("/q", message.QueryState))
	second := ask(t, ctx, h, message.NewQuery("/q", message.QueryState))

	require.Equal(t, message.KindStateReport, first.Kind)
	assert.Equal(t, first.StateReport.Values, second.StateReport.Values)
}

func TestInitCmdReplaysAndAbortsOnFirstGeneError(t *testing.T) {
	ctx := context.Background()
	h := Spawn(gene.New(gene.KindAccum), "/r", 0, nil)
	defer h.Stop()

	stream := make(chan message.Envelope)
	go func() {
		defer close(stream)
		t1 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		// First record seeds index 0 via a valid accumulation is impossible
		// for Accum (always requires a prior value) — so the very first
		// record necessarily fails and replay must abort without applying
		// anything further.
		stream <- message.Envelope{Message: message.NewObservations("/r", t1, map[int32]float64{0: 1.0})}
		stream <- message.Envelope{Message: message.NewObservations("/r", t1.Add(time.Hour), map[int32]float64{0: 2.0})}
		stream <- message.Envelope{Message: message.NewEndOfStream()}
	}()

	reply := ask(t, ctx, h, message.NewInitCmd(message.InitUpdate, stream))
	require.Equal(t, message.KindEndOfStream, reply.Kind)

	state := ask(t, ctx, h, message.NewQuery("/r", message.QueryState))
	assert.Empty(t, state.StateReport.Values, "replay must abort before applying any record once the gene errors")
}

func TestInitCmdReplaysSuccessfullyInOrder(t *testing.T) {
	ctx := context.Background()
	h := Spawn(gene.New(gene.KindGauge), "/s", 0, nil)
	defer h.Stop()

	stream := make(chan message.Envelope)
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	go func() {
		defer close(stream)
		stream <- message.Envelope{Message: message.NewObservations("/s", base, map[int32]float64{0: 1.0})}
		stream <- message.Envelope{Message: message.NewObservations("/s", base.Add(time.Hour), map[int32]float64{0: 2.0})}
		stream <- message.Envelope{Message: message.NewEndOfStream()}
	}()

	reply := ask(t, ctx, h, message.NewInitCmd(message.InitUpdate, stream))
	require.Equal(t, message.KindEndOfStream, reply.Kind)

	state := ask(t, ctx, h, message.NewQuery("/s", message.QueryState))
	assert.Equal(t, map[int32]float64{0: 2.0}, state.StateReport.Values)
}

type recordingSink struct {
	received chan message.Message
}

func (s *recordingSink) Handle(_ context.Context, msg message.Message) error {
	s.received <- msg
	return nil
}

func TestObservationsForwardedToOutputSink(t *testing.T) {
	ctx := context.Background()
	rs := &recordingSink{received: make(chan message.Message, 1)}
	h := Spawn(gene.New(gene.KindGauge), "/sink", 0, rs)
	defer h.Stop()

	ask(t, ctx, h, message.NewObservations("/sink", time.Now().UTC(), map[int32]float64{0: 1.0}))

	select {
	case msg := <-rs.received:
		assert.Equal(t, message.KindStateReport, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("sink never received StateReport")
	}
}

func TestMailboxBackpressureRespectsContext(t *testing.T) {
	h := &Handle{mailbox: make(chan message.Envelope), done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Send(ctx, message.NewEnvelope(message.NewQuery("/x", message.QueryState)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package director

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/digitaltwin/internal/journal"
	"github.com/steveyegge/digitaltwin/internal/message"
)

func newTestDirector(t *testing.T) (*Director, context.Context) {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.Open(context.Background(), filepath.Join(dir, "actors.db"), journal.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := New(j, nil, 0)
	require.NoError(t, d.Start(ctx))
	return d, ctx
}

func ask(t *testing.T, ctx context.Context, d *Director, msg message.Message) message.Message {
	t.Helper()
	reply := make(chan message.Envelope, 1)
	require.NoError(t, d.Send(ctx, message.Envelope{Message: msg, RespondTo: reply, SequenceTime: time.Now().UTC()}))
	select {
	case r := <-reply:
		return r.Message
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for director reply")
		return message.Message{}
	}
}

func TestObservationRoutingPersistsAndForwards(t *testing.T) {
	d, ctx := newTestDirector(t)

	t1 := time.Date(2023, 1, 11, 23, 17, 57, 0, time.UTC)
	reply := ask(t, ctx, d, message.NewObservations("/a/b", t1, map[int32]float64{1: 1.0}))
	require.Equal(t, message.KindStateReport, reply.Kind)
	assert.Equal(t, map[int32]float64{1: 1.0}, reply.StateReport.Values)
}

// TestDuplicateObservationReturnsConstraintViolation is scenario 3 from
// spec §8, exercised through the Director (not just the Journal).
func TestDuplicateObservationReturnsConstraintViolation(t *testing.T) {
	d, ctx := newTestDirector(t)

	t1 := time.Date(2023, 1, 11, 23, 17, 57, 0, time.UTC)
	first := ask(t, ctx, d, message.NewObservations("/a/b", t1, map[int32]float64{1: 1.0}))
	require.Equal(t, message.KindStateReport, first.Kind)

	second := ask(t, ctx, d, message.NewObservations("/a/b", t1, map[int32]float64{1: 2.0}))
	require.Equal(t, message.KindConstraintViolation, second.Kind)

	state := ask(t, ctx, d, message.NewQuery("/a/b", message.QueryState))
	assert.Equal(t, map[int32]float64{1: 1.0}, state.StateReport.Values, "rejected duplicate must not alter state")
}

// TestPrefixGeneLookup is scenario 5 from spec §8.
func TestPrefixGeneLookup(t *testing.T) {
	d, ctx := newTestDirector(t)

	configure := func(path string, kind message.GeneKind) {
		reply := ask(t, ctx, d, message.NewGeneMapping(path, kind))
		require.Equal(t, message.KindPersisted, reply.Kind)
	}
	configure("/domain", message.GeneGauge)
	configure("/domain/building", message.GeneGaugeAndAccum)
	configure("/domain/building/1", message.GeneAccum)

	path := "/domain/building/1/floor/3/room/5"
	kind := d.resolveGeneKind(path)
	assert.Equal(t, "accum", kind.String())
}

// TestDefaultGeneIsGauge is scenario 4's unconfigured half of spec §8.
func TestDefaultGeneIsGauge(t *testing.T) {
	d, ctx := newTestDirector(t)
	_ = ctx
	assert.Equal(t, "gauge", d.resolveGeneKind("/never/configured").String())
}

func TestGeneMappingExactAndPrefixQuery(t *testing.T) {
	d, ctx := newTestDirector(t)

	ask(t, ctx, d, message.NewGeneMapping("/domain", message.GeneGauge))
	ask(t, ctx, d, message.NewGeneMapping("/domain/building", message.GeneGaugeAndAccum))

	exactPath := "/domain"
	exact := ask(t, ctx, d, message.NewContent(&exactPath, "", message.ContentGeneMappingQuery))
	require.Equal(t, message.KindGeneMapping, exact.Kind)
	assert.Equal(t, message.GeneGauge, exact.GeneMapping.Kind)

	missingPath := "/never/configured"
	missing := ask(t, ctx, d, message.NewContent(&missingPath, "", message.ContentGeneMappingQuery))
	assert.Equal(t, message.KindNotFound, missing.Kind)

	prefix := ask(t, ctx, d, message.NewQuery("/domain", message.QueryGeneMapping))
	require.Equal(t, message.KindContent, prefix.Kind)
	assert.Contains(t, prefix.Content.Text, "/domain ->")
	assert.Contains(t, prefix.Content.Text, "/domain/building ->")

	empty := ask(t, ctx, d, message.NewQuery("/nowhere", message.QueryGeneMapping))
	assert.Equal(t, "<not set>", empty.Content.Text)
}

func TestRestartConsistencyThroughDirector(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "actors.db")

	ctx1, cancel1 := context.WithCancel(context.Background())
	j1, err := journal.Open(ctx1, dbPath, journal.Options{})
	require.NoError(t, err)
	d1 := New(j1, nil, 0)
	require.NoError(t, d1.Start(ctx1))

	t1 := time.Date(2023, 1, 11, 23, 17, 57, 0, time.UTC)
	reply := ask(t, ctx1, d1, message.NewObservations("/actors/one", t1, map[int32]float64{3: 3.0}))
	require.Equal(t, message.KindStateReport, reply.Kind)
	d1.Stop()
	cancel1()
	require.NoError(t, j1.Close())

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	j2, err := journal.Open(ctx2, dbPath, journal.Options{})
	require.NoError(t, err)
	defer func() { _ = j2.Close() }()
	d2 := New(j2, nil, 0)
	require.NoError(t, d2.Start(ctx2))

	state := ask(t, ctx2, d2, message.NewQuery("/actors/one", message.QueryState))
	require.Equal(t, message.KindStateReport, state.Kind)
	assert.Equal(t, map[int32]float64{3: 3.0}, state.StateReport.Values)
}

func TestUnrecognizedMessageIsAnError(t *testing.T) {
	d, ctx := newTestDirector(t)
	reply := ask(t, ctx, d, message.NewPersisted())
	assert.Equal(t, message.KindActorError, reply.Kind)
}

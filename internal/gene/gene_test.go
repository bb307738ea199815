package gene

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2023, 1, 11, 23, 17, 57, 0, time.UTC)

// TestGaugeOverwrite exercises a mixed gauge/accumulator apply. Index 199
// falls in the accumulator range, so it must already be seeded before this
// apply: an accumulator on an unset index always fails, per
// TestAccumulatorUninitializedIndexFails.
func TestGaugeOverwrite(t *testing.T) {
	prior := State{0: 1.9, 1: 2.7, 199: 3.0}
	g := New(KindGaugeAndAccum)

	next, err := g.ApplyOperators(prior, map[int32]float64{0: 2.9, 199: 4.11}, now)

	require.NoError(t, err)
	assert.Equal(t, State{0: 2.9, 1: 2.7, 199: 7.11}, next)
}

// TestAccumulatorSum is scenario 2 from spec §8.
func TestAccumulatorSum(t *testing.T) {
	prior := State{100: 2.91, 199: 3.2}
	g := New(KindGaugeAndAccum)

	next, err := g.ApplyOperators(prior, map[int32]float64{199: 4.11}, now)

	require.NoError(t, err)
	assert.InDelta(t, 7.31, next[199], 1e-9)
	assert.InDelta(t, 2.91, next[100], 1e-9)
}

func TestAccumulatorUninitializedIndexFails(t *testing.T) {
	g := New(KindAccum)

	_, err := g.ApplyOperators(State{}, map[int32]float64{5: 1.0}, now)

	require.Error(t, err)
	var opErr *OperatorError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, int32(5), opErr.Index)
	assert.Contains(t, opErr.Error(), "idx invalid")
}

func TestGaugeAndAccumOutOfRangeFails(t *testing.T) {
	g := New(KindGaugeAndAccum)

	_, err := g.ApplyOperators(State{}, map[int32]float64{250: 1.0}, now)

	require.Error(t, err)
}

func TestApplyOperatorsDoesNotMutatePrior(t *testing.T) {
	prior := State{0: 1.0}
	g := New(KindGauge)

	_, err := g.ApplyOperators(prior, map[int32]float64{0: 99.0}, now)

	require.NoError(t, err)
	assert.Equal(t, 1.0, prior[0], "prior state must not be mutated by a successful apply")
}

func TestApplyOperatorsLeavesPriorUntouchedOnError(t *testing.T) {
	prior := State{0: 1.0}
	g := New(KindAccum)

	_, err := g.ApplyOperators(prior, map[int32]float64{1: 2.0}, now)

	require.Error(t, err)
	assert.Equal(t, State{0: 1.0}, prior)
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"gauge":           KindGauge,
		"accum":           KindAccum,
		"gauge_and_accum": KindGaugeAndAccum,
	}
	for s, want := range cases {
		got, err := ParseKind(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("bogus")
	assert.Error(t, err)
}

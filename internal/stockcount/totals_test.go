package stockcount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTotalsPartitionBySign(t *testing.T) {
	sess := NewSession()
	lines := []*Line{
		NewLine(LineKey{ProductID: 1, LocationID: 1}, d("10")),
		NewLine(LineKey{ProductID: 2, LocationID: 1}, d("10")),
		NewLine(LineKey{ProductID: 3, LocationID: 1}, d("10")),
	}
	sess.setLines(lines)
	sess.setState(StateInProgress)
	for _, l := range lines {
		l.SetUnitCost(d("10"))
	}
	lines[0].SetCounted(d("15"))
	lines[1].SetCounted(d("7"))
	lines[2].SetCounted(d("12"))

	tot := sess.Totals()
	require.Equal(t, 3, tot.LineCount)
	require.True(t, tot.QtyCounted.Equal(d("34")))
	require.True(t, tot.QtyDelta.Equal(d("4")))
	require.True(t, tot.DiffQtyPositive.Equal(d("7")))
	require.True(t, tot.DiffQtyNegative.Equal(d("-3")))
	require.True(t, tot.DiffValuePositive.Equal(d("70")))
	require.True(t, tot.DiffValueNegative.Equal(d("-30")))
	require.True(t, tot.DiffValueNet.Equal(d("40")))
	require.True(t, tot.ReviewValueNet.IsZero())
}

func TestReviewTotalsIgnoreStateDependentDelta(t *testing.T) {
	sess := NewSession()
	reviewed := NewLine(LineKey{ProductID: 1, LocationID: 1}, d("5"))
	reviewed.qtyCounted = d("10")
	reviewed.qtyReviewCounted = d("8")
	unreviewed := NewLine(LineKey{ProductID: 2, LocationID: 1}, d("5"))
	unreviewed.qtyCounted = d("10")
	sess.setLines([]*Line{reviewed, unreviewed})
	sess.applyPricing(map[int64]decimal.Decimal{1: d("1"), 2: d("1")}, nil)
	sess.setState(StateDone)

	require.True(t, reviewed.Delta().Equal(d("3")))
	require.True(t, unreviewed.Delta().Equal(d("5")))

	tot := sess.Totals()
	require.True(t, tot.DiffValuePositive.Equal(d("8")))
	require.True(t, tot.ReviewValuePositive.Equal(d("3")))
	require.True(t, tot.ReviewValueNegative.IsZero())
	require.True(t, tot.ReviewValueNet.Equal(d("3")))
}

func TestReviewTotalsSplitNegative(t *testing.T) {
	sess := NewSession()
	l := NewLine(LineKey{ProductID: 1, LocationID: 1}, d("10"))
	l.qtyReviewCounted = d("4")
	sess.setLines([]*Line{l})
	l.SetUnitCost(d("2"))

	tot := sess.Totals()
	require.True(t, tot.ReviewValueNegative.Equal(d("-12")))
	require.True(t, tot.ReviewValueNet.Equal(d("-12")))
	// Draft ignores the review count for the current delta.
	require.True(t, tot.DiffValueNegative.Equal(d("-20")))
}

func TestTotalsOfEmptySession(t *testing.T) {
	tot := ComputeTotals(nil)
	require.Zero(t, tot.LineCount)
	require.True(t, tot.DiffValueNet.IsZero())
	require.True(t, tot.ReviewValueNet.IsZero())
}

package stockcount

import "github.com/shopspring/decimal"

var (
	hundred      = decimal.NewFromInt(100)
	qtyTolerance = decimal.New(1, -3)
)

// recomputeLine derives delta first, then the values that depend on it.
func (l *Line) recomputeLine() {
	l.delta = lineDelta(l.State(), l.qtySystem, l.qtyCounted, l.qtyReviewCounted)
	l.valueBefore = l.qtySystem.Mul(l.unitCost)
	l.netDiffValue = l.delta.Mul(l.unitCost)
	l.variancePct = variancePercent(l.qtySystem, l.delta)
}

// lineDelta prefers the review count once the session is in a review phase.
// A zero review count counts as not entered and falls back to the initial count.
func lineDelta(state State, system, counted, review decimal.Decimal) decimal.Decimal {
	if state.ReviewPhase() && !review.IsZero() {
		return review.Sub(system)
	}
	return counted.Sub(system)
}

// variancePercent is |delta| / |system| as a percentage rounded to two places.
// Without a system quantity any delta is a total (100%) variance.
func variancePercent(system, delta decimal.Decimal) decimal.Decimal {
	switch {
	case system.Abs().GreaterThan(qtyTolerance):
		return delta.Abs().Div(system.Abs()).Mul(hundred).Round(2)
	case delta.Abs().GreaterThan(qtyTolerance):
		return hundred
	default:
		return decimal.Zero
	}
}

// ComputeTotals reduces lines into session totals. The review values are computed from
// the review count directly and ignore the state-dependent delta.
func ComputeTotals(lines []*Line) Totals {
	t := Totals{
		LineCount:           len(lines),
		QtyCounted:          decimal.Zero,
		QtyDelta:            decimal.Zero,
		DiffQtyPositive:     decimal.Zero,
		DiffQtyNegative:     decimal.Zero,
		DiffValuePositive:   decimal.Zero,
		DiffValueNegative:   decimal.Zero,
		ReviewValuePositive: decimal.Zero,
		ReviewValueNegative: decimal.Zero,
	}
	for _, l := range lines {
		t.QtyCounted = t.QtyCounted.Add(l.qtyCounted)
		t.QtyDelta = t.QtyDelta.Add(l.delta)

		switch l.delta.Sign() {
		case 1:
			t.DiffQtyPositive = t.DiffQtyPositive.Add(l.delta)
		case -1:
			t.DiffQtyNegative = t.DiffQtyNegative.Add(l.delta)
		}
		switch l.netDiffValue.Sign() {
		case 1:
			t.DiffValuePositive = t.DiffValuePositive.Add(l.netDiffValue)
		case -1:
			t.DiffValueNegative = t.DiffValueNegative.Add(l.netDiffValue)
		}

		if l.qtyReviewCounted.IsZero() {
			continue
		}
		reviewValue := l.qtyReviewCounted.Sub(l.qtySystem).Mul(l.unitCost)
		if reviewValue.IsPositive() {
			t.ReviewValuePositive = t.ReviewValuePositive.Add(reviewValue)
		} else {
			t.ReviewValueNegative = t.ReviewValueNegative.Add(reviewValue)
		}
	}
	t.DiffValueNet = t.DiffValuePositive.Add(t.DiffValueNegative)
	t.ReviewValueNet = t.ReviewValuePositive.Add(t.ReviewValueNegative)
	return t
}

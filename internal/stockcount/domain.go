package stockcount

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcount/internal/platform/httpx"
)

// State is the workflow stage of a count session.
type State string

const (
	StateDraft      State = "draft"
	StateInProgress State = "in_progress"
	StateReview     State = "review"
	StateApproval   State = "approval"
	StateDone       State = "done"
	StateRejected   State = "rejected"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StateInProgress, StateReview, StateApproval, StateDone, StateRejected:
		return true
	}
	return false
}

// ReviewPhase reports whether the review count supersedes the initial count in this state.
func (s State) ReviewPhase() bool {
	switch s {
	case StateReview, StateApproval, StateDone, StateRejected:
		return true
	}
	return false
}

// FilterMode selects which stock levels seed the count lines.
type FilterMode string

const (
	FilterAvailable   FilterMode = "available"
	FilterIncludeZero FilterMode = "include_zero"
)

// Valid reports whether f is a known filter mode.
func (f FilterMode) Valid() bool {
	return f == FilterAvailable || f == FilterIncludeZero
}

// Session is one inventory counting exercise. It exclusively owns its lines and
// keeps its totals consistent with them.
type Session struct {
	ID               int64
	Name             string
	WarehouseID      int64
	LocationID       *int64
	Filter           FilterMode
	OwnerID          int64
	FinanceManagerID *int64
	AttendeeIDs      []int64
	EffectiveDate    time.Time
	StartedAt        time.Time
	EndedAt          *time.Time
	ReviewedAt       *time.Time
	ApprovedAt       *time.Time
	RejectedAt       *time.Time
	RejectionReason  string
	Note             string
	CreatedAt        time.Time

	state  State
	lines  []*Line
	totals Totals
}

// NewSession builds a draft session without lines.
func NewSession() *Session {
	return &Session{state: StateDraft, Filter: FilterAvailable}
}

// State returns the current workflow state.
func (s *Session) State() State {
	return s.state
}

// Lines returns the session's lines in order.
func (s *Session) Lines() []*Line {
	out := make([]*Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Line finds a line by id.
func (s *Session) Line(id int64) (*Line, bool) {
	for _, l := range s.lines {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// Totals returns the aggregates over the current lines.
func (s *Session) Totals() Totals {
	return s.totals
}

// IsAttendee reports whether the user takes part in the count.
func (s *Session) IsAttendee(userID int64) bool {
	for _, id := range s.AttendeeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CanApprove reports whether the user is the assigned finance manager.
func (s *Session) CanApprove(userID int64) bool {
	return s.FinanceManagerID != nil && *s.FinanceManagerID == userID
}

// setState moves the session and recomputes every line, since deltas depend on the state.
func (s *Session) setState(state State) {
	s.state = state
	s.recompute()
}

// setLines replaces the line collection and attaches each line to the session.
func (s *Session) setLines(lines []*Line) {
	s.lines = make([]*Line, 0, len(lines))
	for _, l := range lines {
		l.session = s
		l.SessionID = s.ID
		s.lines = append(s.lines, l)
	}
	s.recompute()
}

// applyPricing sets unit cost and KPI percent on every line from the lookup maps.
// Missing entries default to zero.
func (s *Session) applyPricing(costs, kpis map[int64]decimal.Decimal) {
	for _, l := range s.lines {
		l.unitCost = costs[l.ProductID]
		l.kpiPercent = kpis[l.CategoryID]
	}
	s.recompute()
}

func (s *Session) recompute() {
	for _, l := range s.lines {
		l.recomputeLine()
	}
	s.totals = ComputeTotals(s.lines)
}

// Line is one countable unit (product, location, lot, package) of a session.
type Line struct {
	ID         int64
	SessionID  int64
	ProductID  int64
	CategoryID int64
	LocationID int64
	LotID      *int64
	PackageID  *int64
	Barcode    string
	ScannedBy  *int64
	ScannedAt  *time.Time
	Note       string

	qtySystem        decimal.Decimal
	qtyCounted       decimal.Decimal
	qtyReviewCounted decimal.Decimal
	unitCost         decimal.Decimal
	kpiPercent       decimal.Decimal

	delta        decimal.Decimal
	valueBefore  decimal.Decimal
	netDiffValue decimal.Decimal
	variancePct  decimal.Decimal
	session      *Session
}

// LineKey identifies the stock a line counts.
type LineKey struct {
	ProductID  int64
	CategoryID int64
	LocationID int64
	LotID      *int64
	PackageID  *int64
}

// NewLine creates a line with its system quantity snapshot. The snapshot never changes afterwards.
func NewLine(key LineKey, qtySystem decimal.Decimal) *Line {
	l := &Line{
		ProductID:  key.ProductID,
		CategoryID: key.CategoryID,
		LocationID: key.LocationID,
		LotID:      key.LotID,
		PackageID:  key.PackageID,
		qtySystem:  qtySystem,
	}
	l.recomputeLine()
	return l
}

// State mirrors the owning session's state.
func (l *Line) State() State {
	if l.session == nil {
		return StateDraft
	}
	return l.session.state
}

// Quantity and valuation accessors. Derived values are recomputed on every input change.

func (l *Line) QtySystem() decimal.Decimal          { return l.qtySystem }
func (l *Line) QtyCounted() decimal.Decimal         { return l.qtyCounted }
func (l *Line) QtyReviewCounted() decimal.Decimal   { return l.qtyReviewCounted }
func (l *Line) UnitCost() decimal.Decimal           { return l.unitCost }
func (l *Line) KPIPercent() decimal.Decimal         { return l.kpiPercent }
func (l *Line) Delta() decimal.Decimal              { return l.delta }
func (l *Line) ValueBefore() decimal.Decimal        { return l.valueBefore }
func (l *Line) NetDifferenceValue() decimal.Decimal { return l.netDiffValue }
func (l *Line) VariancePercent() decimal.Decimal    { return l.variancePct }

// OverKPI reports whether the variance exceeds the category's accepted percent.
func (l *Line) OverKPI() bool {
	return l.variancePct.GreaterThan(l.kpiPercent)
}

// SetCounted records the counted quantity.
func (l *Line) SetCounted(qty decimal.Decimal) {
	l.qtyCounted = qty
	l.changed()
}

// SetReviewCounted records the review-phase quantity.
func (l *Line) SetReviewCounted(qty decimal.Decimal) {
	l.qtyReviewCounted = qty
	l.changed()
}

// SetUnitCost changes the unit cost used for valuation.
func (l *Line) SetUnitCost(cost decimal.Decimal) {
	l.unitCost = cost
	l.changed()
}

// SetKPIPercent changes the accepted variance percent shown on the line.
func (l *Line) SetKPIPercent(pct decimal.Decimal) {
	l.kpiPercent = pct
}

// RecordScan stamps a barcode scan.
func (l *Line) RecordScan(barcode string, actorID int64, at time.Time) {
	l.Barcode = barcode
	l.ScannedBy = &actorID
	l.ScannedAt = &at
}

func (l *Line) changed() {
	l.recomputeLine()
	if l.session != nil {
		l.session.totals = ComputeTotals(l.session.lines)
	}
}

// Totals are the aggregates of a session's lines.
type Totals struct {
	LineCount           int
	QtyCounted          decimal.Decimal
	QtyDelta            decimal.Decimal
	DiffQtyPositive     decimal.Decimal
	DiffQtyNegative     decimal.Decimal
	DiffValuePositive   decimal.Decimal
	DiffValueNegative   decimal.Decimal
	DiffValueNet        decimal.Decimal
	ReviewValuePositive decimal.Decimal
	ReviewValueNegative decimal.Decimal
	ReviewValueNet      decimal.Decimal
}

// ValidationError is a precondition failure shown to the caller. It never leaves partial changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap maps validation failures to the shared validation sentinel.
func (e *ValidationError) Unwrap() error {
	return httpx.ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var (
	// ErrNotFound indicates the session does not exist or is not visible to the caller.
	ErrNotFound = fmt.Errorf("stockcount: session %w", httpx.ErrNotFound)
	// ErrLineNotFound indicates the line does not belong to the session.
	ErrLineNotFound = fmt.Errorf("stockcount: line %w", httpx.ErrNotFound)
	// ErrInvalidTransition indicates the action is not legal in the session's state.
	ErrInvalidTransition = fmt.Errorf("stockcount: invalid transition: %w", httpx.ErrConflict)
	// ErrLineNotEditable indicates the line field cannot change in the session's state.
	ErrLineNotEditable = fmt.Errorf("stockcount: line not editable: %w", httpx.ErrConflict)
	// ErrSessionLocked indicates the session can no longer be modified or deleted.
	ErrSessionLocked = fmt.Errorf("stockcount: session locked: %w", httpx.ErrConflict)
	// ErrUnauthenticated indicates no acting user was supplied.
	ErrUnauthenticated = fmt.Errorf("stockcount: %w", httpx.ErrUnauthorized)
)

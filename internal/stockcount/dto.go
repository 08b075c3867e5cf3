package stockcount

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateSessionRequest is the body of POST /stock-counts.
type CreateSessionRequest struct {
	Name             string     `json:"name" validate:"max=128"`
	WarehouseID      int64      `json:"warehouse_id" validate:"gte=0"`
	LocationID       *int64     `json:"location_id" validate:"omitempty,gt=0"`
	Filter           FilterMode `json:"filter" validate:"omitempty,oneof=available include_zero"`
	FinanceManagerID *int64     `json:"finance_manager_id" validate:"omitempty,gt=0"`
	AttendeeIDs      []int64    `json:"attendee_ids" validate:"dive,gt=0"`
	EffectiveDate    *time.Time `json:"effective_date"`
	Note             string     `json:"note" validate:"max=2000"`
}

// UpdateSessionRequest is the body of PATCH /stock-counts/{id}. A zero id clears a reference.
type UpdateSessionRequest struct {
	Name             *string     `json:"name" validate:"omitempty,min=1,max=128"`
	WarehouseID      *int64      `json:"warehouse_id" validate:"omitempty,gte=0"`
	LocationID       *int64      `json:"location_id" validate:"omitempty,gte=0"`
	Filter           *FilterMode `json:"filter" validate:"omitempty,oneof=available include_zero"`
	FinanceManagerID *int64      `json:"finance_manager_id" validate:"omitempty,gte=0"`
	AttendeeIDs      *[]int64    `json:"attendee_ids" validate:"omitempty,dive,gt=0"`
	EffectiveDate    *time.Time  `json:"effective_date"`
	Note             *string     `json:"note" validate:"omitempty,max=2000"`
}

// EditLineRequest is the body of PATCH /stock-counts/{id}/lines/{lineID}.
type EditLineRequest struct {
	QtyCounted       *decimal.Decimal `json:"qty_counted"`
	QtyReviewCounted *decimal.Decimal `json:"qty_review_counted"`
	Barcode          *string          `json:"barcode" validate:"omitempty,max=128"`
	Note             *string          `json:"note" validate:"omitempty,max=500"`
}

// ReasonRequest is the body of the recount and reject actions.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,min=1,max=2000"`
}

// TotalsResponse carries the session aggregates.
type TotalsResponse struct {
	LineCount           int             `json:"line_count"`
	QtyCounted          decimal.Decimal `json:"qty_counted_total"`
	QtyDelta            decimal.Decimal `json:"qty_delta_total"`
	DiffQtyPositive     decimal.Decimal `json:"total_diff_qty_positive"`
	DiffQtyNegative     decimal.Decimal `json:"total_diff_qty_negative"`
	DiffValuePositive   decimal.Decimal `json:"total_diff_value_positive"`
	DiffValueNegative   decimal.Decimal `json:"total_diff_value_negative"`
	DiffValueNet        decimal.Decimal `json:"total_diff_value_net"`
	ReviewValuePositive decimal.Decimal `json:"total_diff_review_value_positive"`
	ReviewValueNegative decimal.Decimal `json:"total_diff_review_value_negative"`
	ReviewValueNet      decimal.Decimal `json:"total_diff_review_value_net"`
}

// LineResponse is a line with its derived valuation.
type LineResponse struct {
	ID                 int64           `json:"id"`
	ProductID          int64           `json:"product_id"`
	CategoryID         int64           `json:"category_id,omitempty"`
	LocationID         int64           `json:"location_id"`
	LotID              *int64          `json:"lot_id,omitempty"`
	PackageID          *int64          `json:"package_id,omitempty"`
	State              State           `json:"state"`
	QtySystem          decimal.Decimal `json:"qty_system"`
	QtyCounted         decimal.Decimal `json:"qty_counted"`
	QtyReviewCounted   decimal.Decimal `json:"qty_review_counted"`
	QtyDelta           decimal.Decimal `json:"qty_delta"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	ValueBefore        decimal.Decimal `json:"product_value_before"`
	NetDifferenceValue decimal.Decimal `json:"count_net_difference_value"`
	VariancePercent    decimal.Decimal `json:"variant_percentage_value"`
	KPIPercent         decimal.Decimal `json:"accepted_product_diff_kpi"`
	OverKPI            bool            `json:"over_kpi"`
	Barcode            string          `json:"barcode_scanned,omitempty"`
	ScannedBy          *int64          `json:"scanned_by,omitempty"`
	ScannedAt          *time.Time      `json:"scanned_at,omitempty"`
	Note               string          `json:"note,omitempty"`
}

// SessionResponse is a session with totals and, on detail reads, its lines.
type SessionResponse struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	State            State          `json:"state"`
	WarehouseID      int64          `json:"warehouse_id,omitempty"`
	LocationID       *int64         `json:"location_id,omitempty"`
	Filter           FilterMode     `json:"filter"`
	OwnerID          int64          `json:"owner_id"`
	FinanceManagerID *int64         `json:"finance_manager_id,omitempty"`
	AttendeeIDs      []int64        `json:"attendee_ids"`
	EffectiveDate    string         `json:"effective_date"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
	ReviewedAt       *time.Time     `json:"review_date,omitempty"`
	ApprovedAt       *time.Time     `json:"approval_date,omitempty"`
	RejectedAt       *time.Time     `json:"rejection_date,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
	Note             string         `json:"note,omitempty"`
	CanApprove       bool           `json:"can_approve"`
	AllowedActions   []Action       `json:"allowed_actions"`
	Totals           TotalsResponse `json:"totals"`
	Lines            []LineResponse `json:"lines,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func toSessionResponse(s *Session, viewerID int64, withLines bool) SessionResponse {
	t := s.Totals()
	resp := SessionResponse{
		ID:               s.ID,
		Name:             s.Name,
		State:            s.State(),
		WarehouseID:      s.WarehouseID,
		LocationID:       s.LocationID,
		Filter:           s.Filter,
		OwnerID:          s.OwnerID,
		FinanceManagerID: s.FinanceManagerID,
		AttendeeIDs:      s.AttendeeIDs,
		EffectiveDate:    s.EffectiveDate.Format(time.DateOnly),
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		ReviewedAt:       s.ReviewedAt,
		ApprovedAt:       s.ApprovedAt,
		RejectedAt:       s.RejectedAt,
		RejectionReason:  s.RejectionReason,
		Note:             s.Note,
		CanApprove:       s.CanApprove(viewerID),
		AllowedActions:   AllowedActions(s.State()),
		Totals: TotalsResponse{
			LineCount:           t.LineCount,
			QtyCounted:          t.QtyCounted,
			QtyDelta:            t.QtyDelta,
			DiffQtyPositive:     t.DiffQtyPositive,
			DiffQtyNegative:     t.DiffQtyNegative,
			DiffValuePositive:   t.DiffValuePositive,
			DiffValueNegative:   t.DiffValueNegative,
			DiffValueNet:        t.DiffValueNet,
			ReviewValuePositive: t.ReviewValuePositive,
			ReviewValueNegative: t.ReviewValueNegative,
			ReviewValueNet:      t.ReviewValueNet,
		},
		CreatedAt: s.CreatedAt,
	}
	if resp.AttendeeIDs == nil {
		resp.AttendeeIDs = []int64{}
	}
	if withLines {
		resp.Lines = make([]LineResponse, 0, len(s.lines))
		for _, l := range s.lines {
			resp.Lines = append(resp.Lines, toLineResponse(l))
		}
	}
	return resp
}

func toLineResponse(l *Line) LineResponse {
	return LineResponse{
		ID:                 l.ID,
		ProductID:          l.ProductID,
		CategoryID:         l.CategoryID,
		LocationID:         l.LocationID,
		LotID:              l.LotID,
		PackageID:          l.PackageID,
		State:              l.State(),
		QtySystem:          l.QtySystem(),
		QtyCounted:         l.QtyCounted(),
		QtyReviewCounted:   l.QtyReviewCounted(),
		QtyDelta:           l.Delta(),
		UnitCost:           l.UnitCost(),
		ValueBefore:        l.ValueBefore(),
		NetDifferenceValue: l.NetDifferenceValue(),
		VariancePercent:    l.VariancePercent(),
		KPIPercent:         l.KPIPercent(),
		OverKPI:            l.OverKPI(),
		Barcode:            l.Barcode,
		ScannedBy:          l.ScannedBy,
		ScannedAt:          l.ScannedAt,
		Note:               l.Note,
	}
}

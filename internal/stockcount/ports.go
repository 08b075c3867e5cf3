package stockcount

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcount/internal/inventory"
	"github.com/odyssey-erp/stockcount/internal/masterdata"
	"github.com/odyssey-erp/stockcount/internal/shared"
)

// Module names the stock count records in the approval trail and audit log.
const Module = "stockcount"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSession(ctx context.Context, id int64, vis Visibility) (*Session, error)
	ListSessions(ctx context.Context, filter ListFilter, vis Visibility) ([]*Session, int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	CreateSession(ctx context.Context, s *Session) (int64, error)
	// LockSession loads the session with its lines and holds a row lock until the transaction ends.
	LockSession(ctx context.Context, id int64) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, id int64) error
	// ReplaceLines deletes every line of the session and inserts lines, assigning their ids.
	ReplaceLines(ctx context.Context, sessionID int64, lines []*Line) error
	SaveLines(ctx context.Context, lines []*Line) error
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
	ScheduleActivity(ctx context.Context, a Activity) (int64, error)
}

// StockLevelSource returns on-hand quantities for locations.
type StockLevelSource interface {
	Quants(ctx context.Context, filter inventory.QuantFilter) ([]inventory.Quant, error)
}

// LocationDirectory resolves warehouses and their locations.
type LocationDirectory interface {
	Warehouse(ctx context.Context, id int64) (masterdata.Warehouse, error)
	InternalLocations(ctx context.Context, warehouseID int64) ([]int64, error)
	LocationWarehouse(ctx context.Context, locationID int64) (int64, error)
}

// ProductCatalog supplies unit costs per product and KPI percents per category.
type ProductCatalog interface {
	UnitCosts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error)
	CategoryKPIs(ctx context.Context, categoryIDs []int64) (map[int64]decimal.Decimal, error)
}

// Authorizer answers the role questions behind the read filter.
type Authorizer interface {
	IsSystemAdmin(ctx context.Context, userID int64) (bool, error)
	IsInventoryManager(ctx context.Context, userID int64) (bool, error)
}

// FollowUpNotifier delivers a scheduled follow-up to its assignee once committed.
type FollowUpNotifier interface {
	NotifyFollowUp(ctx context.Context, a Activity) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver counts workflow transitions.
type TransitionObserver interface {
	ObserveTransition(action, from, to string)
}

// TrailReader reads the approval trail.
type TrailReader interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Activity is a follow-up task assigned to a user.
type Activity struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	UserID    int64     `json:"user_id"`
	Summary   string    `json:"summary"`
	Note      string    `json:"note"`
	DueAt     time.Time `json:"due_at"`
}

// ListFilter narrows a session listing.
type ListFilter struct {
	State   State
	Page    int
	PerPage int
}

// CreateInput carries the header of a new session.
type CreateInput struct {
	Name             string
	WarehouseID      int64
	LocationID       *int64
	Filter           FilterMode
	FinanceManagerID *int64
	AttendeeIDs      []int64
	EffectiveDate    *time.Time
	Note             string
}

// UpdateInput changes header fields; nil leaves a field untouched and a zero id clears a reference.
type UpdateInput struct {
	Name             *string
	WarehouseID      *int64
	LocationID       *int64
	Filter           *FilterMode
	FinanceManagerID *int64
	AttendeeIDs      *[]int64
	EffectiveDate    *time.Time
	Note             *string
}

// LineInput edits a line; nil leaves a field untouched.
type LineInput struct {
	QtyCounted       *decimal.Decimal
	QtyReviewCounted *decimal.Decimal
	Barcode          *string
	Note             *string
}

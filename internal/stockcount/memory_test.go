package stockcount

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcount/internal/inventory"
	"github.com/odyssey-erp/stockcount/internal/masterdata"
	"github.com/odyssey-erp/stockcount/internal/platform/httpx"
	"github.com/odyssey-erp/stockcount/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	sessions     map[int64]*Session
	approvals    []shared.ApprovalLog
	activities   []Activity
	nextSession  int64
	nextLine     int64
	nextActivity int64
	failReplace  bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: map[int64]*Session{}}
}

func cloneLines(lines []*Line) []*Line {
	out := make([]*Line, 0, len(lines))
	for _, l := range lines {
		c := *l
		c.session = nil
		out = append(out, &c)
	}
	return out
}

func cloneSession(s *Session) *Session {
	c := *s
	cp := &c
	cp.AttendeeIDs = append([]int64(nil), s.AttendeeIDs...)
	cp.setLines(cloneLines(s.lines))
	return cp
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[int64]*Session, len(r.sessions))
	for id, s := range r.sessions {
		snapshot[id] = cloneSession(s)
	}
	approvals := len(r.approvals)
	activities := len(r.activities)

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.sessions = snapshot
		r.approvals = r.approvals[:approvals]
		r.activities = r.activities[:activities]
		return err
	}
	return nil
}

func (r *memoryRepo) GetSession(_ context.Context, id int64, vis Visibility) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !vis.Allows(s) {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *memoryRepo) ListSessions(_ context.Context, filter ListFilter, vis Visibility) ([]*Session, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*Session
	for _, s := range r.sessions {
		if filter.State != "" && s.State() != filter.State {
			continue
		}
		if !vis.Allows(s) {
			continue
		}
		matched = append(matched, cloneSession(s))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := shared.NewPagination(filter.Page, filter.PerPage, len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) List(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.ApprovalLog
	for _, a := range r.approvals {
		if a.Module == module && a.RefID == ref {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) stored(id int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSession(r.sessions[id])
}

func (tx *memoryTx) CreateSession(_ context.Context, s *Session) (int64, error) {
	tx.repo.nextSession++
	cp := cloneSession(s)
	cp.ID = tx.repo.nextSession
	tx.repo.sessions[cp.ID] = cp
	return cp.ID, nil
}

func (tx *memoryTx) LockSession(_ context.Context, id int64) (*Session, error) {
	s, ok := tx.repo.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (tx *memoryTx) UpdateSession(_ context.Context, s *Session) error {
	stored, ok := tx.repo.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	cp := cloneSession(s)
	cp.setLines(cloneLines(stored.lines))
	tx.repo.sessions[s.ID] = cp
	return nil
}

func (tx *memoryTx) DeleteSession(_ context.Context, id int64) error {
	if _, ok := tx.repo.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(tx.repo.sessions, id)
	return nil
}

func (tx *memoryTx) ReplaceLines(_ context.Context, sessionID int64, lines []*Line) error {
	stored, ok := tx.repo.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	stored.setLines(nil)
	if tx.repo.failReplace {
		return errors.New("insert line: connection reset")
	}
	for _, l := range lines {
		tx.repo.nextLine++
		l.ID = tx.repo.nextLine
		l.SessionID = sessionID
	}
	stored.setLines(cloneLines(lines))
	return nil
}

func (tx *memoryTx) SaveLines(_ context.Context, lines []*Line) error {
	for _, l := range lines {
		stored, ok := tx.repo.sessions[l.SessionID]
		if !ok {
			return ErrNotFound
		}
		target, ok := stored.Line(l.ID)
		if !ok {
			return ErrLineNotFound
		}
		target.qtyCounted = l.qtyCounted
		target.qtyReviewCounted = l.qtyReviewCounted
		target.Barcode = l.Barcode
		target.ScannedBy = l.ScannedBy
		target.ScannedAt = l.ScannedAt
		target.Note = l.Note
	}
	return nil
}

func (tx *memoryTx) RecordApproval(_ context.Context, log shared.ApprovalLog) error {
	log.ID = int64(len(tx.repo.approvals) + 1)
	tx.repo.approvals = append(tx.repo.approvals, log)
	return nil
}

func (tx *memoryTx) ScheduleActivity(_ context.Context, a Activity) (int64, error) {
	tx.repo.nextActivity++
	a.ID = tx.repo.nextActivity
	tx.repo.activities = append(tx.repo.activities, a)
	return a.ID, nil
}

type fakeStock struct {
	quants []inventory.Quant
	calls  int
}

func (f *fakeStock) Quants(_ context.Context, filter inventory.QuantFilter) ([]inventory.Quant, error) {
	f.calls++
	var out []inventory.Quant
	for _, q := range f.quants {
		match := false
		for _, id := range filter.LocationIDs {
			if id == q.LocationID {
				match = true
			}
		}
		if !match {
			continue
		}
		if filter.Quantity == inventory.QuantityAvailable && !q.Quantity.IsPositive() {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

type fakeLocations struct {
	warehouses  map[int64]bool
	internal    map[int64][]int64
	warehouseOf map[int64]int64
}

func (f *fakeLocations) Warehouse(_ context.Context, id int64) (masterdata.Warehouse, error) {
	if !f.warehouses[id] {
		return masterdata.Warehouse{}, fmt.Errorf("warehouse %d: %w", id, masterdata.ErrNotFound)
	}
	return masterdata.Warehouse{ID: id}, nil
}

func (f *fakeLocations) InternalLocations(_ context.Context, warehouseID int64) ([]int64, error) {
	return f.internal[warehouseID], nil
}

func (f *fakeLocations) LocationWarehouse(_ context.Context, locationID int64) (int64, error) {
	wh, ok := f.warehouseOf[locationID]
	if !ok {
		return 0, fmt.Errorf("location %d: %w", locationID, httpx.ErrNotFound)
	}
	return wh, nil
}

type fakeCatalog struct {
	costs map[int64]decimal.Decimal
	kpis  map[int64]decimal.Decimal
}

func (f *fakeCatalog) UnitCosts(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := map[int64]decimal.Decimal{}
	for _, id := range ids {
		if c, ok := f.costs[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeCatalog) CategoryKPIs(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := map[int64]decimal.Decimal{}
	for _, id := range ids {
		if k, ok := f.kpis[id]; ok {
			out[id] = k
		}
	}
	return out, nil
}

type fakeAuth struct {
	admins   map[int64]bool
	managers map[int64]bool
}

func (f *fakeAuth) IsSystemAdmin(_ context.Context, userID int64) (bool, error) {
	return f.admins[userID], nil
}

func (f *fakeAuth) IsInventoryManager(_ context.Context, userID int64) (bool, error) {
	return f.managers[userID], nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Activity
}

func (f *fakeNotifier) NotifyFollowUp(_ context.Context, a Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return nil
}

type fakeObserver struct {
	seen []string
}

func (f *fakeObserver) ObserveTransition(action, from, to string) {
	f.seen = append(f.seen, action+":"+from+"->"+to)
}

package stockcount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockcount/internal/inventory"
	"github.com/odyssey-erp/stockcount/internal/platform/httpx"
	"github.com/odyssey-erp/stockcount/internal/shared"
)

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	FollowUpDueIn time.Duration
	NamePrefix    string
}

// Dependencies are the collaborators a Service needs. Notifier, Audit, Observer and
// Trail are optional.
type Dependencies struct {
	Repo      RepositoryPort
	Stock     StockLevelSource
	Locations LocationDirectory
	Catalog   ProductCatalog
	Auth      Authorizer
	Notifier  FollowUpNotifier
	Audit     AuditPort
	Observer  TransitionObserver
	Trail     TrailReader
	Logger    *slog.Logger
}

// Service coordinates count sessions and their workflow.
type Service struct {
	repo      RepositoryPort
	stock     StockLevelSource
	locations LocationDirectory
	catalog   ProductCatalog
	auth      Authorizer
	notifier  FollowUpNotifier
	audit     AuditPort
	observer  TransitionObserver
	trail     TrailReader
	logger    *slog.Logger
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService builds Service.
func NewService(deps Dependencies, cfg ServiceConfig) *Service {
	if cfg.FollowUpDueIn <= 0 {
		cfg.FollowUpDueIn = 72 * time.Hour
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "Count-"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      deps.Repo,
		stock:     deps.Stock,
		locations: deps.Locations,
		catalog:   deps.Catalog,
		auth:      deps.Auth,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		observer:  deps.Observer,
		trail:     deps.Trail,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Create opens a draft session owned by the actor.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (*Session, error) {
	if actorID <= 0 {
		return nil, ErrUnauthenticated
	}
	now := s.now()
	sess := NewSession()
	sess.Name = strings.TrimSpace(in.Name)
	if sess.Name == "" {
		sess.Name = s.cfg.NamePrefix + now.Format("20060102")
	}
	sess.WarehouseID = in.WarehouseID
	sess.LocationID = positiveOrNil(in.LocationID)
	if in.Filter != "" {
		sess.Filter = in.Filter
	}
	sess.OwnerID = actorID
	sess.FinanceManagerID = positiveOrNil(in.FinanceManagerID)
	sess.AttendeeIDs = uniqueIDs(in.AttendeeIDs)
	sess.EffectiveDate = truncateDay(now)
	if in.EffectiveDate != nil {
		sess.EffectiveDate = truncateDay(*in.EffectiveDate)
	}
	sess.Note = strings.TrimSpace(in.Note)
	sess.StartedAt = now
	sess.CreatedAt = now

	if err := s.validateHeader(ctx, sess); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateSession(ctx, sess)
		if err != nil {
			return err
		}
		sess.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "stockcount.create", sess, map[string]any{"name": sess.Name})
	return sess, nil
}

// Get returns a session visible to the actor with its lines, valuation and totals.
func (s *Service) Get(ctx context.Context, actorID, id int64) (*Session, error) {
	vis, err := s.visibility(ctx, actorID)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetSession(ctx, id, vis)
	if err != nil {
		return nil, err
	}
	if !vis.Allows(sess) {
		return nil, ErrNotFound
	}
	if err := s.hydrate(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns the sessions visible to the actor, newest first.
func (s *Service) List(ctx context.Context, actorID int64, filter ListFilter) ([]*Session, int, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, 0, invalid("state", fmt.Sprintf("unknown state %q", filter.State))
	}
	vis, err := s.visibility(ctx, actorID)
	if err != nil {
		return nil, 0, err
	}
	sessions, total, err := s.repo.ListSessions(ctx, filter, vis)
	if err != nil {
		return nil, 0, err
	}
	if err := s.hydrate(ctx, sessions...); err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// Update changes header fields while the session is still being counted.
func (s *Service) Update(ctx context.Context, actorID, id int64, in UpdateInput) (*Session, error) {
	vis, err := s.visibility(ctx, actorID)
	if err != nil {
		return nil, err
	}
	var out *Session
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := s.lockVisible(ctx, tx, id, vis)
		if err != nil {
			return err
		}
		if !editable(sess.State()) {
			return fmt.Errorf("%w: header is read-only in %s", ErrSessionLocked, sess.State())
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return invalid("name", "must not be empty")
			}
			sess.Name = name
		}
		if in.WarehouseID != nil {
			sess.WarehouseID = *in.WarehouseID
		}
		if in.LocationID != nil {
			sess.LocationID = positiveOrNil(in.LocationID)
		}
		if in.Filter != nil {
			sess.Filter = *in.Filter
		}
		if in.FinanceManagerID != nil {
			sess.FinanceManagerID = positiveOrNil(in.FinanceManagerID)
		}
		if in.AttendeeIDs != nil {
			sess.AttendeeIDs = uniqueIDs(*in.AttendeeIDs)
		}
		if in.EffectiveDate != nil {
			sess.EffectiveDate = truncateDay(*in.EffectiveDate)
		}
		if in.Note != nil {
			sess.Note = strings.TrimSpace(*in.Note)
		}
		if err := s.validateHeader(ctx, sess); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, out); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "stockcount.update", out, nil)
	return out, nil
}

// Delete removes a session and its lines. Finished sessions are kept.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	vis, err := s.visibility(ctx, actorID)
	if err != nil {
		return err
	}
	var deleted *Session
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := s.lockVisible(ctx, tx, id, vis)
		if err != nil {
			return err
		}
		if sess.State() == StateDone {
			return fmt.Errorf("%w: done sessions cannot be deleted", ErrSessionLocked)
		}
		deleted = sess
		return tx.DeleteSession(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "stockcount.delete", deleted, nil)
	return nil
}

// EditLine records counts, a barcode scan or a note on one line.
func (s *Service) EditLine(ctx context.Context, actorID, sessionID, lineID int64, in LineInput) (*Session, error) {
	vis, err := s.visibility(ctx, actorID)
	if err != nil {
		return nil, err
	}
	var out *Session
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := s.lockVisible(ctx, tx, sessionID, vis)
		if err != nil {
			return err
		}
		line, ok := sess.Line(lineID)
		if !ok {
			return ErrLineNotFound
		}
		state := sess.State()
		if in.QtyCounted != nil {
			if !editable(state) {
				return fmt.Errorf("%w: counted quantity is read-only in %s", ErrLineNotEditable, state)
			}
			if in.QtyCounted.IsNegative() {
				return invalid("qty_counted", "must not be negative")
			}
		}
		if in.QtyReviewCounted != nil {
			if state != StateReview {
				return fmt.Errorf("%w: review quantity is editable only in review", ErrLineNotEditable)
			}
			if in.QtyReviewCounted.IsNegative() {
				return invalid("qty_review_counted", "must not be negative")
			}
		}
		if (in.Barcode != nil || in.Note != nil) && !editable(state) && state != StateReview {
			return fmt.Errorf("%w: line is read-only in %s", ErrLineNotEditable, state)
		}

		if err := s.hydrate(ctx, sess); err != nil {
			return err
		}
		if in.QtyCounted != nil {
			line.SetCounted(*in.QtyCounted)
		}
		if in.QtyReviewCounted != nil {
			line.SetReviewCounted(*in.QtyReviewCounted)
		}
		if in.Barcode != nil {
			line.RecordScan(strings.TrimSpace(*in.Barcode), actorID, s.now())
		}
		if in.Note != nil {
			line.Note = strings.TrimSpace(*in.Note)
		}
		if err := tx.SaveLines(ctx, []*Line{line}); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Generate replaces the session's lines with a fresh snapshot of stock levels.
func (s *Service) Generate(ctx context.Context, actorID, id int64) (*Session, error) {
	return s.transition(ctx, actorID, id, ActionGenerate, "")
}

// Submit copies counted quantities into the review count and moves to review.
func (s *Service) Submit(ctx context.Context, actorID, id int64) (*Session, error) {
	return s.transition(ctx, actorID, id, ActionSubmit, "")
}

// Validate sends the count to the finance manager for approval.
func (s *Service) Validate(ctx context.Context, actorID, id int64) (*Session, error) {
	return s.transition(ctx, actorID, id, ActionValidate, "")
}

// Approve closes the count.
func (s *Service) Approve(ctx context.Context, actorID, id int64) (*Session, error) {
	return s.transition(ctx, actorID, id, ActionApprove, "")
}

// Recount sends the session back to counting with a reason.
func (s *Service) Recount(ctx context.Context, actorID, id int64, reason string) (*Session, error) {
	return s.transition(ctx, actorID, id, ActionRecount, reason)
}

// Reject refuses the count with a reason.
func (s *Service) Reject(ctx context.Context, actorID, id int64, reason string) (*Session, error) {
	return s.transition(ctx, actorID, id, ActionReject, reason)
}

// Trail returns the approval trail of a visible session.
func (s *Service) Trail(ctx context.Context, actorID, id int64) ([]shared.ApprovalLog, error) {
	vis, err := s.visibility(ctx, actorID)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetSession(ctx, id, vis)
	if err != nil {
		return nil, err
	}
	if !vis.Allows(sess) {
		return nil, ErrNotFound
	}
	if s.trail == nil {
		return []shared.ApprovalLog{}, nil
	}
	items, err := s.trail.List(ctx, Module, shared.ApprovalRef(Module, sess.ID))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []shared.ApprovalLog{}
	}
	return items, nil
}

// transition runs one workflow action as a single transaction. Preconditions are
// checked before anything is mutated.
func (s *Service) transition(ctx context.Context, actorID, id int64, action Action, reason string) (*Session, error) {
	vis, err := s.visibility(ctx, actorID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	var (
		out      *Session
		from     State
		activity *Activity
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := s.lockVisible(ctx, tx, id, vis)
		if err != nil {
			return err
		}
		plan, err := Plan(action, sess.State())
		if err != nil {
			return err
		}
		from = sess.State()

		var seeded []*Line
		switch {
		case plan.Has(EffectReplaceLines):
			if seeded, err = s.seedLines(ctx, sess); err != nil {
				return err
			}
		case plan.Has(EffectScheduleFollowUp):
			if sess.FinanceManagerID == nil {
				return invalid("finance_manager_id", "assign a finance manager first")
			}
		case plan.Has(EffectPostReason):
			if reason == "" {
				return invalid("reason", "is required")
			}
		}

		if plan.Has(EffectReplaceLines) {
			sess.setLines(seeded)
		}
		if err := s.hydrate(ctx, sess); err != nil {
			return err
		}
		activity, err = s.apply(ctx, tx, plan, sess, actorID, reason)
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("stock count transition",
		slog.Int64("session_id", out.ID),
		slog.String("action", string(action)),
		slog.String("from", string(from)),
		slog.String("to", string(out.State())),
		slog.Int64("actor_id", actorID))
	if s.observer != nil {
		s.observer.ObserveTransition(string(action), string(from), string(out.State()))
	}
	s.recordAudit(ctx, actorID, "stockcount."+string(action), out, map[string]any{"from": string(from), "to": string(out.State())})
	if activity != nil && s.notifier != nil {
		if err := s.notifier.NotifyFollowUp(ctx, *activity); err != nil {
			s.logger.Warn("stock count follow-up notify", slog.Int64("activity_id", activity.ID), slog.Any("error", err))
		}
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, tx TxRepository, plan Transition, sess *Session, actorID int64, reason string) (*Activity, error) {
	now := s.now()
	if plan.Has(EffectCopyReviewCounts) {
		for _, l := range sess.lines {
			l.qtyReviewCounted = l.qtyCounted
		}
	}
	sess.setState(plan.To)

	note := ""
	for _, e := range plan.Effects {
		switch e {
		case EffectStampReview:
			sess.ReviewedAt = &now
			note = "Count submitted for review."
		case EffectStampApproval:
			sess.ApprovedAt = &now
		case EffectStampEnd:
			sess.EndedAt = &now
			note = "Count approved."
		case EffectStampRejection:
			sess.RejectedAt = &now
			sess.RejectionReason = reason
		case EffectPostReason:
			note = shared.ReasonNote(string(plan.Action), reason)
		}
	}

	switch {
	case plan.Has(EffectReplaceLines):
		if err := tx.ReplaceLines(ctx, sess.ID, sess.lines); err != nil {
			return nil, err
		}
	case plan.Has(EffectCopyReviewCounts):
		if err := tx.SaveLines(ctx, sess.lines); err != nil {
			return nil, err
		}
	}
	if err := tx.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}

	var activity *Activity
	if plan.Has(EffectScheduleFollowUp) {
		a := Activity{
			SessionID: sess.ID,
			UserID:    *sess.FinanceManagerID,
			Summary:   "Approve Inventory Count",
			Note:      fmt.Sprintf("Inventory Count %s needs approval.", sess.Name),
			DueAt:     now.Add(s.cfg.FollowUpDueIn),
		}
		id, err := tx.ScheduleActivity(ctx, a)
		if err != nil {
			return nil, err
		}
		a.ID = id
		activity = &a
		note = a.Note
	}

	if trailAction, ok := trailActions[plan.Action]; ok {
		err := tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  Module,
			RefID:   shared.ApprovalRef(Module, sess.ID),
			ActorID: actorID,
			Action:  trailAction,
			Note:    note,
			At:      now,
		})
		if err != nil {
			return nil, err
		}
	}
	return activity, nil
}

var trailActions = map[Action]shared.ApprovalAction{
	ActionSubmit:   shared.ApprovalSubmit,
	ActionValidate: shared.ApprovalValidate,
	ActionApprove:  shared.ApprovalApprove,
	ActionRecount:  shared.ApprovalRecount,
	ActionReject:   shared.ApprovalReject,
}

// seedLines resolves the locations to count and builds one zero-counted line per quant.
func (s *Service) seedLines(ctx context.Context, sess *Session) ([]*Line, error) {
	if sess.WarehouseID <= 0 {
		return nil, invalid("warehouse_id", "select a warehouse first")
	}
	var locationIDs []int64
	if sess.LocationID != nil {
		locationIDs = []int64{*sess.LocationID}
	} else {
		ids, err := s.locations.InternalLocations(ctx, sess.WarehouseID)
		if err != nil {
			return nil, fmt.Errorf("stockcount: resolve locations: %w", err)
		}
		if len(ids) == 0 {
			return nil, invalid("warehouse_id", "no internal locations found in the selected warehouse")
		}
		locationIDs = ids
	}
	quants, err := s.stock.Quants(ctx, inventory.QuantFilter{
		LocationIDs: locationIDs,
		Quantity:    inventory.QuantityFilter(sess.Filter),
	})
	if err != nil {
		return nil, fmt.Errorf("stockcount: stock levels: %w", err)
	}
	lines := make([]*Line, 0, len(quants))
	for _, q := range quants {
		lines = append(lines, NewLine(LineKey{
			ProductID:  q.ProductID,
			CategoryID: q.CategoryID,
			LocationID: q.LocationID,
			LotID:      q.LotID,
			PackageID:  q.PackageID,
		}, q.Quantity))
	}
	return lines, nil
}

// hydrate loads unit costs and KPI percents for every line and recomputes the sessions.
func (s *Service) hydrate(ctx context.Context, sessions ...*Session) error {
	if s.catalog == nil {
		return nil
	}
	productSet := map[int64]struct{}{}
	categorySet := map[int64]struct{}{}
	for _, sess := range sessions {
		for _, l := range sess.lines {
			productSet[l.ProductID] = struct{}{}
			if l.CategoryID > 0 {
				categorySet[l.CategoryID] = struct{}{}
			}
		}
	}
	if len(productSet) == 0 {
		return nil
	}

	var costs, kpis map[int64]decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		costs, err = s.catalog.UnitCosts(gctx, keys(productSet))
		return err
	})
	g.Go(func() error {
		var err error
		kpis, err = s.catalog.CategoryKPIs(gctx, keys(categorySet))
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stockcount: load pricing: %w", err)
	}
	for _, sess := range sessions {
		sess.applyPricing(costs, kpis)
		t := sess.Totals()
		s.logger.Debug("stock count recomputed",
			slog.Int64("session_id", sess.ID),
			slog.String("state", string(sess.State())),
			slog.Int("lines", t.LineCount),
			slog.String("qty_delta", t.QtyDelta.String()),
			slog.String("value_net", t.DiffValueNet.String()))
	}
	return nil
}

func (s *Service) lockVisible(ctx context.Context, tx TxRepository, id int64, vis Visibility) (*Session, error) {
	sess, err := tx.LockSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !vis.Allows(sess) {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Service) visibility(ctx context.Context, actorID int64) (Visibility, error) {
	if actorID <= 0 {
		return Visibility{}, ErrUnauthenticated
	}
	viewer := Viewer{UserID: actorID}
	if s.auth != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			viewer.SystemAdmin, err = s.auth.IsSystemAdmin(gctx, actorID)
			return err
		})
		g.Go(func() error {
			var err error
			viewer.InventoryManager, err = s.auth.IsInventoryManager(gctx, actorID)
			return err
		})
		if err := g.Wait(); err != nil {
			return Visibility{}, fmt.Errorf("stockcount: resolve viewer: %w", err)
		}
	}
	return EffectiveVisibility(viewer), nil
}

func (s *Service) validateHeader(ctx context.Context, sess *Session) error {
	if len(sess.Name) > 128 {
		return invalid("name", "must be at most 128 characters")
	}
	if !sess.Filter.Valid() {
		return invalid("filter", fmt.Sprintf("unknown filter %q", sess.Filter))
	}
	if sess.WarehouseID < 0 {
		return invalid("warehouse_id", "must be positive")
	}
	if sess.WarehouseID > 0 {
		if _, err := s.locations.Warehouse(ctx, sess.WarehouseID); err != nil {
			if errors.Is(err, httpx.ErrNotFound) {
				return invalid("warehouse_id", "unknown warehouse")
			}
			return err
		}
	}
	if sess.LocationID == nil {
		return nil
	}
	if sess.WarehouseID == 0 {
		return invalid("warehouse_id", "is required when a location is set")
	}
	warehouseID, err := s.locations.LocationWarehouse(ctx, *sess.LocationID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return invalid("location_id", "unknown location")
		}
		return err
	}
	if warehouseID != sess.WarehouseID {
		return invalid("location_id", "location must belong to the selected warehouse")
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, sess *Session, meta map[string]any) {
	if s.audit == nil || sess == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   Module,
		EntityID: strconv.FormatInt(sess.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("stock count audit", slog.String("action", action), slog.Int64("session_id", sess.ID), slog.Any("error", err))
	}
}

func positiveOrNil(id *int64) *int64 {
	if id == nil || *id <= 0 {
		return nil
	}
	v := *id
	return &v
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

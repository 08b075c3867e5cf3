package stockcount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcount/internal/platform/db"
	"github.com/odyssey-erp/stockcount/internal/shared"
)

// Repository persists count sessions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

const sessionColumns = `s.id, s.name, s.state, COALESCE(s.warehouse_id, 0), s.location_id, s.filter, s.owner_id,
s.finance_manager_id, COALESCE((SELECT array_agg(a.user_id ORDER BY a.user_id) FROM stock_count_attendees a WHERE a.session_id = s.id), '{}'),
s.effective_date, s.started_at, s.ended_at, s.reviewed_at, s.approved_at, s.rejected_at,
s.rejection_reason, s.note, s.created_at`

const lineColumns = `id, session_id, product_id, category_id, location_id, lot_id, package_id,
qty_system, qty_counted, qty_review_counted, barcode, scanned_by, scanned_at, note`

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetSession loads a session with its lines when the visibility filter admits it.
func (r *Repository) GetSession(ctx context.Context, id int64, vis Visibility) (*Session, error) {
	args := []any{id}
	sql := `SELECT ` + sessionColumns + ` FROM stock_count_sessions s WHERE s.id = $1` + visibilityClause(vis, &args)
	sess, err := scanSession(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, err
	}
	if err := loadLines(ctx, r.pool, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns one page of visible sessions, newest first, and the total count.
func (r *Repository) ListSessions(ctx context.Context, filter ListFilter, vis Visibility) ([]*Session, int, error) {
	args := []any{}
	where := ` WHERE 1=1`
	if filter.State != "" {
		args = append(args, string(filter.State))
		where += fmt.Sprintf(` AND s.state = $%d`, len(args))
	}
	where += visibilityClause(vis, &args)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_count_sessions s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	sql := `SELECT ` + sessionColumns + ` FROM stock_count_sessions s` + where +
		fmt.Sprintf(` ORDER BY s.created_at DESC, s.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*Session
	byID := map[int64]*Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, sess)
		byID[sess.ID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(sessions) == 0 {
		return sessions, total, nil
	}

	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	lineRows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM stock_count_lines WHERE session_id = ANY($1) ORDER BY session_id, id`, ids)
	if err != nil {
		return nil, 0, err
	}
	defer lineRows.Close()
	grouped := map[int64][]*Line{}
	for lineRows.Next() {
		l, err := scanLine(lineRows)
		if err != nil {
			return nil, 0, err
		}
		grouped[l.SessionID] = append(grouped[l.SessionID], l)
	}
	if err := lineRows.Err(); err != nil {
		return nil, 0, err
	}
	for id, lines := range grouped {
		byID[id].setLines(lines)
	}
	return sessions, total, nil
}

// MarkActivityNotified stamps a follow-up activity as delivered.
func (r *Repository) MarkActivityNotified(ctx context.Context, activityID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_count_activities SET notified_at = $2 WHERE id = $1 AND notified_at IS NULL`, activityID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrActivityHandled
	}
	return nil
}

// PendingActivities lists follow-ups created before the cutoff that were never delivered, oldest first.
func (r *Repository) PendingActivities(ctx context.Context, createdBefore time.Time, limit int) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, user_id, summary, note, due_at
FROM stock_count_activities
WHERE notified_at IS NULL AND created_at < $1
ORDER BY id
LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.Summary, &a.Note, &a.DueAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ErrActivityHandled indicates the activity is missing or was already delivered.
var ErrActivityHandled = errors.New("stockcount: activity already notified")

func (t *txRepo) CreateSession(ctx context.Context, s *Session) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_count_sessions
(name, state, warehouse_id, location_id, filter, owner_id, finance_manager_id, effective_date, started_at, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
RETURNING id`,
		s.Name, string(s.state), nullableID(s.WarehouseID), s.LocationID, string(s.Filter), s.OwnerID,
		s.FinanceManagerID, s.EffectiveDate, s.StartedAt, s.Note, s.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	if err := t.replaceAttendees(ctx, id, s.AttendeeIDs); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txRepo) LockSession(ctx context.Context, id int64) (*Session, error) {
	sess, err := scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stock_count_sessions s WHERE s.id = $1 FOR UPDATE OF s`, id))
	if err != nil {
		return nil, err
	}
	if err := loadLines(ctx, t.tx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (t *txRepo) UpdateSession(ctx context.Context, s *Session) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_count_sessions SET
name = $2, state = $3, warehouse_id = $4, location_id = $5, filter = $6, finance_manager_id = $7,
effective_date = $8, ended_at = $9, reviewed_at = $10, approved_at = $11, rejected_at = $12,
rejection_reason = $13, note = $14, updated_at = NOW()
WHERE id = $1`,
		s.ID, s.Name, string(s.state), nullableID(s.WarehouseID), s.LocationID, string(s.Filter), s.FinanceManagerID,
		s.EffectiveDate, s.EndedAt, s.ReviewedAt, s.ApprovedAt, s.RejectedAt, s.RejectionReason, s.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return t.replaceAttendees(ctx, s.ID, s.AttendeeIDs)
}

func (t *txRepo) DeleteSession(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM stock_count_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ReplaceLines(ctx context.Context, sessionID int64, lines []*Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM stock_count_lines WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	for _, l := range lines {
		err := t.tx.QueryRow(ctx, `INSERT INTO stock_count_lines
(session_id, product_id, category_id, location_id, lot_id, package_id, qty_system, qty_counted, qty_review_counted, barcode, scanned_by, scanned_at, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`,
			sessionID, l.ProductID, nullableID(l.CategoryID), l.LocationID, l.LotID, l.PackageID,
			l.qtySystem, l.qtyCounted, l.qtyReviewCounted, l.Barcode, l.ScannedBy, l.ScannedAt, l.Note).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("insert line product %d: %w", l.ProductID, err)
		}
		l.SessionID = sessionID
	}
	return nil
}

func (t *txRepo) SaveLines(ctx context.Context, lines []*Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`UPDATE stock_count_lines SET qty_counted = $3, qty_review_counted = $4,
barcode = $5, scanned_by = $6, scanned_at = $7, note = $8
WHERE id = $1 AND session_id = $2`,
			l.ID, l.SessionID, l.qtyCounted, l.qtyReviewCounted, l.Barcode, l.ScannedBy, l.ScannedAt, l.Note)
	}
	results := t.tx.SendBatch(ctx, batch)
	for range lines {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = results.Close()
			return ErrLineNotFound
		}
	}
	return results.Close()
}

func (t *txRepo) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return shared.InsertApproval(ctx, t.tx, log)
}

func (t *txRepo) ScheduleActivity(ctx context.Context, a Activity) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_count_activities (session_id, user_id, summary, note, due_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, a.SessionID, a.UserID, a.Summary, a.Note, a.DueAt).Scan(&id)
	return id, err
}

func (t *txRepo) replaceAttendees(ctx context.Context, sessionID int64, userIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM stock_count_attendees WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_count_attendees (session_id, user_id)
SELECT $1, UNNEST($2::bigint[]) ON CONFLICT DO NOTHING`, sessionID, userIDs)
	return err
}

// visibilityClause appends the owner-or-attendee predicate for restricted viewers.
func visibilityClause(vis Visibility, args *[]any) string {
	if vis.Unrestricted {
		return ""
	}
	*args = append(*args, vis.UserID)
	n := len(*args)
	return fmt.Sprintf(` AND (s.owner_id = $%d OR EXISTS (SELECT 1 FROM stock_count_attendees va WHERE va.session_id = s.id AND va.user_id = $%d))`, n, n)
}

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	var state, filter string
	err := row.Scan(&s.ID, &s.Name, &state, &s.WarehouseID, &s.LocationID, &filter, &s.OwnerID,
		&s.FinanceManagerID, &s.AttendeeIDs, &s.EffectiveDate, &s.StartedAt, &s.EndedAt, &s.ReviewedAt,
		&s.ApprovedAt, &s.RejectedAt, &s.RejectionReason, &s.Note, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.state = State(state)
	s.Filter = FilterMode(filter)
	return s, nil
}

func scanLine(row pgx.Row) (*Line, error) {
	l := &Line{}
	var categoryID *int64
	var system, counted, review decimal.Decimal
	err := row.Scan(&l.ID, &l.SessionID, &l.ProductID, &categoryID, &l.LocationID, &l.LotID, &l.PackageID,
		&system, &counted, &review, &l.Barcode, &l.ScannedBy, &l.ScannedAt, &l.Note)
	if err != nil {
		return nil, err
	}
	if categoryID != nil {
		l.CategoryID = *categoryID
	}
	l.qtySystem = system
	l.qtyCounted = counted
	l.qtyReviewCounted = review
	return l, nil
}

func loadLines(ctx context.Context, q db.Querier, sess *Session) error {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM stock_count_lines WHERE session_id = $1 ORDER BY id`, sess.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	var lines []*Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	sess.setLines(lines)
	return nil
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

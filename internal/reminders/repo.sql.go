package reminders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallybook/tallybook/internal/shared"
)

// Repository persists reminders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const reminderColumns = `id, credit_record_id, customer_id, shopkeeper_id, message, scheduled_date, sent, sent_date, batch_ref, created_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var rem Reminder
	err := row.Scan(&rem.ID, &rem.CreditRecordID, &rem.CustomerID, &rem.ShopkeeperID,
		&rem.Message, &rem.ScheduledDate, &rem.Sent, &rem.SentDate, &rem.BatchRef, &rem.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, shared.Storage("reminders: scan reminder", err)
	}
	return &rem, nil
}

func (r *Repository) CreateReminder(ctx context.Context, rem Reminder) (*Reminder, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO reminders
(credit_record_id, customer_id, shopkeeper_id, message, scheduled_date, sent, sent_date, batch_ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
RETURNING `+reminderColumns,
		rem.CreditRecordID, rem.CustomerID, rem.ShopkeeperID, rem.Message,
		rem.ScheduledDate, rem.Sent, rem.SentDate, rem.BatchRef)
	return scanReminder(row)
}

func (r *Repository) CreateBatch(ctx context.Context, rems []Reminder) ([]Reminder, error) {
	out := make([]Reminder, 0, len(rems))
	for _, rem := range rems {
		created, err := r.CreateReminder(ctx, rem)
		if err != nil {
			return nil, err
		}
		out = append(out, *created)
	}
	return out, nil
}

func (r *Repository) GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id=$1`, id)
	return scanReminder(row)
}

func (r *Repository) UpdateSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE reminders SET sent=TRUE, sent_date=$2 WHERE id=$1 AND sent=FALSE`, id, at)
	if err != nil {
		return false, shared.Storage("reminders: update sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListByActor(ctx context.Context, actor shared.Actor) ([]Reminder, error) {
	column := "customer_id"
	if actor.Role == shared.RoleShopkeeper {
		column = "shopkeeper_id"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+reminderColumns+` FROM reminders
WHERE `+column+`=$1 ORDER BY created_at DESC`, actor.ID)
	if err != nil {
		return nil, shared.Storage("reminders: list by actor", err)
	}
	defer rows.Close()
	out := []Reminder{}
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rem)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("reminders: list by actor", err)
	}
	return out, nil
}

func (r *Repository) CreditOwnership(ctx context.Context, creditRecordID int64) (shared.Ownership, error) {
	var own shared.Ownership
	err := r.pool.QueryRow(ctx, `SELECT customer_id, shopkeeper_id FROM credit_records WHERE id=$1`, creditRecordID).
		Scan(&own.CustomerID, &own.ShopkeeperID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Ownership{}, shared.ErrNotFound
		}
		return shared.Ownership{}, shared.Storage("reminders: credit ownership", err)
	}
	return own, nil
}

// ListOverdueNeedingReminder keeps the dedupe rule in SQL: a record is skipped
// when a reminder already exists created at or after its latest payment (or
// its creation, when no payment was ever made).
func (r *Repository) ListOverdueNeedingReminder(ctx context.Context, shopkeeperID int64, today time.Time) ([]OverdueCredit, error) {
	query := `SELECT cr.id, cr.customer_id, cr.shopkeeper_id, cr.remaining_amount, cr.due_date
FROM credit_records cr
WHERE cr.remaining_amount > 0
  AND cr.due_date < $1::date
  AND NOT EXISTS (
    SELECT 1 FROM reminders rem
    WHERE rem.credit_record_id = cr.id
      AND rem.created_at >= COALESCE(
        (SELECT MAX(p.payment_date) FROM payments p WHERE p.credit_record_id = cr.id),
        cr.created_at)
  )`
	args := []any{today}
	if shopkeeperID != 0 {
		query += ` AND cr.shopkeeper_id = $2`
		args = append(args, shopkeeperID)
	}
	query += ` ORDER BY cr.due_date`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Storage("reminders: list overdue", err)
	}
	defer rows.Close()
	out := []OverdueCredit{}
	for rows.Next() {
		var oc OverdueCredit
		if err := rows.Scan(&oc.CreditRecordID, &oc.CustomerID, &oc.ShopkeeperID, &oc.Remaining, &oc.DueDate); err != nil {
			return nil, shared.Storage("reminders: scan overdue", err)
		}
		out = append(out, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("reminders: list overdue", err)
	}
	return out, nil
}

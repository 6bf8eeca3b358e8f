package credit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/shared"
)

// Repository persists credit records and payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const creditColumns = `id, customer_id, shopkeeper_id, total_amount, paid_amount, remaining_amount, due_date, status, created_at, updated_at`

func scanCreditRecord(row pgx.Row) (*CreditRecord, error) {
	var rec CreditRecord
	err := row.Scan(&rec.ID, &rec.CustomerID, &rec.ShopkeeperID, &rec.TotalAmount, &rec.PaidAmount,
		&rec.RemainingAmount, &rec.DueDate, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, shared.Storage("credit: scan record", err)
	}
	return &rec, nil
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("credit repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return shared.Storage("credit: begin tx", err)
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return shared.Storage("credit: commit tx", err)
	}
	return nil
}

// CreateCreditRecord inserts a new credit record with its derived fields
// already computed by the service.
func (r *Repository) CreateCreditRecord(ctx context.Context, rec CreditRecord) (*CreditRecord, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO credit_records
(customer_id, shopkeeper_id, total_amount, paid_amount, remaining_amount, due_date, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
RETURNING `+creditColumns,
		rec.CustomerID, rec.ShopkeeperID, rec.TotalAmount, rec.PaidAmount, rec.RemainingAmount, rec.DueDate, string(rec.Status))
	return scanCreditRecord(row)
}

// GetCreditRecord fetches one record by id.
func (r *Repository) GetCreditRecord(ctx context.Context, id int64) (*CreditRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+creditColumns+` FROM credit_records WHERE id=$1`, id)
	return scanCreditRecord(row)
}

// ListByActor returns the actor's records, newest first, optionally filtered
// by the persisted status column. Status-sensitive decisions must not rely on
// this filter; see ListOverdueByActor.
func (r *Repository) ListByActor(ctx context.Context, actor shared.Actor, status *Status) ([]CreditRecord, error) {
	query := `SELECT ` + creditColumns + ` FROM credit_records WHERE ` + actorColumn(actor) + `=$1`
	args := []any{actor.ID}
	if status != nil {
		query += ` AND status=$2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`
	return r.queryRecords(ctx, query, args...)
}

// ListOverdueByActor computes overdueness at read time from the remaining
// amount and due date rather than trusting the cached status column.
func (r *Repository) ListOverdueByActor(ctx context.Context, actor shared.Actor, today time.Time) ([]CreditRecord, error) {
	query := `SELECT ` + creditColumns + ` FROM credit_records
WHERE ` + actorColumn(actor) + `=$1 AND remaining_amount > 0 AND due_date < $2
ORDER BY due_date ASC, created_at DESC`
	return r.queryRecords(ctx, query, actor.ID, DateOnly(today))
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]CreditRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Storage("credit: query records", err)
	}
	defer rows.Close()
	records := []CreditRecord{}
	for rows.Next() {
		rec, err := scanCreditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("credit: query records", err)
	}
	return records, nil
}

const paymentColumns = `id, credit_record_id, amount, method, notes, payment_date`

// ListPayments returns a record's payments newest first.
func (r *Repository) ListPayments(ctx context.Context, creditRecordID int64) ([]Payment, error) {
	return r.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE credit_record_id=$1 ORDER BY payment_date DESC, id DESC`, creditRecordID)
}

// ListPaymentsByActor returns payments across all records the actor owns a side of.
func (r *Repository) ListPaymentsByActor(ctx context.Context, actor shared.Actor) ([]Payment, error) {
	return r.queryPayments(ctx, `SELECT p.`+paymentColumnsPrefixed("p")+` FROM payments p
JOIN credit_records c ON c.id = p.credit_record_id
WHERE c.`+actorColumn(actor)+`=$1
ORDER BY p.payment_date DESC, p.id DESC`, actor.ID)
}

func (r *Repository) queryPayments(ctx context.Context, query string, args ...any) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Storage("credit: query payments", err)
	}
	defer rows.Close()
	payments := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.CreditRecordID, &p.Amount, &p.Method, &p.Notes, &p.PaymentDate); err != nil {
			return nil, shared.Storage("credit: scan payment", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("credit: query payments", err)
	}
	return payments, nil
}

// RefreshStaleStatuses rewrites the cached status column for pending records
// whose due date has silently passed. Returns the number of rows touched.
func (r *Repository) RefreshStaleStatuses(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE credit_records
SET status=$1, updated_at=NOW()
WHERE status=$2 AND remaining_amount > 0 AND due_date < $3`,
		string(StatusOverdue), string(StatusPending), DateOnly(today))
	if err != nil {
		return 0, shared.Storage("credit: refresh stale statuses", err)
	}
	return tag.RowsAffected(), nil
}

// SummarizeShopkeeper aggregates outstanding exposure, computing overdueness
// at read time.
func (r *Repository) SummarizeShopkeeper(ctx context.Context, shopkeeperID int64, today time.Time) (Summary, error) {
	summary := Summary{ShopkeeperID: shopkeeperID}
	err := r.pool.QueryRow(ctx, `SELECT
COUNT(*) FILTER (WHERE remaining_amount > 0),
COUNT(*) FILTER (WHERE remaining_amount > 0 AND due_date < $2),
COALESCE(SUM(remaining_amount) FILTER (WHERE remaining_amount > 0), 0),
COALESCE(SUM(remaining_amount) FILTER (WHERE remaining_amount > 0 AND due_date < $2), 0)
FROM credit_records WHERE shopkeeper_id=$1`, shopkeeperID, DateOnly(today)).
		Scan(&summary.OpenRecords, &summary.OverdueRecords, &summary.TotalOutstanding, &summary.TotalOverdue)
	if err != nil {
		return Summary{}, shared.Storage("credit: summarize shopkeeper", err)
	}
	return summary, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetCreditRecordForUpdate(ctx context.Context, id int64) (*CreditRecord, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+creditColumns+` FROM credit_records WHERE id=$1 FOR UPDATE`, id)
	return scanCreditRecord(row)
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (*Payment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payments (credit_record_id, amount, method, notes, payment_date)
VALUES ($1,$2,$3,$4,$5) RETURNING `+paymentColumns,
		p.CreditRecordID, p.Amount, string(p.Method), p.Notes, p.PaymentDate)
	var out Payment
	if err := row.Scan(&out.ID, &out.CreditRecordID, &out.Amount, &out.Method, &out.Notes, &out.PaymentDate); err != nil {
		return nil, shared.Storage("credit: insert payment", err)
	}
	return &out, nil
}

func (r *txRepository) SumPayments(ctx context.Context, creditRecordID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE credit_record_id=$1`, creditRecordID).Scan(&sum)
	if err != nil {
		return decimal.Zero, shared.Storage("credit: sum payments", err)
	}
	return sum, nil
}

func (r *txRepository) UpdateDerived(ctx context.Context, id int64, paid, remaining decimal.Decimal, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE credit_records
SET paid_amount=$2, remaining_amount=$3, status=$4, updated_at=NOW() WHERE id=$1`,
		id, paid, remaining, string(status))
	if err != nil {
		return shared.Storage("credit: update derived", err)
	}
	return nil
}

func actorColumn(actor shared.Actor) string {
	if actor.Role == shared.RoleShopkeeper {
		return "shopkeeper_id"
	}
	return "customer_id"
}

func paymentColumnsPrefixed(alias string) string {
	return `id, ` + alias + `.credit_record_id, ` + alias + `.amount, ` + alias + `.method, ` + alias + `.notes, ` + alias + `.payment_date`
}

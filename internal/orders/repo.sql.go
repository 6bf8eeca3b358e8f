package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallybook/tallybook/internal/shared"
)

// Repository persists orders and order items in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, customer_id, shopkeeper_id, total_amount, status, payment_status, notes, order_date, delivery_date, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.ShopkeeperID, &o.TotalAmount, &o.Status,
		&o.PaymentStatus, &o.Notes, &o.OrderDate, &o.DeliveryDate, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, shared.Storage("orders: scan order", err)
	}
	return &o, nil
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("orders repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return shared.Storage("orders: begin tx", err)
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return shared.Storage("orders: commit tx", err)
	}
	return nil
}

// GetOrder fetches one order by id.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

// ListItems returns an order's items in insertion order.
func (r *Repository) ListItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, product_name, quantity, price, total_price
FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, shared.Storage("orders: list items", err)
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.TotalPrice); err != nil {
			return nil, shared.Storage("orders: scan item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("orders: list items", err)
	}
	return items, nil
}

// ListByActor returns the actor's orders, newest first.
func (r *Repository) ListByActor(ctx context.Context, actor shared.Actor, status *Status) ([]Order, error) {
	column := "customer_id"
	if actor.Role == shared.RoleShopkeeper {
		column = "shopkeeper_id"
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + `=$1`
	args := []any{actor.ID}
	if status != nil {
		query += ` AND status=$2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY order_date DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Storage("orders: list by actor", err)
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("orders: list by actor", err)
	}
	return out, nil
}

type txRepository struct {
	tx pgx.Tx
}

// GetProductsForUpdate locks the product rows in ascending id order so
// concurrent orders touching overlapping products cannot deadlock.
func (r *txRepository) GetProductsForUpdate(ctx context.Context, ids []int64) (map[int64]ProductRow, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, shopkeeper_id, name, price, stock, is_active
FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, shared.Storage("orders: lock products", err)
	}
	defer rows.Close()
	products := make(map[int64]ProductRow, len(ids))
	for rows.Next() {
		var p ProductRow
		if err := rows.Scan(&p.ID, &p.ShopkeeperID, &p.Name, &p.Price, &p.Stock, &p.IsActive); err != nil {
			return nil, shared.Storage("orders: scan product", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("orders: lock products", err)
	}
	return products, nil
}

func (r *txRepository) DecrementStock(ctx context.Context, productID, quantity int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at=NOW()
WHERE id=$1 AND stock >= $2`, productID, quantity)
	if err != nil {
		return shared.Storage("orders: decrement stock", err)
	}
	// The row is already locked and validated; a miss here means the guard
	// clause raced something unexpected.
	if tag.RowsAffected() == 0 {
		return shared.ErrInsufficientStock
	}
	return nil
}

func (r *txRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO orders
(customer_id, shopkeeper_id, total_amount, status, payment_status, notes, order_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW(),NOW())
RETURNING `+orderColumns,
		order.CustomerID, order.ShopkeeperID, order.TotalAmount, string(order.Status), string(order.PaymentStatus), order.Notes)
	return scanOrder(row)
}

func (r *txRepository) InsertItems(ctx context.Context, orderID int64, items []OrderItem) ([]OrderItem, error) {
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		var inserted OrderItem
		err := r.tx.QueryRow(ctx, `INSERT INTO order_items
(order_id, product_id, product_name, quantity, price, total_price)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, order_id, product_id, product_name, quantity, price, total_price`,
			orderID, it.ProductID, it.ProductName, it.Quantity, it.Price, it.TotalPrice).
			Scan(&inserted.ID, &inserted.OrderID, &inserted.ProductID, &inserted.ProductName,
				&inserted.Quantity, &inserted.Price, &inserted.TotalPrice)
		if err != nil {
			return nil, shared.Storage("orders: insert item", err)
		}
		out = append(out, inserted)
	}
	return out, nil
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
	return scanOrder(row)
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, deliveredAt bool) error {
	var err error
	if deliveredAt {
		_, err = r.tx.Exec(ctx, `UPDATE orders SET status=$2, delivery_date=NOW(), updated_at=NOW() WHERE id=$1`, id, string(status))
	} else {
		_, err = r.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	}
	if err != nil {
		return shared.Storage("orders: update status", err)
	}
	return nil
}

func (r *txRepository) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET payment_status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return shared.Storage("orders: update payment status", err)
	}
	return nil
}

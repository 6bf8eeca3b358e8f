package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallybook/tallybook/internal/shared"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, shopkeeper_id, name, description, price, category, stock, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.ShopkeeperID, &p.Name, &p.Description, &p.Price,
		&p.Category, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, shared.Storage("catalog: scan product", err)
	}
	return &p, nil
}

// CreateProduct inserts a product.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (*Product, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO products
(shopkeeper_id, name, description, price, category, stock, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,NOW(),NOW())
RETURNING `+productColumns,
		p.ShopkeeperID, p.Name, p.Description, p.Price, string(p.Category), p.Stock)
	return scanProduct(row)
}

// GetProduct fetches one product by id, active or not.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	return scanProduct(row)
}

// UpdateProduct rewrites the writable fields.
func (r *Repository) UpdateProduct(ctx context.Context, p Product) (*Product, error) {
	row := r.pool.QueryRow(ctx, `UPDATE products
SET name=$2, description=$3, price=$4, category=$5, stock=$6, updated_at=NOW()
WHERE id=$1
RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.Price, string(p.Category), p.Stock)
	return scanProduct(row)
}

// DeactivateProduct soft-deletes a product. The row is never removed while
// historical order items reference it.
func (r *Repository) DeactivateProduct(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET is_active=FALSE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return shared.Storage("catalog: deactivate product", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListProducts returns products matching the filter, newest first.
func (r *Repository) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := []any{}
	argNum := 1
	if filter.ShopkeeperID > 0 {
		query += fmt.Sprintf(" AND shopkeeper_id=$%d", argNum)
		args = append(args, filter.ShopkeeperID)
		argNum++
	}
	if filter.Category != nil {
		query += fmt.Sprintf(" AND category=$%d", argNum)
		args = append(args, string(*filter.Category))
		argNum++
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Storage("catalog: list products", err)
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("catalog: list products", err)
	}
	return products, nil
}

package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/shared"
)

// ProductRow is the slice of a product the order engine needs: enough to
// validate availability and snapshot pricing.
type ProductRow struct {
	ID           int64
	ShopkeeperID int64
	Name         string
	Price        decimal.Decimal
	Stock        int64
	IsActive     bool
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	ListByActor(ctx context.Context, actor shared.Actor, status *Status) ([]Order, error)
}

// TxRepository exposes transactional operations used by the service. Product
// rows are locked so validation-then-decrement serializes per product.
type TxRepository interface {
	GetProductsForUpdate(ctx context.Context, ids []int64) (map[int64]ProductRow, error)
	DecrementStock(ctx context.Context, productID, quantity int64) error
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	InsertItems(ctx context.Context, orderID int64, items []OrderItem) ([]OrderItem, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status, deliveredAt bool) error
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus) error
}

package catalog

import "context"

// RepositoryPort abstracts product persistence for the service.
type RepositoryPort interface {
	CreateProduct(ctx context.Context, p Product) (*Product, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	UpdateProduct(ctx context.Context, p Product) (*Product, error)
	DeactivateProduct(ctx context.Context, id int64) error
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, error)
}

package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/tallybook/tallybook/internal/shared"
)

// Service handles product catalog business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func validateInput(input ProductInput) error {
	if input.Name == "" {
		return errors.New("catalog: name required")
	}
	if input.Price.Sign() < 0 {
		return fmt.Errorf("catalog: price must not be negative: %w", shared.ErrInvalidAmount)
	}
	if input.Stock < 0 {
		return fmt.Errorf("catalog: stock must not be negative: %w", shared.ErrInvalidAmount)
	}
	if input.Category == "" {
		input.Category = CategoryOther
	}
	if !input.Category.Valid() {
		return fmt.Errorf("catalog: unknown category %q", input.Category)
	}
	return nil
}

// CreateProduct creates a product owned by the acting shopkeeper.
func (s *Service) CreateProduct(ctx context.Context, actor shared.Actor, input ProductInput) (*Product, error) {
	if err := shared.Authorize(actor, shared.ActionManageProduct, shared.Ownership{ShopkeeperID: actor.ID}); err != nil {
		return nil, fmt.Errorf("catalog: create: %w", err)
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	category := input.Category
	if category == "" {
		category = CategoryOther
	}
	return s.repo.CreateProduct(ctx, Product{
		ShopkeeperID: actor.ID,
		Name:         input.Name,
		Description:  input.Description,
		Price:        input.Price,
		Category:     category,
		Stock:        input.Stock,
		IsActive:     true,
	})
}

// UpdateProduct rewrites a product the actor owns.
func (s *Service) UpdateProduct(ctx context.Context, actor shared.Actor, id int64, input ProductInput) (*Product, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := shared.Authorize(actor, shared.ActionManageProduct, shared.Ownership{ShopkeeperID: existing.ShopkeeperID}); err != nil {
		return nil, fmt.Errorf("catalog: update: %w", err)
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	existing.Name = input.Name
	existing.Description = input.Description
	existing.Price = input.Price
	if input.Category != "" {
		existing.Category = input.Category
	}
	existing.Stock = input.Stock
	return s.repo.UpdateProduct(ctx, *existing)
}

// DeactivateProduct soft-deletes a product the actor owns.
func (s *Service) DeactivateProduct(ctx context.Context, actor shared.Actor, id int64) error {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if err := shared.Authorize(actor, shared.ActionManageProduct, shared.Ownership{ShopkeeperID: existing.ShopkeeperID}); err != nil {
		return fmt.Errorf("catalog: deactivate: %w", err)
	}
	return s.repo.DeactivateProduct(ctx, id)
}

// GetProduct fetches one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts returns products matching the filter.
func (s *Service) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	if filter.Category != nil && !filter.Category.Valid() {
		return nil, fmt.Errorf("catalog: unknown category %q", *filter.Category)
	}
	return s.repo.ListProducts(ctx, filter)
}

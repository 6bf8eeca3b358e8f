package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category enumerates the product categories.
type Category string

const (
	CategoryGroceries  Category = "groceries"
	CategoryDairy      Category = "dairy"
	CategoryBakery     Category = "bakery"
	CategoryVegetables Category = "vegetables"
	CategoryFruits     Category = "fruits"
	CategoryBeverages  Category = "beverages"
	CategorySnacks     Category = "snacks"
	CategoryOther      Category = "other"
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryGroceries, CategoryDairy, CategoryBakery, CategoryVegetables,
		CategoryFruits, CategoryBeverages, CategorySnacks, CategoryOther:
		return true
	}
	return false
}

// Product model. Stock is mutated only by order placement; deactivation is a
// soft delete so historical order items keep a resolvable reference.
type Product struct {
	ID           int64
	ShopkeeperID int64
	Name         string
	Description  string
	Price        decimal.Decimal
	Category     Category
	Stock        int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProductInput carries the writable product fields.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    Category
	Stock       int64
}

// ListFilter narrows product listings.
type ListFilter struct {
	ShopkeeperID int64
	Category     *Category
	ActiveOnly   bool
}

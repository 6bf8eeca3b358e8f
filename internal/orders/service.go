package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/shared"
)

// ErrMixedShopkeepers is returned when one order references products from
// more than one shop.
var ErrMixedShopkeepers = errors.New("order lines span multiple shopkeepers")

// Service implements the order engine.
type Service struct {
	repo RepositoryPort
}

// NewService constructs Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// PlaceOrder validates every requested line against live stock and, only if
// all lines pass, decrements stock and creates the order — atomically. Product
// name and unit price are frozen into the line items at this point.
func (s *Service) PlaceOrder(ctx context.Context, actor shared.Actor, lines []LineRequest, notes string) (*Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order needs at least one line", shared.ErrInvalidAmount)
	}
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", shared.ErrInvalidAmount)
		}
		if _, dup := seen[line.ProductID]; dup {
			return nil, fmt.Errorf("%w: duplicate product %d", shared.ErrInvalidAmount, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}

	var placed *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		products, err := tx.GetProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}

		var shopkeeperID int64
		total := decimal.Zero
		items := make([]OrderItem, 0, len(lines))
		for _, line := range lines {
			product, ok := products[line.ProductID]
			if !ok || !product.IsActive {
				return fmt.Errorf("product %d: %w", line.ProductID, shared.ErrNotFound)
			}
			if shopkeeperID == 0 {
				shopkeeperID = product.ShopkeeperID
			} else if shopkeeperID != product.ShopkeeperID {
				return ErrMixedShopkeepers
			}
			if product.Stock < line.Quantity {
				return fmt.Errorf("product %d: %w", line.ProductID, shared.ErrInsufficientStock)
			}
			lineTotal := product.Price.Mul(decimal.NewFromInt(line.Quantity))
			total = total.Add(lineTotal)
			items = append(items, OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				Price:       product.Price,
				TotalPrice:  lineTotal,
			})
		}

		if err := shared.Authorize(actor, shared.ActionPlaceOrder, shared.Ownership{CustomerID: actor.ID, ShopkeeperID: shopkeeperID}); err != nil {
			return err
		}

		// All lines validated against locked rows; only now touch stock.
		for _, line := range lines {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		order, err := tx.InsertOrder(ctx, Order{
			CustomerID:    actor.ID,
			ShopkeeperID:  shopkeeperID,
			TotalAmount:   total,
			Status:        StatusPending,
			PaymentStatus: PaymentUnpaid,
			Notes:         notes,
		})
		if err != nil {
			return err
		}
		order.Items, err = tx.InsertItems(ctx, order.ID, items)
		if err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// ConfirmOrder moves a pending order to confirmed. Shopkeeper only.
func (s *Service) ConfirmOrder(ctx context.Context, actor shared.Actor, orderID int64) (*Order, error) {
	return s.transition(ctx, actor, orderID, shared.ActionConfirmOrder, StatusConfirmed, false)
}

// DeliverOrder moves a confirmed order to delivered and stamps the delivery
// date. Shopkeeper only.
func (s *Service) DeliverOrder(ctx context.Context, actor shared.Actor, orderID int64) (*Order, error) {
	return s.transition(ctx, actor, orderID, shared.ActionDeliverOrder, StatusDelivered, true)
}

// CancelOrder cancels a pending or confirmed order. Either party may cancel.
// Stock consumed by the order is not returned.
func (s *Service) CancelOrder(ctx context.Context, actor shared.Actor, orderID int64) (*Order, error) {
	return s.transition(ctx, actor, orderID, shared.ActionCancelOrder, StatusCancelled, false)
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, orderID int64, action shared.Action, to Status, deliveredAt bool) (*Order, error) {
	var updated *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := shared.Authorize(actor, action, shared.Ownership{CustomerID: order.CustomerID, ShopkeeperID: order.ShopkeeperID}); err != nil {
			return err
		}
		if !CanTransition(order.Status, to) {
			return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, order.Status, to)
		}
		if err := tx.UpdateStatus(ctx, orderID, to, deliveredAt); err != nil {
			return err
		}
		updated, err = tx.GetOrderForUpdate(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	updated.Items, err = s.repo.ListItems(ctx, updated.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetPaymentStatus updates the payment marker on an order. Shopkeeper only.
func (s *Service) SetPaymentStatus(ctx context.Context, actor shared.Actor, orderID int64, status PaymentStatus) (*Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", shared.ErrInvalidAmount, status)
	}
	var updated *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := shared.Authorize(actor, shared.ActionSetOrderPayment, shared.Ownership{CustomerID: order.CustomerID, ShopkeeperID: order.ShopkeeperID}); err != nil {
			return err
		}
		if err := tx.UpdatePaymentStatus(ctx, orderID, status); err != nil {
			return err
		}
		updated, err = tx.GetOrderForUpdate(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	updated.Items, err = s.repo.ListItems(ctx, updated.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get returns an order with its items, visible only to its two parties.
func (s *Service) Get(ctx context.Context, actor shared.Actor, orderID int64) (*Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := shared.Authorize(actor, shared.ActionViewOrder, shared.Ownership{CustomerID: order.CustomerID, ShopkeeperID: order.ShopkeeperID}); err != nil {
		return nil, err
	}
	order.Items, err = s.repo.ListItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// List returns the actor's own orders, optionally filtered by status.
func (s *Service) List(ctx context.Context, actor shared.Actor, status *Status) ([]Order, error) {
	return s.repo.ListByActor(ctx, actor, status)
}

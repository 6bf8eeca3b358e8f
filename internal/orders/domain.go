package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates order statuses.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus enumerates order payment statuses.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Valid reports whether the payment status is one of the known values.
func (p PaymentStatus) Valid() bool {
	return p == PaymentUnpaid || p == PaymentPartial || p == PaymentPaid
}

// transitions is the order status state machine. delivered and cancelled are
// terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusDelivered, StatusCancelled},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Order is an immutable historical record except for its status fields: the
// line items freeze product name and price at creation time.
type Order struct {
	ID            int64
	CustomerID    int64
	ShopkeeperID  int64
	TotalAmount   decimal.Decimal
	Status        Status
	PaymentStatus PaymentStatus
	Notes         string
	OrderDate     time.Time
	DeliveryDate  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Items         []OrderItem
}

// OrderItem snapshots a product's name and unit price at order time. The
// product reference is kept only for traceability, never for re-deriving
// price.
type OrderItem struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	ProductName string
	Quantity    int64
	Price       decimal.Decimal
	TotalPrice  decimal.Decimal
}

// LineRequest is one requested order line.
type LineRequest struct {
	ProductID int64
	Quantity  int64
}

package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates credit record statuses.
type Status string

const (
	StatusPending Status = "pending"
	StatusOverdue Status = "overdue"
	StatusPaid    Status = "paid"
)

// Method enumerates payment methods.
type Method string

const (
	MethodCash  Method = "cash"
	MethodCard  Method = "card"
	MethodUPI   Method = "upi"
	MethodOther Method = "other"
)

// Valid reports whether the method is one of the known values.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodOther:
		return true
	}
	return false
}

// CreditRecord is a running balance a shopkeeper extends to a customer.
// RemainingAmount and Status are derived; PaidAmount always equals the sum of
// the record's payments and never decreases.
type CreditRecord struct {
	ID              int64
	CustomerID      int64
	ShopkeeperID    int64
	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
	DueDate         time.Time
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Payments        []Payment
}

// Payment is an append-only record of money paid against a credit record.
type Payment struct {
	ID             int64
	CreditRecordID int64
	Amount         decimal.Decimal
	Method         Method
	Notes          string
	PaymentDate    time.Time
}

// Summary aggregates a shopkeeper's exposure across credit records.
type Summary struct {
	ShopkeeperID     int64           `json:"shopkeeper_id"`
	OpenRecords      int64           `json:"open_records"`
	OverdueRecords   int64           `json:"overdue_records"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	TotalOverdue     decimal.Decimal `json:"total_overdue"`
}

// DateOnly truncates a timestamp to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DeriveStatus computes the status as a pure function of the remaining amount,
// the due date and the evaluation time.
func DeriveStatus(remaining decimal.Decimal, dueDate, now time.Time) Status {
	if remaining.Sign() <= 0 {
		return StatusPaid
	}
	if DateOnly(dueDate).Before(DateOnly(now)) {
		return StatusOverdue
	}
	return StatusPending
}

// Refresh recomputes the derived fields of a record against now. It is pure:
// the input is not mutated and repeated application yields the same result.
// Used on every write and before any status-sensitive read, since a record
// untouched since creation may have crossed its due date without a write.
func Refresh(rec CreditRecord, now time.Time) CreditRecord {
	rec.RemainingAmount = rec.TotalAmount.Sub(rec.PaidAmount)
	rec.Status = DeriveStatus(rec.RemainingAmount, rec.DueDate, now)
	return rec
}

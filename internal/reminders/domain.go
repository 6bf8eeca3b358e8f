package reminders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reminder is a payment nudge attached to a credit record. Both owner ids
// are denormalized from the credit record at creation time so listing does
// not need a join.
type Reminder struct {
	ID             int64
	CreditRecordID int64
	CustomerID     int64
	ShopkeeperID   int64
	Message        string
	ScheduledDate  time.Time
	Sent           bool
	SentDate       *time.Time
	BatchRef       *uuid.UUID
	CreatedAt      time.Time
}

// OverdueCredit is the slice of a credit record the dispatcher needs to
// compose a reminder.
type OverdueCredit struct {
	CreditRecordID int64
	CustomerID     int64
	ShopkeeperID   int64
	Remaining      decimal.Decimal
	DueDate        time.Time
}

// OverdueMessage renders the standard reminder text for an overdue balance.
func OverdueMessage(remaining decimal.Decimal, dueDate time.Time) string {
	return fmt.Sprintf("Payment reminder: ₹%s is overdue for payment. Due date was %s.",
		remaining.StringFixed(2), dueDate.Format("2006-01-02"))
}

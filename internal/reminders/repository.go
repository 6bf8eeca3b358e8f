package reminders

import (
	"context"
	"time"

	"github.com/tallybook/tallybook/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	CreateReminder(ctx context.Context, rem Reminder) (*Reminder, error)
	CreateBatch(ctx context.Context, rems []Reminder) ([]Reminder, error)
	GetReminder(ctx context.Context, id int64) (*Reminder, error)
	// UpdateSent flips sent to true and stamps sent_date; reports whether a
	// previously-unsent row was updated.
	UpdateSent(ctx context.Context, id int64, at time.Time) (bool, error)
	ListByActor(ctx context.Context, actor shared.Actor) ([]Reminder, error)
	// CreditOwnership resolves the two owning parties of a credit record.
	CreditOwnership(ctx context.Context, creditRecordID int64) (shared.Ownership, error)
	// ListOverdueNeedingReminder returns overdue credit records (remaining > 0,
	// due before today) that have no reminder created at or after the record's
	// latest payment. shopkeeperID 0 means every shop.
	ListOverdueNeedingReminder(ctx context.Context, shopkeeperID int64, today time.Time) ([]OverdueCredit, error)
}

package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/credit"
	"github.com/tallybook/tallybook/internal/shared"
)

// Service implements the reminder scheduler.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	now    func() time.Time
}

// NewService constructs Service.
func NewService(logger *slog.Logger, repo RepositoryPort) *Service {
	return &Service{logger: logger, repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Schedule creates a manual, not-yet-sent reminder on a credit record the
// actor owns. The customer side is derived from the record, never supplied.
func (s *Service) Schedule(ctx context.Context, actor shared.Actor, creditRecordID int64, message string, scheduledDate time.Time) (*Reminder, error) {
	own, err := s.repo.CreditOwnership(ctx, creditRecordID)
	if err != nil {
		return nil, err
	}
	if err := shared.Authorize(actor, shared.ActionScheduleReminder, own); err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: reminder message is empty", shared.ErrInvalidAmount)
	}
	return s.repo.CreateReminder(ctx, Reminder{
		CreditRecordID: creditRecordID,
		CustomerID:     own.CustomerID,
		ShopkeeperID:   own.ShopkeeperID,
		Message:        message,
		ScheduledDate:  scheduledDate,
		Sent:           false,
	})
}

// DispatchOverdue sends one templated reminder for every overdue credit
// record that has not been reminded since its latest payment. shopkeeperID 0
// dispatches across all shops (background sweep). All reminders created by
// one run share a batch ref.
func (s *Service) DispatchOverdue(ctx context.Context, shopkeeperID int64) ([]Reminder, error) {
	now := s.now()
	// Overdue is a calendar-date comparison: a record due today is still
	// pending, exactly as the credit ledger classifies it.
	overdue, err := s.repo.ListOverdueNeedingReminder(ctx, shopkeeperID, credit.DateOnly(now))
	if err != nil {
		return nil, err
	}
	if len(overdue) == 0 {
		return []Reminder{}, nil
	}

	batch := uuid.New()
	rems := make([]Reminder, 0, len(overdue))
	for _, oc := range overdue {
		sentAt := now
		rems = append(rems, Reminder{
			CreditRecordID: oc.CreditRecordID,
			CustomerID:     oc.CustomerID,
			ShopkeeperID:   oc.ShopkeeperID,
			Message:        OverdueMessage(oc.Remaining, oc.DueDate),
			ScheduledDate:  now,
			Sent:           true,
			SentDate:       &sentAt,
			BatchRef:       &batch,
		})
	}
	created, err := s.repo.CreateBatch(ctx, rems)
	if err != nil {
		return nil, err
	}
	s.logger.Info("dispatched overdue reminders",
		slog.Int("count", len(created)),
		slog.Int64("shopkeeper_id", shopkeeperID),
		slog.String("batch_ref", batch.String()))
	return created, nil
}

// MarkSent flips a reminder to sent, once. Re-sending is an invalid
// transition.
func (s *Service) MarkSent(ctx context.Context, actor shared.Actor, reminderID int64) (*Reminder, error) {
	rem, err := s.repo.GetReminder(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	own := shared.Ownership{CustomerID: rem.CustomerID, ShopkeeperID: rem.ShopkeeperID}
	if err := shared.Authorize(actor, shared.ActionSendReminder, own); err != nil {
		return nil, err
	}
	if rem.Sent {
		return nil, fmt.Errorf("%w: reminder %d already sent", shared.ErrInvalidTransition, reminderID)
	}
	updated, err := s.repo.UpdateSent(ctx, reminderID, s.now())
	if err != nil {
		return nil, err
	}
	if !updated {
		// Raced another sender between the read and the guarded update.
		return nil, fmt.Errorf("%w: reminder %d already sent", shared.ErrInvalidTransition, reminderID)
	}
	return s.repo.GetReminder(ctx, reminderID)
}

// List returns the actor's reminders: own ones for a customer, reminders on
// owned credit records for a shopkeeper.
func (s *Service) List(ctx context.Context, actor shared.Actor) ([]Reminder, error) {
	return s.repo.ListByActor(ctx, actor)
}

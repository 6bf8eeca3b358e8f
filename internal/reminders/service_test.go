package reminders

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tallybook/tallybook/internal/credit"
	"github.com/tallybook/tallybook/internal/shared"
)

type creditRow struct {
	id           int64
	customerID   int64
	shopkeeperID int64
	remaining    decimal.Decimal
	dueDate      time.Time
	createdAt    time.Time
	lastPayment  *time.Time
}

type memoryReminderRepo struct {
	clock     func() time.Time
	credits   map[int64]*creditRow
	reminders map[int64]*Reminder
	nextID    int64
}

func newMemoryReminderRepo(clock func() time.Time) *memoryReminderRepo {
	return &memoryReminderRepo{
		clock:     clock,
		credits:   make(map[int64]*creditRow),
		reminders: make(map[int64]*Reminder),
	}
}

func (r *memoryReminderRepo) addCredit(c creditRow) {
	cp := c
	r.credits[c.id] = &cp
}

func (r *memoryReminderRepo) CreateReminder(ctx context.Context, rem Reminder) (*Reminder, error) {
	r.nextID++
	rem.ID = r.nextID
	rem.CreatedAt = r.clock()
	r.reminders[rem.ID] = &rem
	out := rem
	return &out, nil
}

func (r *memoryReminderRepo) CreateBatch(ctx context.Context, rems []Reminder) ([]Reminder, error) {
	out := make([]Reminder, 0, len(rems))
	for _, rem := range rems {
		created, err := r.CreateReminder(ctx, rem)
		if err != nil {
			return nil, err
		}
		out = append(out, *created)
	}
	return out, nil
}

func (r *memoryReminderRepo) GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	rem, ok := r.reminders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := *rem
	return &out, nil
}

func (r *memoryReminderRepo) UpdateSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	rem, ok := r.reminders[id]
	if !ok || rem.Sent {
		return false, nil
	}
	rem.Sent = true
	rem.SentDate = &at
	return true, nil
}

func (r *memoryReminderRepo) ListByActor(ctx context.Context, actor shared.Actor) ([]Reminder, error) {
	var out []Reminder
	for _, rem := range r.reminders {
		if actor.Role == shared.RoleCustomer && rem.CustomerID != actor.ID {
			continue
		}
		if actor.Role == shared.RoleShopkeeper && rem.ShopkeeperID != actor.ID {
			continue
		}
		out = append(out, *rem)
	}
	return out, nil
}

func (r *memoryReminderRepo) CreditOwnership(ctx context.Context, creditRecordID int64) (shared.Ownership, error) {
	c, ok := r.credits[creditRecordID]
	if !ok {
		return shared.Ownership{}, shared.ErrNotFound
	}
	return shared.Ownership{CustomerID: c.customerID, ShopkeeperID: c.shopkeeperID}, nil
}

func (r *memoryReminderRepo) ListOverdueNeedingReminder(ctx context.Context, shopkeeperID int64, today time.Time) ([]OverdueCredit, error) {
	var out []OverdueCredit
	for _, c := range r.credits {
		if shopkeeperID != 0 && c.shopkeeperID != shopkeeperID {
			continue
		}
		if c.remaining.Sign() <= 0 || !credit.DateOnly(c.dueDate).Before(today) {
			continue
		}
		watermark := c.createdAt
		if c.lastPayment != nil {
			watermark = *c.lastPayment
		}
		reminded := false
		for _, rem := range r.reminders {
			if rem.CreditRecordID == c.id && !rem.CreatedAt.Before(watermark) {
				reminded = true
				break
			}
		}
		if !reminded {
			out = append(out, OverdueCredit{
				CreditRecordID: c.id,
				CustomerID:     c.customerID,
				ShopkeeperID:   c.shopkeeperID,
				Remaining:      c.remaining,
				DueDate:        c.dueDate,
			})
		}
	}
	return out, nil
}

var (
	remShopkeeper = shared.Actor{ID: 1, Role: shared.RoleShopkeeper}
	remCustomer   = shared.Actor{ID: 2, Role: shared.RoleCustomer}
	remStranger   = shared.Actor{ID: 99, Role: shared.RoleShopkeeper}
)

func newReminderFixture(t *testing.T) (*Service, *memoryReminderRepo, *time.Time) {
	t.Helper()
	current := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	repo := newMemoryReminderRepo(clock)
	svc := NewService(slog.New(slog.DiscardHandler), repo).WithClock(clock)
	return svc, repo, &current
}

func TestScheduleReminder(t *testing.T) {
	svc, repo, now := newReminderFixture(t)
	ctx := context.Background()
	repo.addCredit(creditRow{id: 5, customerID: 2, shopkeeperID: 1,
		remaining: decimal.RequireFromString("150.00"),
		dueDate:   now.AddDate(0, 0, 7), createdAt: *now})

	rem, err := svc.Schedule(ctx, remShopkeeper, 5, "Friendly nudge", now.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.False(t, rem.Sent)
	require.Nil(t, rem.SentDate)
	require.Equal(t, int64(2), rem.CustomerID)
	require.Equal(t, int64(1), rem.ShopkeeperID)

	_, err = svc.Schedule(ctx, remCustomer, 5, "nope", *now)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Schedule(ctx, remStranger, 5, "nope", *now)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Schedule(ctx, remShopkeeper, 404, "gone", *now)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Schedule(ctx, remShopkeeper, 5, "   ", *now)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestDispatchOverdueIsIdempotent(t *testing.T) {
	svc, repo, now := newReminderFixture(t)
	ctx := context.Background()
	created := now.AddDate(0, 0, -30)
	repo.addCredit(creditRow{id: 5, customerID: 2, shopkeeperID: 1,
		remaining: decimal.RequireFromString("300.00"),
		dueDate:   now.AddDate(0, 0, -10), createdAt: created})
	repo.addCredit(creditRow{id: 6, customerID: 3, shopkeeperID: 1,
		remaining: decimal.RequireFromString("42.50"),
		dueDate:   now.AddDate(0, 0, -1), createdAt: created})
	// Paid off: never reminded.
	repo.addCredit(creditRow{id: 7, customerID: 4, shopkeeperID: 1,
		remaining: decimal.Zero,
		dueDate:   now.AddDate(0, 0, -10), createdAt: created})
	// Not yet due.
	repo.addCredit(creditRow{id: 8, customerID: 5, shopkeeperID: 1,
		remaining: decimal.RequireFromString("10.00"),
		dueDate:   now.AddDate(0, 0, 10), createdAt: created})

	batch, err := svc.DispatchOverdue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, rem := range batch {
		require.True(t, rem.Sent)
		require.NotNil(t, rem.SentDate)
		require.NotNil(t, rem.BatchRef)
		require.Equal(t, *batch[0].BatchRef, *rem.BatchRef)
	}
	byRecord := map[int64]Reminder{}
	for _, rem := range batch {
		byRecord[rem.CreditRecordID] = rem
	}
	require.Equal(t,
		"Payment reminder: ₹300.00 is overdue for payment. Due date was "+now.AddDate(0, 0, -10).Format("2006-01-02")+".",
		byRecord[5].Message)

	// A second run right after creates nothing.
	*now = now.Add(time.Hour)
	again, err := svc.DispatchOverdue(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestDispatchAgainAfterPayment(t *testing.T) {
	svc, repo, now := newReminderFixture(t)
	ctx := context.Background()
	repo.addCredit(creditRow{id: 5, customerID: 2, shopkeeperID: 1,
		remaining: decimal.RequireFromString("300.00"),
		dueDate:   now.AddDate(0, 0, -10), createdAt: now.AddDate(0, 0, -30)})

	first, err := svc.DispatchOverdue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A partial payment after the reminder re-arms the dispatcher.
	*now = now.Add(24 * time.Hour)
	paidAt := *now
	repo.credits[5].lastPayment = &paidAt
	repo.credits[5].remaining = decimal.RequireFromString("100.00")

	*now = now.Add(24 * time.Hour)
	second, err := svc.DispatchOverdue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Contains(t, second[0].Message, "₹100.00")
	require.NotEqual(t, *first[0].BatchRef, *second[0].BatchRef)
}

func TestDispatchOverdueUsesCalendarDates(t *testing.T) {
	svc, repo, now := newReminderFixture(t)
	ctx := context.Background()
	// Due today: midnight has passed but the ledger still classifies the
	// record pending until the day after its due date.
	dueToday := credit.DateOnly(*now)
	require.Equal(t, credit.StatusPending, credit.DeriveStatus(decimal.RequireFromString("100.00"), dueToday, *now))
	repo.addCredit(creditRow{id: 5, customerID: 2, shopkeeperID: 1,
		remaining: decimal.RequireFromString("100.00"),
		dueDate:   dueToday, createdAt: now.AddDate(0, 0, -5)})
	repo.addCredit(creditRow{id: 6, customerID: 3, shopkeeperID: 1,
		remaining: decimal.RequireFromString("60.00"),
		dueDate:   now.AddDate(0, 0, -1), createdAt: now.AddDate(0, 0, -5)})

	batch, err := svc.DispatchOverdue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, int64(6), batch[0].CreditRecordID)
}

func TestDispatchScopedToShopkeeper(t *testing.T) {
	svc, repo, now := newReminderFixture(t)
	ctx := context.Background()
	repo.addCredit(creditRow{id: 5, customerID: 2, shopkeeperID: 1,
		remaining: decimal.RequireFromString("50.00"),
		dueDate:   now.AddDate(0, 0, -1), createdAt: now.AddDate(0, 0, -5)})
	repo.addCredit(creditRow{id: 6, customerID: 2, shopkeeperID: 3,
		remaining: decimal.RequireFromString("75.00"),
		dueDate:   now.AddDate(0, 0, -1), createdAt: now.AddDate(0, 0, -5)})

	mine, err := svc.DispatchOverdue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, int64(5), mine[0].CreditRecordID)

	// Zero sweeps every shop.
	all, err := svc.DispatchOverdue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, int64(6), all[0].CreditRecordID)
}

func TestMarkSentIsOneWay(t *testing.T) {
	svc, repo, now := newReminderFixture(t)
	ctx := context.Background()
	repo.addCredit(creditRow{id: 5, customerID: 2, shopkeeperID: 1,
		remaining: decimal.RequireFromString("150.00"),
		dueDate:   now.AddDate(0, 0, 7), createdAt: *now})

	rem, err := svc.Schedule(ctx, remShopkeeper, 5, "Friendly nudge", *now)
	require.NoError(t, err)

	_, err = svc.MarkSent(ctx, remStranger, rem.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	sent, err := svc.MarkSent(ctx, remShopkeeper, rem.ID)
	require.NoError(t, err)
	require.True(t, sent.Sent)
	require.NotNil(t, sent.SentDate)
	require.True(t, sent.SentDate.Equal(*now))

	_, err = svc.MarkSent(ctx, remShopkeeper, rem.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.MarkSent(ctx, remShopkeeper, 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListRemindersVisibility(t *testing.T) {
	svc, repo, now := newReminderFixture(t)
	ctx := context.Background()
	repo.addCredit(creditRow{id: 5, customerID: 2, shopkeeperID: 1,
		remaining: decimal.RequireFromString("80.00"),
		dueDate:   now.AddDate(0, 0, -3), createdAt: now.AddDate(0, 0, -10)})

	_, err := svc.DispatchOverdue(ctx, 1)
	require.NoError(t, err)

	forCustomer, err := svc.List(ctx, remCustomer)
	require.NoError(t, err)
	require.Len(t, forCustomer, 1)

	forShop, err := svc.List(ctx, remShopkeeper)
	require.NoError(t, err)
	require.Len(t, forShop, 1)

	forStranger, err := svc.List(ctx, remStranger)
	require.NoError(t, err)
	require.Empty(t, forStranger)
}

package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/tallybook/tallybook/internal/platform/cache"
	"github.com/tallybook/tallybook/internal/shared"
)

// Service implements the credit ledger engine: it maintains the
// total/paid/remaining/status invariant as payments are appended and enforces
// payment bounds.
type Service struct {
	repo    RepositoryPort
	cache   *cache.JSONCache
	now     func() time.Time
	summary singleflight.Group
}

// NewService builds a Service. The cache may be nil.
func NewService(repo RepositoryPort, jsonCache *cache.JSONCache) *Service {
	return &Service{repo: repo, cache: jsonCache, now: time.Now}
}

// WithClock overrides the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenCredit creates a new credit record owned by the acting shopkeeper.
func (s *Service) OpenCredit(ctx context.Context, actor shared.Actor, customerID int64, total decimal.Decimal, dueDate time.Time) (*CreditRecord, error) {
	if err := shared.Authorize(actor, shared.ActionOpenCredit, shared.Ownership{ShopkeeperID: actor.ID}); err != nil {
		return nil, fmt.Errorf("credit: open: %w", err)
	}
	if customerID <= 0 {
		return nil, fmt.Errorf("credit: customer required: %w", shared.ErrInvalidAmount)
	}
	if total.Sign() <= 0 {
		return nil, fmt.Errorf("credit: total must be positive: %w", shared.ErrInvalidAmount)
	}
	rec := Refresh(CreditRecord{
		CustomerID:   customerID,
		ShopkeeperID: actor.ID,
		TotalAmount:  total,
		PaidAmount:   decimal.Zero,
		DueDate:      DateOnly(dueDate),
	}, s.now())
	created, err := s.repo.CreateCreditRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.invalidateSummary(ctx, actor.ID)
	return created, nil
}

// RecordPayment appends an immutable payment and recomputes the owning
// record's derived fields inside one transaction. paid_amount is resummed
// from the full payment set rather than incremented, which tolerates
// interleaving and crash retries as long as the row stays locked for the
// read-recompute-write sequence.
func (s *Service) RecordPayment(ctx context.Context, actor shared.Actor, creditRecordID int64, amount decimal.Decimal, method Method, notes string) (*CreditRecord, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("credit: payment must be positive: %w", shared.ErrInvalidAmount)
	}
	if method == "" {
		method = MethodCash
	}
	if !method.Valid() {
		return nil, fmt.Errorf("credit: unknown payment method %q: %w", method, shared.ErrInvalidAmount)
	}

	now := s.now()
	var updated *CreditRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetCreditRecordForUpdate(ctx, creditRecordID)
		if err != nil {
			return err
		}
		if err := shared.Authorize(actor, shared.ActionRecordPayment, shared.Ownership{CustomerID: rec.CustomerID, ShopkeeperID: rec.ShopkeeperID}); err != nil {
			return fmt.Errorf("credit: record payment: %w", err)
		}

		paidBefore, err := tx.SumPayments(ctx, rec.ID)
		if err != nil {
			return err
		}
		remaining := rec.TotalAmount.Sub(paidBefore)
		if amount.GreaterThan(remaining) {
			return fmt.Errorf("credit: amount %s exceeds remaining %s: %w", amount, remaining, shared.ErrOverpayment)
		}

		if _, err := tx.InsertPayment(ctx, Payment{
			CreditRecordID: rec.ID,
			Amount:         amount,
			Method:         method,
			Notes:          notes,
			PaymentDate:    now.UTC(),
		}); err != nil {
			return err
		}

		paid, err := tx.SumPayments(ctx, rec.ID)
		if err != nil {
			return err
		}
		rec.PaidAmount = paid
		refreshed := Refresh(*rec, now)
		if err := tx.UpdateDerived(ctx, rec.ID, refreshed.PaidAmount, refreshed.RemainingAmount, refreshed.Status); err != nil {
			return err
		}
		updated = &refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}

	payments, err := s.repo.ListPayments(ctx, updated.ID)
	if err != nil {
		return nil, err
	}
	updated.Payments = payments
	s.invalidateSummary(ctx, updated.ShopkeeperID)
	return updated, nil
}

// Get returns one record with its full payment history, newest first. The
// status is recomputed against the wall clock rather than read from the
// persisted display cache.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (*CreditRecord, error) {
	rec, err := s.repo.GetCreditRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := shared.Authorize(actor, shared.ActionViewCredit, shared.Ownership{CustomerID: rec.CustomerID, ShopkeeperID: rec.ShopkeeperID}); err != nil {
		return nil, fmt.Errorf("credit: get: %w", err)
	}
	refreshed := Refresh(*rec, s.now())
	payments, err := s.repo.ListPayments(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	refreshed.Payments = payments
	return &refreshed, nil
}

// List returns the actor's records, statuses refreshed at read time. When a
// status filter is supplied it applies to the refreshed status, not the
// persisted column.
func (s *Service) List(ctx context.Context, actor shared.Actor, status *Status) ([]CreditRecord, error) {
	records, err := s.repo.ListByActor(ctx, actor, nil)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]CreditRecord, 0, len(records))
	for _, rec := range records {
		refreshed := Refresh(rec, now)
		if status != nil && refreshed.Status != *status {
			continue
		}
		out = append(out, refreshed)
	}
	return out, nil
}

// ListOverdue returns the actor's overdue records evaluated against the
// current date at call time.
func (s *Service) ListOverdue(ctx context.Context, actor shared.Actor) ([]CreditRecord, error) {
	now := s.now()
	records, err := s.repo.ListOverdueByActor(ctx, actor, now)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i] = Refresh(records[i], now)
	}
	return records, nil
}

// ListPayments returns payments across all records the actor owns a side of.
func (s *Service) ListPayments(ctx context.Context, actor shared.Actor) ([]Payment, error) {
	return s.repo.ListPaymentsByActor(ctx, actor)
}

// RefreshStale rewrites the cached status column for records that crossed
// their due date without a triggering write. Invoked by the background sweep.
func (s *Service) RefreshStale(ctx context.Context) (int64, error) {
	return s.repo.RefreshStaleStatuses(ctx, s.now())
}

// ShopkeeperSummary aggregates the acting shopkeeper's outstanding exposure.
// Cached per shopkeeper and calendar date with a short TTL.
func (s *Service) ShopkeeperSummary(ctx context.Context, actor shared.Actor) (Summary, error) {
	if err := shared.Authorize(actor, shared.ActionOpenCredit, shared.Ownership{ShopkeeperID: actor.ID}); err != nil {
		return Summary{}, fmt.Errorf("credit: summary: %w", err)
	}
	now := s.now()
	key := s.summaryKey(actor.ID)
	// Concurrent summary requests for the same shop collapse into one
	// cache-or-database fetch.
	result, err, _ := s.summary.Do(key, func() (interface{}, error) {
		var summary Summary
		err := s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (interface{}, error) {
			return s.repo.SummarizeShopkeeper(ctx, actor.ID, now)
		})
		return summary, err
	})
	if err != nil {
		return Summary{}, err
	}
	return result.(Summary), nil
}

func (s *Service) summaryKey(shopkeeperID int64) string {
	return fmt.Sprintf("credit:summary:%d:%s", shopkeeperID, DateOnly(s.now()).Format("2006-01-02"))
}

func (s *Service) invalidateSummary(ctx context.Context, shopkeeperID int64) {
	_ = s.cache.Invalidate(ctx, s.summaryKey(shopkeeperID))
}

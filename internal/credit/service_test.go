package credit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tallybook/tallybook/internal/platform/cache"
	"github.com/tallybook/tallybook/internal/shared"
)

type memoryCreditRepo struct {
	mu            sync.Mutex
	records       map[int64]*CreditRecord
	payments      map[int64][]Payment
	nextRecordID  int64
	nextPaymentID int64
	summaryCalls  int
}

func newMemoryCreditRepo() *memoryCreditRepo {
	return &memoryCreditRepo{
		records:  make(map[int64]*CreditRecord),
		payments: make(map[int64][]Payment),
	}
}

func (r *memoryCreditRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// A process-wide lock stands in for the row lock: the read-recompute-write
	// sequence is serialized exactly as FOR UPDATE serializes it per row.
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshotRecords := make(map[int64]CreditRecord, len(r.records))
	for id, rec := range r.records {
		snapshotRecords[id] = *rec
	}
	snapshotPayments := make(map[int64][]Payment, len(r.payments))
	for id, ps := range r.payments {
		snapshotPayments[id] = append([]Payment(nil), ps...)
	}
	if err := fn(ctx, &memoryCreditTx{repo: r}); err != nil {
		// Roll back.
		r.records = make(map[int64]*CreditRecord, len(snapshotRecords))
		for id := range snapshotRecords {
			rec := snapshotRecords[id]
			r.records[id] = &rec
		}
		r.payments = snapshotPayments
		return err
	}
	return nil
}

func (r *memoryCreditRepo) CreateCreditRecord(ctx context.Context, rec CreditRecord) (*CreditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRecordID++
	rec.ID = r.nextRecordID
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	r.records[rec.ID] = &rec
	out := rec
	return &out, nil
}

func (r *memoryCreditRepo) GetCreditRecord(ctx context.Context, id int64) (*CreditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *memoryCreditRepo) ListByActor(ctx context.Context, actor shared.Actor, status *Status) ([]CreditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CreditRecord
	for _, rec := range r.records {
		if actor.Role == shared.RoleCustomer && rec.CustomerID != actor.ID {
			continue
		}
		if actor.Role == shared.RoleShopkeeper && rec.ShopkeeperID != actor.ID {
			continue
		}
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r *memoryCreditRepo) ListOverdueByActor(ctx context.Context, actor shared.Actor, today time.Time) ([]CreditRecord, error) {
	records, err := r.ListByActor(ctx, actor, nil)
	if err != nil {
		return nil, err
	}
	var out []CreditRecord
	for _, rec := range records {
		if rec.RemainingAmount.Sign() > 0 && DateOnly(rec.DueDate).Before(DateOnly(today)) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryCreditRepo) ListPayments(ctx context.Context, creditRecordID int64) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Payment(nil), r.payments[creditRecordID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].PaymentDate.After(out[j].PaymentDate)
	})
	return out, nil
}

func (r *memoryCreditRepo) ListPaymentsByActor(ctx context.Context, actor shared.Actor) ([]Payment, error) {
	records, err := r.ListByActor(ctx, actor, nil)
	if err != nil {
		return nil, err
	}
	var out []Payment
	for _, rec := range records {
		ps, _ := r.ListPayments(ctx, rec.ID)
		out = append(out, ps...)
	}
	return out, nil
}

func (r *memoryCreditRepo) RefreshStaleStatuses(ctx context.Context, today time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var touched int64
	for _, rec := range r.records {
		if rec.Status == StatusPending && rec.RemainingAmount.Sign() > 0 && DateOnly(rec.DueDate).Before(DateOnly(today)) {
			rec.Status = StatusOverdue
			touched++
		}
	}
	return touched, nil
}

func (r *memoryCreditRepo) SummarizeShopkeeper(ctx context.Context, shopkeeperID int64, today time.Time) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaryCalls++
	summary := Summary{ShopkeeperID: shopkeeperID, TotalOutstanding: decimal.Zero, TotalOverdue: decimal.Zero}
	for _, rec := range r.records {
		if rec.ShopkeeperID != shopkeeperID || rec.RemainingAmount.Sign() <= 0 {
			continue
		}
		summary.OpenRecords++
		summary.TotalOutstanding = summary.TotalOutstanding.Add(rec.RemainingAmount)
		if DateOnly(rec.DueDate).Before(DateOnly(today)) {
			summary.OverdueRecords++
			summary.TotalOverdue = summary.TotalOverdue.Add(rec.RemainingAmount)
		}
	}
	return summary, nil
}

type memoryCreditTx struct {
	repo *memoryCreditRepo
}

func (t *memoryCreditTx) GetCreditRecordForUpdate(ctx context.Context, id int64) (*CreditRecord, error) {
	rec, ok := t.repo.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (t *memoryCreditTx) InsertPayment(ctx context.Context, p Payment) (*Payment, error) {
	t.repo.nextPaymentID++
	p.ID = t.repo.nextPaymentID
	t.repo.payments[p.CreditRecordID] = append(t.repo.payments[p.CreditRecordID], p)
	out := p
	return &out, nil
}

func (t *memoryCreditTx) SumPayments(ctx context.Context, creditRecordID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range t.repo.payments[creditRecordID] {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

func (t *memoryCreditTx) UpdateDerived(ctx context.Context, id int64, paid, remaining decimal.Decimal, status Status) error {
	rec, ok := t.repo.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	rec.PaidAmount = paid
	rec.RemainingAmount = remaining
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

var (
	shopkeeper = shared.Actor{ID: 1, Role: shared.RoleShopkeeper}
	customer   = shared.Actor{ID: 2, Role: shared.RoleCustomer}
	stranger   = shared.Actor{ID: 99, Role: shared.RoleCustomer}
)

func newTestService(t *testing.T, repo RepositoryPort) (*Service, *memoryCreditRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(repo, cache.NewJSONCache(client, time.Minute))
	mem, _ := repo.(*memoryCreditRepo)
	return svc, mem
}

func openTestCredit(t *testing.T, svc *Service, total string, dueInDays int) *CreditRecord {
	t.Helper()
	rec, err := svc.OpenCredit(context.Background(), shopkeeper, customer.ID, d(total), time.Now().UTC().AddDate(0, 0, dueInDays))
	require.NoError(t, err)
	return rec
}

func TestOpenCredit(t *testing.T) {
	svc, _ := newTestService(t, newMemoryCreditRepo())

	rec := openTestCredit(t, svc, "500.00", 7)
	require.True(t, rec.PaidAmount.IsZero())
	require.True(t, rec.RemainingAmount.Equal(d("500.00")))
	require.Equal(t, StatusPending, rec.Status)

	// Already past due at creation.
	late, err := svc.OpenCredit(context.Background(), shopkeeper, customer.ID, d("300.00"), time.Now().UTC().AddDate(0, 0, -5))
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, late.Status)
}

func TestOpenCreditRejectsNonPositiveTotal(t *testing.T) {
	svc, _ := newTestService(t, newMemoryCreditRepo())

	_, err := svc.OpenCredit(context.Background(), shopkeeper, customer.ID, d("0"), time.Now().AddDate(0, 0, 7))
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.OpenCredit(context.Background(), shopkeeper, customer.ID, d("-10"), time.Now().AddDate(0, 0, 7))
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	// A missing customer is a caller mistake, not a server fault.
	_, err = svc.OpenCredit(context.Background(), shopkeeper, 0, d("100.00"), time.Now().AddDate(0, 0, 7))
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestOpenCreditCustomerForbidden(t *testing.T) {
	svc, _ := newTestService(t, newMemoryCreditRepo())

	_, err := svc.OpenCredit(context.Background(), customer, customer.ID, d("100"), time.Now().AddDate(0, 0, 7))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecordPaymentScenario(t *testing.T) {
	svc, _ := newTestService(t, newMemoryCreditRepo())
	ctx := context.Background()
	rec := openTestCredit(t, svc, "500.00", 7)

	after1, err := svc.RecordPayment(ctx, customer, rec.ID, d("200.00"), MethodCash, "")
	require.NoError(t, err)
	require.True(t, after1.PaidAmount.Equal(d("200.00")))
	require.True(t, after1.RemainingAmount.Equal(d("300.00")))
	require.Equal(t, StatusPending, after1.Status)
	require.Len(t, after1.Payments, 1)

	after2, err := svc.RecordPayment(ctx, customer, rec.ID, d("300.00"), MethodUPI, "settled")
	require.NoError(t, err)
	require.True(t, after2.PaidAmount.Equal(d("500.00")))
	require.True(t, after2.RemainingAmount.IsZero())
	require.Equal(t, StatusPaid, after2.Status)
	require.Len(t, after2.Payments, 2)
	// Newest first.
	require.Equal(t, "settled", after2.Payments[0].Notes)

	_, err = svc.RecordPayment(ctx, customer, rec.ID, d("1.00"), MethodCash, "")
	require.ErrorIs(t, err, shared.ErrOverpayment)
}

func TestRecordPaymentInvariants(t *testing.T) {
	svc, repo := newTestService(t, newMemoryCreditRepo())
	ctx := context.Background()
	rec := openTestCredit(t, svc, "120.00", 7)

	for _, amount := range []string{"10.50", "39.50", "70.00"} {
		after, err := svc.RecordPayment(ctx, shopkeeper, rec.ID, d(amount), MethodCard, "")
		require.NoError(t, err)

		sum := decimal.Zero
		for _, p := range repo.payments[rec.ID] {
			sum = sum.Add(p.Amount)
		}
		require.True(t, after.PaidAmount.Equal(sum), "paid_amount must equal the payment sum")
		require.True(t, after.RemainingAmount.Equal(after.TotalAmount.Sub(after.PaidAmount)))
	}
}

func TestRecordPaymentOverpaymentLeavesStateUntouched(t *testing.T) {
	svc, repo := newTestService(t, newMemoryCreditRepo())
	ctx := context.Background()
	rec := openTestCredit(t, svc, "100.00", 7)

	_, err := svc.RecordPayment(ctx, customer, rec.ID, d("100.01"), MethodCash, "")
	require.ErrorIs(t, err, shared.ErrOverpayment)

	stored, err := repo.GetCreditRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.IsZero())
	require.Empty(t, repo.payments[rec.ID])
}

func TestRecordPaymentRejections(t *testing.T) {
	svc, _ := newTestService(t, newMemoryCreditRepo())
	ctx := context.Background()
	rec := openTestCredit(t, svc, "100.00", 7)

	_, err := svc.RecordPayment(ctx, customer, 12345, d("10"), MethodCash, "")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.RecordPayment(ctx, stranger, rec.ID, d("10"), MethodCash, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.RecordPayment(ctx, customer, rec.ID, d("0"), MethodCash, "")
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.RecordPayment(ctx, customer, rec.ID, d("10"), Method("cheque"), "")
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	svc, repo := newTestService(t, newMemoryCreditRepo())
	ctx := context.Background()
	rec := openTestCredit(t, svc, "5.00", 7)

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordPayment(ctx, customer, rec.ID, d("1.00"), MethodCash, "")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, shared.ErrOverpayment)
		}
	}
	require.Equal(t, 5, succeeded)

	stored, err := repo.GetCreditRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.Equal(d("5.00")))
	require.Equal(t, StatusPaid, stored.Status)
}

func TestListOverdueEvaluatesAtCallTime(t *testing.T) {
	svc, _ := newTestService(t, newMemoryCreditRepo())
	ctx := context.Background()

	base := time.Now().UTC()
	svc.WithClock(func() time.Time { return base })

	// Stays comfortably inside its term even after the clock advances.
	_, err := svc.OpenCredit(ctx, shopkeeper, customer.ID, d("300.00"), base.AddDate(0, 0, 30))
	require.NoError(t, err)

	// Created pending, due in one day: the persisted status cache is never
	// rewritten, yet the overdue listing must pick it up.
	openTestCredit(t, svc, "200.00", 1)

	// Advance the clock past the second record's due date only.
	svc.WithClock(func() time.Time { return base.AddDate(0, 0, 3) })

	overdue, err := svc.ListOverdue(ctx, shopkeeper)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, StatusOverdue, overdue[0].Status)
	require.True(t, overdue[0].RemainingAmount.Equal(d("200.00")))
}

func TestGetRefreshesStatus(t *testing.T) {
	repo := newMemoryCreditRepo()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	base := time.Now().UTC()
	svc.WithClock(func() time.Time { return base })
	rec := openTestCredit(t, svc, "300.00", 5)
	require.Equal(t, StatusPending, rec.Status)

	svc.WithClock(func() time.Time { return base.AddDate(0, 0, 10) })
	got, err := svc.Get(ctx, customer, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, got.Status)

	// The persisted column is a stale display cache until a sweep touches it.
	require.Equal(t, StatusPending, repo.records[rec.ID].Status)

	touched, err := svc.RefreshStale(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), touched)
	require.Equal(t, StatusOverdue, repo.records[rec.ID].Status)
}

func TestShopkeeperSummaryCaches(t *testing.T) {
	repo := newMemoryCreditRepo()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	openTestCredit(t, svc, "500.00", 7)
	openTestCredit(t, svc, "300.00", -5)

	first, err := svc.ShopkeeperSummary(ctx, shopkeeper)
	require.NoError(t, err)
	require.Equal(t, int64(2), first.OpenRecords)
	require.Equal(t, int64(1), first.OverdueRecords)
	require.True(t, first.TotalOutstanding.Equal(d("800.00")))
	require.True(t, first.TotalOverdue.Equal(d("300.00")))

	calls := repo.summaryCalls
	second, err := svc.ShopkeeperSummary(ctx, shopkeeper)
	require.NoError(t, err)
	require.Equal(t, calls, repo.summaryCalls, "second read should hit the cache")
	require.True(t, second.TotalOutstanding.Equal(first.TotalOutstanding))

	// A payment invalidates the cached summary.
	rec := openTestCredit(t, svc, "100.00", 7)
	_, err = svc.RecordPayment(ctx, customer, rec.ID, d("100.00"), MethodCash, "")
	require.NoError(t, err)

	third, err := svc.ShopkeeperSummary(ctx, shopkeeper)
	require.NoError(t, err)
	require.Greater(t, repo.summaryCalls, calls)
	require.Equal(t, int64(2), third.OpenRecords)
}

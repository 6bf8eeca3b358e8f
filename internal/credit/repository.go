package credit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateCreditRecord(ctx context.Context, rec CreditRecord) (*CreditRecord, error)
	GetCreditRecord(ctx context.Context, id int64) (*CreditRecord, error)
	ListByActor(ctx context.Context, actor shared.Actor, status *Status) ([]CreditRecord, error)
	ListOverdueByActor(ctx context.Context, actor shared.Actor, today time.Time) ([]CreditRecord, error)
	ListPayments(ctx context.Context, creditRecordID int64) ([]Payment, error)
	ListPaymentsByActor(ctx context.Context, actor shared.Actor) ([]Payment, error)
	RefreshStaleStatuses(ctx context.Context, today time.Time) (int64, error)
	SummarizeShopkeeper(ctx context.Context, shopkeeperID int64, today time.Time) (Summary, error)
}

// TxRepository exposes transactional operations used by the service. The
// credit row is locked for the duration of the payment write so the
// read-recompute-write sequence serializes per record.
type TxRepository interface {
	GetCreditRecordForUpdate(ctx context.Context, id int64) (*CreditRecord, error)
	InsertPayment(ctx context.Context, p Payment) (*Payment, error)
	SumPayments(ctx context.Context, creditRecordID int64) (decimal.Decimal, error)
	UpdateDerived(ctx context.Context, id int64, paid, remaining decimal.Decimal, status Status) error
}

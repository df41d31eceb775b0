package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/observability"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/workflow"
	"github.com/Additional-Code/hvacops/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/hvacops/service/ledger")

const (
	// LockKey serialises appends across the whole log.
	LockKey = "ledger"

	workflowName     = "ledger"
	defaultRetryWait = 10 * time.Millisecond
)

// Service appends to and audits the financial record log.
type Service struct {
	store     store.Store
	locker    lock.Locker
	exec      *workflow.Executor
	publisher *events.Publisher
	metrics   *observability.WorkflowMetrics
	logger    *zap.Logger
	attempts  int
	retryWait time.Duration
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     store.Store
	Locker    lock.Locker
	Executor  *workflow.Executor
	Publisher *events.Publisher              `optional:"true"`
	Metrics   *observability.WorkflowMetrics `optional:"true"`
	Config    config.Config
	Logger    *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	attempts := p.Config.Workflow.LedgerAppendAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Config.Workflow.LockRetryDelay
	if wait <= 0 {
		wait = defaultRetryWait
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     p.Store,
		locker:    p.Locker,
		exec:      p.Executor,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		logger:    logger,
		attempts:  attempts,
		retryWait: wait,
	}
}

// AppendEntry appends a standalone entry and reports the outcome.
func (s *Service) AppendEntry(ctx context.Context, orderID *int64, paymentType entity.PaymentType, amount decimal.Decimal) (*entity.FinancialRecord, error) {
	var rec *entity.FinancialRecord
	err := s.exec.Run(ctx, workflow.Operation{Workflow: workflowName, Name: "append_entry"}, func(ctx context.Context) (string, error) {
		var err error
		rec, err = s.Append(ctx, orderID, paymentType, amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ledger entry %d recorded, balance %s", rec.Seq, rec.Balance.StringFixed(2)), nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Append writes the next entry under the ledger lock. A seq collision with a
// writer that bypassed the lock is retried with a fresh read.
func (s *Service) Append(ctx context.Context, orderID *int64, paymentType entity.PaymentType, amount decimal.Decimal) (*entity.FinancialRecord, error) {
	return s.append(ctx, orderID, paymentType, amount, false)
}

// AppendOnce is Append for entries that must exist at most once per order and
// payment type. The existence check runs under the ledger lock, so callers whose
// own locks have lapsed still cannot post the order twice; the existing entry
// is returned instead.
func (s *Service) AppendOnce(ctx context.Context, orderID int64, paymentType entity.PaymentType, amount decimal.Decimal) (*entity.FinancialRecord, error) {
	return s.append(ctx, &orderID, paymentType, amount, true)
}

func (s *Service) append(ctx context.Context, orderID *int64, paymentType entity.PaymentType, amount decimal.Decimal, once bool) (*entity.FinancialRecord, error) {
	if !paymentType.Valid() {
		return nil, workflow.Invalid("unknown payment type %q", paymentType)
	}
	if !amount.IsPositive() {
		return nil, workflow.Invalid("amount must be positive")
	}

	ctx, span := serviceTracer.Start(ctx, "LedgerService.Append", trace.WithAttributes(
		attribute.String("ledger.payment_type", string(paymentType)),
		attribute.String("ledger.amount", amount.String()),
		attribute.Bool("ledger.once", once),
	))
	defer span.End()

	rec, attempts, created, err := s.writeLocked(ctx, orderID, paymentType, amount, once)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("ledger.seq", rec.Seq), attribute.Bool("ledger.created", created))
	if !created {
		return rec, nil
	}

	// The lease is released by now; a slow bus never holds up other writers.
	s.metrics.RecordLedgerAppend(ctx, string(paymentType), attempts)
	var orderRef int64
	if orderID != nil {
		orderRef = *orderID
	}
	s.publisher.Publish(ctx, workflowName, events.LedgerEntryAppended, rec.ID, map[string]any{
		"seq":          rec.Seq,
		"order_id":     orderRef,
		"payment_type": rec.PaymentType,
		"amount":       rec.Amount,
		"balance":      rec.Balance,
	})
	return rec, nil
}

// writeLocked holds the ledger lock for the read-compute-insert cycle only.
// created is false when once is set and the order already has an entry.
func (s *Service) writeLocked(ctx context.Context, orderID *int64, paymentType entity.PaymentType, amount decimal.Decimal, once bool) (rec *entity.FinancialRecord, attempts int, created bool, err error) {
	lease, err := s.locker.Obtain(ctx, LockKey)
	if err != nil {
		return nil, 0, false, errorbank.Unavailable("ledger is busy, retry shortly",
			errorbank.WithCause(err),
			errorbank.WithDetail(errorbank.DetailStep, "lock_ledger"),
		)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release ledger lock", zap.Error(err))
		}
	}()

	if once && orderID != nil {
		existing, err := s.EntryFor(ctx, *orderID, paymentType)
		if err != nil {
			return nil, 0, false, workflow.Transient("read_order_entry", err, map[string]any{"order_id": *orderID})
		}
		if existing != nil {
			s.logger.Info("ledger entry already posted",
				zap.Int64("order_id", *orderID),
				zap.Int64("seq", existing.Seq),
			)
			return existing, 0, false, nil
		}
	}

	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewConstant(s.retryWait))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		latest, err := s.Latest(ctx)
		if err != nil {
			return err
		}
		next := &entity.FinancialRecord{
			Seq:         1,
			OrderID:     orderID,
			PaymentType: paymentType,
			Amount:      amount,
			Balance:     paymentType.Signed(amount),
		}
		if latest != nil {
			next.Seq = latest.Seq + 1
			next.Balance = latest.Balance.Add(paymentType.Signed(amount))
		}
		if err := s.store.Insert(ctx, store.FinancialRecords, next); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.logger.Warn("ledger seq collision, re-reading", zap.Int64("seq", next.Seq), zap.Int("attempt", attempts))
				return retry.RetryableError(err)
			}
			return err
		}
		rec = next
		return nil
	})
	if err != nil {
		return nil, attempts, false, workflow.Transient("append_ledger_entry", err, map[string]any{"attempts": attempts})
	}
	return rec, attempts, true, nil
}

// Latest returns the most recent entry, or nil when the log is empty.
func (s *Service) Latest(ctx context.Context) (*entity.FinancialRecord, error) {
	rec, err := store.First[entity.FinancialRecord](ctx, s.store, store.FinancialRecords, (&store.Filter{}).Order("seq", true))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LatestBalance returns the authoritative balance, zero for an empty log.
func (s *Service) LatestBalance(ctx context.Context) (decimal.Decimal, error) {
	rec, err := s.Latest(ctx)
	if err != nil {
		return decimal.Zero, workflow.Transient("read_latest_balance", err, nil)
	}
	if rec == nil {
		return decimal.Zero, nil
	}
	return rec.Balance, nil
}

// Entries lists entries in seq order; limit <= 0 returns the whole log.
func (s *Service) Entries(ctx context.Context, limit int) ([]entity.FinancialRecord, error) {
	rows, err := store.List[entity.FinancialRecord](ctx, s.store, store.FinancialRecords, (&store.Filter{}).Order("seq", false).Take(limit))
	if err != nil {
		return nil, workflow.Transient("list_ledger_entries", err, nil)
	}
	return rows, nil
}

// EntryFor returns the order's entry of paymentType, or nil when none exists.
func (s *Service) EntryFor(ctx context.Context, orderID int64, paymentType entity.PaymentType) (*entity.FinancialRecord, error) {
	rec, err := store.First[entity.FinancialRecord](ctx, s.store, store.FinancialRecords,
		store.Where("order_id", orderID).Eq("payment_type", paymentType))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/messaging"
	"github.com/Additional-Code/hvacops/internal/notify"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/store/memstore"
	"github.com/Additional-Code/hvacops/internal/storetest"
	"github.com/Additional-Code/hvacops/internal/workflow"
	"github.com/Additional-Code/hvacops/pkg/errorbank"
)

func newTestService(t *testing.T, st store.Store, attempts int) (*Service, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	locker := lock.NewLocal(0)
	exec := workflow.NewExecutor(workflow.Params{Locker: locker, Sink: rec, Logger: zap.NewNop()})
	svc := NewService(Params{
		Store:    st,
		Locker:   locker,
		Executor: exec,
		Config: config.Config{Workflow: config.Workflow{
			LedgerAppendAttempts: attempts,
			LockRetryDelay:       time.Millisecond,
		}},
		Logger: zap.NewNop(),
	})
	return svc, rec
}

func orderRef(id int64) *int64 { return &id }

func TestAppendEntryOnEmptyLedger(t *testing.T) {
	svc, rec := newTestService(t, memstore.New(), 3)
	ctx := context.Background()

	entry, err := svc.AppendEntry(ctx, orderRef(7), entity.PaymentIncoming, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)
	assert.True(t, entry.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(7), *entry.OrderID)

	balance, err := svc.LatestBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 1, rec.Count(notify.Success))
}

func TestLatestBalanceEmpty(t *testing.T) {
	svc, _ := newTestService(t, memstore.New(), 1)
	balance, err := svc.LatestBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestSerialAppendsSumSignedAmounts(t *testing.T) {
	svc, _ := newTestService(t, memstore.New(), 1)
	ctx := context.Background()

	steps := []struct {
		pt     entity.PaymentType
		amount int64
	}{
		{entity.PaymentIncoming, 5000},
		{entity.PaymentOutgoing, 1200},
		{entity.PaymentIncoming, 300},
		{entity.PaymentOutgoing, 4500},
	}
	want := decimal.Zero
	for _, st := range steps {
		amount := decimal.NewFromInt(st.amount)
		_, err := svc.Append(ctx, nil, st.pt, amount)
		require.NoError(t, err)
		want = want.Add(st.pt.Signed(amount))
	}

	balance, err := svc.LatestBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(want), "balance %s, want %s", balance, want)
	assert.True(t, balance.Equal(decimal.NewFromInt(-400)))

	entries, err := svc.Entries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
}

func TestConcurrentAppendsKeepLogConsistent(t *testing.T) {
	svc, _ := newTestService(t, memstore.New(), 1)
	ctx := context.Background()

	const writers = 25
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := svc.Append(gctx, orderRef(int64(i+1)), entity.PaymentIncoming, decimal.NewFromInt(100))
			return err
		})
	}
	require.NoError(t, g.Wait())

	report, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
	assert.Equal(t, writers, report.Entries)
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(100*writers)))
}

// racingStore inserts a competing entry with the same seq right before the
// first append lands, as a writer that skipped the lock would.
type racingStore struct {
	store.Store
	once sync.Once
}

func (r *racingStore) Insert(ctx context.Context, table store.Table, row any) error {
	if rec, ok := row.(*entity.FinancialRecord); ok {
		r.once.Do(func() {
			_ = r.Store.Insert(ctx, table, &entity.FinancialRecord{
				Seq:         rec.Seq,
				PaymentType: entity.PaymentIncoming,
				Amount:      decimal.NewFromInt(50),
				Balance:     decimal.NewFromInt(50),
			})
		})
	}
	return r.Store.Insert(ctx, table, row)
}

func TestAppendRetriesSeqCollision(t *testing.T) {
	svc, _ := newTestService(t, &racingStore{Store: memstore.New()}, 3)

	entry, err := svc.Append(context.Background(), orderRef(1), entity.PaymentIncoming, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Seq)
	assert.True(t, entry.Balance.Equal(decimal.NewFromInt(1050)))
}

func TestAppendGivesUpAfterAttempts(t *testing.T) {
	faulty := storetest.Wrap(memstore.New())
	faulty.FailAlways(storetest.OpInsert, store.FinancialRecords, store.ErrConflict)
	svc, rec := newTestService(t, faulty, 3)

	_, err := svc.AppendEntry(context.Background(), nil, entity.PaymentIncoming, decimal.NewFromInt(10))
	require.Error(t, err)
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnavailable))
	assert.True(t, errorbank.Retryable(err))
	assert.Equal(t, 3, faulty.Calls(storetest.OpInsert))
	assert.Equal(t, 1, rec.Count(notify.Danger))
}

func TestAppendValidatesInput(t *testing.T) {
	svc, rec := newTestService(t, memstore.New(), 1)
	ctx := context.Background()

	tests := []struct {
		name   string
		pt     entity.PaymentType
		amount decimal.Decimal
	}{
		{"zero amount", entity.PaymentIncoming, decimal.Zero},
		{"negative amount", entity.PaymentOutgoing, decimal.NewFromInt(-5)},
		{"unknown type", entity.PaymentType("refund"), decimal.NewFromInt(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AppendEntry(ctx, nil, tt.pt, tt.amount)
			require.Error(t, err)
			assert.True(t, errorbank.IsKind(err, errorbank.KindBadRequest))
		})
	}
	assert.Equal(t, len(tests), rec.Count(notify.Warning))
}

func TestAppendReadFailureIsTransient(t *testing.T) {
	faulty := storetest.Wrap(memstore.New())
	faulty.FailNext(storetest.OpSelect, store.FinancialRecords, nil)
	svc, _ := newTestService(t, faulty, 3)

	_, err := svc.Append(context.Background(), nil, entity.PaymentIncoming, decimal.NewFromInt(10))
	require.Error(t, err)
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnavailable))
	assert.ErrorIs(t, err, storetest.ErrInjected)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	rows := []entity.FinancialRecord{
		{Seq: 1, PaymentType: entity.PaymentIncoming, Amount: decimal.NewFromInt(100), Balance: decimal.NewFromInt(100)},
		{Seq: 2, PaymentType: entity.PaymentIncoming, Amount: decimal.NewFromInt(100), Balance: decimal.NewFromInt(100)},
		{Seq: 4, PaymentType: entity.PaymentOutgoing, Amount: decimal.NewFromInt(50), Balance: decimal.NewFromInt(50)},
	}
	for i := range rows {
		require.NoError(t, st.Insert(ctx, store.FinancialRecords, &rows[i]))
	}
	svc, _ := newTestService(t, st, 1)

	report, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []int64{3}, report.Gaps)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, int64(2), report.Mismatches[0].Seq)
	assert.True(t, report.Mismatches[0].Expected.Equal(decimal.NewFromInt(200)))
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(50)))
	assert.True(t, report.Computed.Equal(decimal.NewFromInt(150)))
}

func TestEntryFor(t *testing.T) {
	svc, _ := newTestService(t, memstore.New(), 1)
	ctx := context.Background()

	missing, err := svc.EntryFor(ctx, 9, entity.PaymentIncoming)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = svc.Append(ctx, orderRef(9), entity.PaymentIncoming, decimal.NewFromInt(1))
	require.NoError(t, err)
	found, err := svc.EntryFor(ctx, 9, entity.PaymentIncoming)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(1), found.Seq)
}

func newPublishingService(t *testing.T, locker lock.Locker, client messaging.Client) *Service {
	t.Helper()
	exec := workflow.NewExecutor(workflow.Params{Locker: locker, Sink: &notify.Recorder{}, Logger: zap.NewNop()})
	return NewService(Params{
		Store:     memstore.New(),
		Locker:    locker,
		Executor:  exec,
		Publisher: events.NewPublisher(client, zap.NewNop()),
		Config:    config.Config{Workflow: config.Workflow{LedgerAppendAttempts: 1}},
		Logger:    zap.NewNop(),
	})
}

func TestAppendWithStalledBusStaysResponsive(t *testing.T) {
	bus := messaging.NewMemoryClient("hvacops", 4)
	svc := newPublishingService(t, lock.NewLocal(0), bus)

	const appends = 20
	for i := 0; i < appends; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		start := time.Now()
		_, err := svc.AppendEntry(ctx, orderRef(int64(i+1)), entity.PaymentIncoming, decimal.NewFromInt(10))
		cancel()
		require.NoError(t, err, "append %d", i+1)
		require.Less(t, time.Since(start), 100*time.Millisecond, "append %d", i+1)
	}
	assert.Equal(t, 4, bus.Pending())
	assert.Equal(t, appends-4, bus.Dropped())

	balance, err := svc.LatestBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10*appends)))
}

// lockCheckingClient records whether the ledger lock was free while the
// appended event was being published.
type lockCheckingClient struct {
	messaging.Client
	locker lock.Locker
	free   []bool
}

func (c *lockCheckingClient) Publish(ctx context.Context, _ []byte, _ []byte, _ map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	lease, err := c.locker.Obtain(ctx, LockKey)
	c.free = append(c.free, err == nil)
	if err == nil {
		_ = lease.Release(ctx)
	}
	return nil
}

func TestAppendPublishesAfterReleasingLock(t *testing.T) {
	locker := lock.NewLocal(0)
	client := &lockCheckingClient{locker: locker}
	svc := newPublishingService(t, locker, client)

	_, err := svc.Append(context.Background(), orderRef(1), entity.PaymentIncoming, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, client.free)
}

func TestAppendOncePostsOrderOnce(t *testing.T) {
	svc, _ := newTestService(t, memstore.New(), 3)
	ctx := context.Background()
	_, err := svc.Append(ctx, nil, entity.PaymentIncoming, decimal.NewFromInt(1000))
	require.NoError(t, err)

	// Callers that hold no order lock between them, as after a lapsed lease.
	const callers = 10
	seqs := make([]int64, callers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			rec, err := svc.AppendOnce(gctx, 7, entity.PaymentIncoming, decimal.NewFromInt(5000))
			if err != nil {
				return err
			}
			seqs[i] = rec.Seq
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, seq := range seqs {
		assert.Equal(t, int64(2), seq)
	}
	entries, err := svc.Entries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Balance.Equal(decimal.NewFromInt(6000)))

	// A different payment type for the same order is a separate entry.
	out, err := svc.AppendOnce(ctx, 7, entity.PaymentOutgoing, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Seq)
}

func TestAppendOnceReadFailureIsTransient(t *testing.T) {
	faulty := storetest.Wrap(memstore.New())
	svc, _ := newTestService(t, faulty, 1)
	faulty.FailNext(storetest.OpSelect, store.FinancialRecords, nil)

	_, err := svc.AppendOnce(context.Background(), 1, entity.PaymentIncoming, decimal.NewFromInt(10))
	require.Error(t, err)
	assert.True(t, errorbank.IsKind(err, errorbank.KindUnavailable))
	assert.Equal(t, 0, faulty.Calls(storetest.OpInsert))
}

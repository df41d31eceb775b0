package order

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

	"github.com/Additional-Code/hvacops/internal/cache"
	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/notify"
	"github.com/Additional-Code/hvacops/internal/service/ledger"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/store/memstore"
	"github.com/Additional-Code/hvacops/internal/storetest"
	"github.com/Additional-Code/hvacops/internal/workflow"
	"github.com/Additional-Code/hvacops/pkg/errorbank"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	store  *storetest.Faulty
	rec    *notify.Recorder
	cache  *mapCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.Wrap(memstore.New())
	rec := &notify.Recorder{}
	locker := lock.NewLocal(0)
	exec := workflow.NewExecutor(workflow.Params{Locker: locker, Sink: rec, Logger: zap.NewNop()})
	cfg := config.Config{
		Cache:    config.Cache{DefaultTTL: time.Minute},
		Workflow: config.Workflow{LedgerAppendAttempts: 3, LockRetryDelay: time.Millisecond},
	}
	led := ledger.NewService(ledger.Params{Store: st, Locker: locker, Executor: exec, Config: cfg, Logger: zap.NewNop()})
	c := newMapCache()
	svc := NewService(Params{Store: st, Ledger: led, Executor: exec, Cache: c, Config: cfg, Logger: zap.NewNop()})
	return &fixture{svc: svc, ledger: led, store: st, rec: rec, cache: c}
}

func (f *fixture) user(t *testing.T, id int64, role entity.Role) {
	t.Helper()
	require.NoError(t, f.store.Insert(context.Background(), store.Users, &entity.User{
		ID: id, FullName: string(role), Role: role,
	}))
}

// seedPendingOrder stores order 1 for 5000 with the ledger already at 1000.
func (f *fixture) seedPendingOrder(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.user(t, 1, entity.RoleCustomer)
	require.NoError(t, f.store.Insert(ctx, store.Orders, &entity.Order{
		ID:              1,
		CustomerID:      1,
		ProductID:       1,
		Quantity:        1,
		UnitPrice:       decimal.NewFromInt(5000),
		TotalAmount:     decimal.NewFromInt(5000),
		PaymentStatus:   entity.PaymentCompleted,
		FinanceApproval: entity.FinancePending,
		ApprovalStage:   entity.StageNone,
	}))
	_, err := f.ledger.Append(ctx, nil, entity.PaymentIncoming, decimal.NewFromInt(1000))
	require.NoError(t, err)
}

func (f *fixture) order(t *testing.T, id int64) *entity.Order {
	t.Helper()
	o, err := store.Get[entity.Order](context.Background(), f.store, store.Orders, id)
	require.NoError(t, err)
	return o
}

func (f *fixture) count(t *testing.T, table store.Table) int {
	t.Helper()
	ctx := context.Background()
	switch table {
	case store.Dispatches:
		list, err := store.List[entity.Dispatch](ctx, f.store, table, nil)
		require.NoError(t, err)
		return len(list)
	case store.FinancialRecords:
		list, err := store.List[entity.FinancialRecord](ctx, f.store, table, nil)
		require.NoError(t, err)
		return len(list)
	}
	t.Fatalf("count: unsupported table %s", table)
	return 0
}

func requireKind(t *testing.T, err error, kind errorbank.Kind) *errorbank.AppError {
	t.Helper()
	require.Error(t, err)
	appErr := errorbank.From(err)
	require.Equal(t, kind, appErr.Kind(), "error: %v", err)
	return appErr
}

func TestApproveOrderCreatesDispatchAndPostsPayment(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	ctx := context.Background()

	res, err := f.svc.ApproveOrder(ctx, 1)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, int64(1), res.Dispatch.OrderID)
	assert.Equal(t, entity.DispatchPending, res.Dispatch.Status)
	assert.Nil(t, res.Dispatch.DriverID)
	assert.Equal(t, int64(2), res.Entry.Seq)
	assert.True(t, res.Entry.Balance.Equal(decimal.NewFromInt(6000)), "balance %s", res.Entry.Balance)

	o := f.order(t, 1)
	assert.Equal(t, entity.FinanceApproved, o.FinanceApproval)
	assert.Equal(t, entity.StageLedgerPosted, o.ApprovalStage)

	last, ok := f.rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.Success, last.Severity)
	assert.Contains(t, last.Message, "order 1 approved")
}

func TestApproveOrderTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	ctx := context.Background()

	_, err := f.svc.ApproveOrder(ctx, 1)
	require.NoError(t, err)

	_, err = f.svc.ApproveOrder(ctx, 1)
	appErr := requireKind(t, err, errorbank.KindUnprocessableEntity)
	assert.Contains(t, appErr.Message(), "already approved")
	assert.Equal(t, 1, f.count(t, store.Dispatches))
	assert.Equal(t, 2, f.count(t, store.FinancialRecords))

	last, _ := f.rec.Last()
	assert.Equal(t, notify.Warning, last.Severity)
}

func TestApproveOrderMissingOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApproveOrder(context.Background(), 99)
	requireKind(t, err, errorbank.KindNotFound)
}

func TestApproveOrderStepOneFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	f.store.FailNext(storetest.OpUpdate, store.Orders, nil)

	_, err := f.svc.ApproveOrder(context.Background(), 1)
	appErr := requireKind(t, err, errorbank.KindUnavailable)
	step, _ := appErr.Detail(errorbank.DetailStep)
	assert.Equal(t, StepApprove, step)
	assert.True(t, appErr.Retryable())

	o := f.order(t, 1)
	assert.Equal(t, entity.FinancePending, o.FinanceApproval)
	assert.Equal(t, 0, f.count(t, store.Dispatches))

	last, _ := f.rec.Last()
	assert.Equal(t, notify.Danger, last.Severity)
}

func TestApproveOrderResumesAfterDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	ctx := context.Background()
	f.store.FailNext(storetest.OpInsert, store.Dispatches, nil)

	_, err := f.svc.ApproveOrder(ctx, 1)
	appErr := requireKind(t, err, errorbank.KindPartialFailure)
	step, _ := appErr.Detail(errorbank.DetailStep)
	stage, _ := appErr.Detail(errorbank.DetailStage)
	assert.Equal(t, StepCreateDispatch, step)
	assert.Equal(t, string(entity.StageFinanceApproved), stage)

	o := f.order(t, 1)
	assert.Equal(t, entity.FinanceApproved, o.FinanceApproval)
	assert.Equal(t, entity.StageFinanceApproved, o.ApprovalStage)
	assert.Equal(t, 0, f.count(t, store.Dispatches))
	assert.Equal(t, 1, f.count(t, store.FinancialRecords))

	res, err := f.svc.ApproveOrder(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 1, f.count(t, store.Dispatches))
	assert.True(t, res.Entry.Balance.Equal(decimal.NewFromInt(6000)))
	assert.Equal(t, entity.StageLedgerPosted, f.order(t, 1).ApprovalStage)
}

func TestApproveOrderResumesAfterLedgerFailure(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	ctx := context.Background()
	f.store.FailAlways(storetest.OpInsert, store.FinancialRecords, nil)

	_, err := f.svc.ApproveOrder(ctx, 1)
	appErr := requireKind(t, err, errorbank.KindPartialFailure)
	step, _ := appErr.Detail(errorbank.DetailStep)
	stage, _ := appErr.Detail(errorbank.DetailStage)
	assert.Equal(t, StepPostLedger, step)
	assert.Equal(t, string(entity.StageDispatchCreated), stage)
	assert.Equal(t, 1, f.count(t, store.Dispatches))
	assert.Equal(t, 1, f.count(t, store.FinancialRecords))

	f.store.Clear()
	res, err := f.svc.ApproveOrder(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 1, f.count(t, store.Dispatches))
	assert.Equal(t, 2, f.count(t, store.FinancialRecords))

	report, err := f.ledger.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
}

func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)

	const callers = 8
	var mu sync.Mutex
	succeeded := 0
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := f.svc.ApproveOrder(ctx, 1)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return nil
			}
			if errorbank.IsKind(err, errorbank.KindUnprocessableEntity) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.count(t, store.Dispatches))
	assert.Equal(t, 2, f.count(t, store.FinancialRecords))
}

func TestLedgerPostingHoldsWithoutOrderLock(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	o := f.order(t, 1)

	// Two approvals whose order leases have both lapsed race on the posting step.
	g, ctx := errgroup.WithContext(context.Background())
	entries := make([]*entity.FinancialRecord, 2)
	for i := range entries {
		g.Go(func() error {
			var err error
			entries[i], err = f.svc.ensureLedgerEntry(ctx, o)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, 2, f.count(t, store.FinancialRecords))
	report, err := f.ledger.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(6000)))
}

func TestReconcileApprovalsResumesStuckOrders(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	ctx := context.Background()
	f.store.FailNext(storetest.OpInsert, store.Dispatches, nil)
	_, err := f.svc.ApproveOrder(ctx, 1)
	requireKind(t, err, errorbank.KindPartialFailure)

	report, err := f.svc.ReconcileApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, report.Resumed)
	assert.Empty(t, report.Failed)

	report, err = f.svc.ReconcileApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Resumed)
}

func TestDeclineOrder(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	ctx := context.Background()

	o, err := f.svc.DeclineOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.FinanceDeclined, o.FinanceApproval)

	_, err = f.svc.ApproveOrder(ctx, 1)
	requireKind(t, err, errorbank.KindUnprocessableEntity)
	_, err = f.svc.DeclineOrder(ctx, 1)
	requireKind(t, err, errorbank.KindUnprocessableEntity)
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1, entity.RoleCustomer)
	f.user(t, 2, entity.RoleDriver)
	require.NoError(t, f.store.Insert(ctx, store.Products, &entity.Product{
		ID: 3, Name: "Split AC", Price: decimal.RequireFromString("1250.50"), StockQuantity: 4,
	}))

	tests := []struct {
		name string
		in   PlaceOrderInput
		kind errorbank.Kind
	}{
		{"zero quantity", PlaceOrderInput{CustomerID: 1, ProductID: 3}, errorbank.KindBadRequest},
		{"missing product", PlaceOrderInput{CustomerID: 1, Quantity: 1}, errorbank.KindBadRequest},
		{"not a customer", PlaceOrderInput{CustomerID: 2, ProductID: 3, Quantity: 1}, errorbank.KindBadRequest},
		{"unknown product", PlaceOrderInput{CustomerID: 1, ProductID: 9, Quantity: 1}, errorbank.KindNotFound},
		{"unknown customer", PlaceOrderInput{CustomerID: 8, ProductID: 3, Quantity: 1}, errorbank.KindNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, tc.in)
			requireKind(t, err, tc.kind)
		})
	}

	o, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{CustomerID: 1, ProductID: 3, Quantity: 2, DeliveryAddress: "12 Elm St", PaymentMethod: "card"})
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("2501")))
	assert.Equal(t, entity.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, entity.FinancePending, o.FinanceApproval)
	assert.Equal(t, entity.StageNone, o.ApprovalStage)

	list, err := f.svc.List(ctx, ListFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = f.svc.List(ctx, ListFilter{FinanceApproval: entity.FinanceApproved})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetUsesCacheAndInvalidatesOnApproval(t *testing.T) {
	f := newFixture(t)
	f.seedPendingOrder(t)
	ctx := context.Background()

	o, err := f.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.FinancePending, o.FinanceApproval)
	_, cached := f.cache.data["orders:1"]
	assert.True(t, cached)

	reads := f.store.Calls(storetest.OpSelect)
	_, err = f.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, reads, f.store.Calls(storetest.OpSelect), "second read should be served from cache")

	_, err = f.svc.ApproveOrder(ctx, 1)
	require.NoError(t, err)
	o, err = f.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.FinanceApproved, o.FinanceApproval)

	_, err = f.svc.Get(ctx, 42)
	requireKind(t, err, errorbank.KindNotFound)
}

func approvedDispatch(t *testing.T, f *fixture) *entity.Dispatch {
	t.Helper()
	f.seedPendingOrder(t)
	res, err := f.svc.ApproveOrder(context.Background(), 1)
	require.NoError(t, err)
	return res.Dispatch
}

func TestAssignDriverRejectsReassignmentUntilDecline(t *testing.T) {
	f := newFixture(t)
	d := approvedDispatch(t, f)
	f.user(t, 42, entity.RoleDriver)
	f.user(t, 43, entity.RoleDriver)
	ctx := context.Background()

	got, err := f.svc.AssignDriver(ctx, d.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchAssigned, got.Status)
	assert.Equal(t, entity.AssigneePending, got.DriverStatus)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, int64(42), *got.DriverID)

	_, err = f.svc.AssignDriver(ctx, d.ID, 43)
	requireKind(t, err, errorbank.KindUnprocessableEntity)

	declined, err := f.svc.DriverRespond(ctx, d.ID, 42, entity.DecisionDecline)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchAssigned, declined.Status)
	assert.Equal(t, entity.AssigneeDeclined, declined.DriverStatus)

	got, err = f.svc.AssignDriver(ctx, d.ID, 43)
	require.NoError(t, err)
	assert.Equal(t, int64(43), *got.DriverID)
	assert.Equal(t, entity.AssigneePending, got.DriverStatus)
}

func TestAssignDriverValidation(t *testing.T) {
	f := newFixture(t)
	d := approvedDispatch(t, f)
	f.user(t, 5, entity.RoleTechnician)
	ctx := context.Background()

	_, err := f.svc.AssignDriver(ctx, d.ID, 5)
	requireKind(t, err, errorbank.KindBadRequest)
	_, err = f.svc.AssignDriver(ctx, d.ID, 77)
	requireKind(t, err, errorbank.KindNotFound)
	_, err = f.svc.AssignDriver(ctx, 404, 5)
	requireKind(t, err, errorbank.KindNotFound)
}

func TestBusyDriverCannotTakeSecondDispatch(t *testing.T) {
	f := newFixture(t)
	first := approvedDispatch(t, f)
	ctx := context.Background()
	f.user(t, 42, entity.RoleDriver)
	f.user(t, 44, entity.RoleDriver)
	require.NoError(t, f.store.Insert(ctx, store.Dispatches, &entity.Dispatch{
		OrderID: 2, UserID: 1, Status: entity.DispatchPending, DriverStatus: entity.AssigneePending,
	}))
	second, err := store.First[entity.Dispatch](ctx, f.store, store.Dispatches, store.Where("order_id", int64(2)))
	require.NoError(t, err)

	_, err = f.svc.AssignDriver(ctx, first.ID, 42)
	require.NoError(t, err)

	available, err := f.svc.AvailableDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, int64(44), available[0].ID)

	_, err = f.svc.AssignDriver(ctx, second.ID, 42)
	requireKind(t, err, errorbank.KindUnprocessableEntity)

	_, err = f.svc.DriverRespond(ctx, first.ID, 42, entity.DecisionDecline)
	require.NoError(t, err)
	available, err = f.svc.AvailableDrivers(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 2)
}

func TestDeliveryLifecycle(t *testing.T) {
	f := newFixture(t)
	d := approvedDispatch(t, f)
	f.user(t, 42, entity.RoleDriver)
	ctx := context.Background()

	_, err := f.svc.AssignDriver(ctx, d.ID, 42)
	require.NoError(t, err)

	_, err = f.svc.CompleteDispatch(ctx, d.ID, 42)
	requireKind(t, err, errorbank.KindUnprocessableEntity)

	_, err = f.svc.DriverRespond(ctx, d.ID, 7, entity.DecisionAccept)
	requireKind(t, err, errorbank.KindUnprocessableEntity)
	_, err = f.svc.DriverRespond(ctx, d.ID, 42, entity.Decision("maybe"))
	requireKind(t, err, errorbank.KindBadRequest)

	accepted, err := f.svc.DriverRespond(ctx, d.ID, 42, entity.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, entity.AssigneeAccepted, accepted.DriverStatus)

	_, err = f.svc.DriverRespond(ctx, d.ID, 42, entity.DecisionDecline)
	requireKind(t, err, errorbank.KindUnprocessableEntity)

	done, err := f.svc.CompleteDispatch(ctx, d.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, entity.DispatchComplete, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = f.svc.CompleteDispatch(ctx, d.ID, 42)
	requireKind(t, err, errorbank.KindUnprocessableEntity)
	_, err = f.svc.AssignDriver(ctx, d.ID, 42)
	requireKind(t, err, errorbank.KindUnprocessableEntity)

	delivered, err := f.svc.DeliveredOrders(ctx)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, int64(1), delivered[0].Order.ID)
	assert.Equal(t, d.ID, delivered[0].Dispatch.ID)

	list, err := f.svc.ListDispatches(ctx, DispatchFilter{DriverID: 42, Status: entity.DispatchComplete})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	available, err := f.svc.AvailableDrivers(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 1)
}

func TestDriverSetImpliesAssignedOrComplete(t *testing.T) {
	f := newFixture(t)
	d := approvedDispatch(t, f)
	f.user(t, 42, entity.RoleDriver)
	ctx := context.Background()

	check := func() {
		got, err := f.svc.GetDispatch(ctx, d.ID)
		require.NoError(t, err)
		if got.DriverID != nil {
			assert.Contains(t, []entity.DispatchStatus{entity.DispatchAssigned, entity.DispatchComplete}, got.Status)
		}
	}
	check()
	_, err := f.svc.AssignDriver(ctx, d.ID, 42)
	require.NoError(t, err)
	check()
	_, err = f.svc.DriverRespond(ctx, d.ID, 42, entity.DecisionAccept)
	require.NoError(t, err)
	check()
	_, err = f.svc.CompleteDispatch(ctx, d.ID, 42)
	require.NoError(t, err)
	check()
}

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/store"
)

func ptr[T any](v T) *T { return &v }

func TestInsertAssignsKeysAndTimestamps(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	first := &entity.Order{CustomerID: 1, ProductID: 2, Quantity: 1}
	second := &entity.Order{CustomerID: 1, ProductID: 3, Quantity: 2}
	require.NoError(t, s.Insert(ctx, store.Orders, first))
	require.NoError(t, s.Insert(ctx, store.Orders, second))

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, fixed, first.CreatedAt)
	assert.Equal(t, 2, s.Count(store.Orders))
}

func TestInsertRejectsDuplicateUniqueKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, store.Dispatches, &entity.Dispatch{OrderID: 7, UserID: 1}))
	err := s.Insert(ctx, store.Dispatches, &entity.Dispatch{OrderID: 7, UserID: 2})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 1, s.Count(store.Dispatches))
}

func TestInsertRejectsNonPointer(t *testing.T) {
	s := New()
	err := s.Insert(context.Background(), store.Orders, entity.Order{})
	require.Error(t, err)
}

func TestSelectFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	rows := []*entity.Dispatch{
		{OrderID: 1, DriverID: ptr(int64(10)), Status: entity.DispatchAssigned, DriverStatus: entity.AssigneeAccepted},
		{OrderID: 2, Status: entity.DispatchPending, DriverStatus: entity.AssigneePending},
		{OrderID: 3, DriverID: ptr(int64(11)), Status: entity.DispatchComplete, DriverStatus: entity.AssigneeAccepted},
	}
	for _, r := range rows {
		require.NoError(t, s.Insert(ctx, store.Dispatches, r))
	}

	tests := []struct {
		name   string
		filter *store.Filter
		orders []int64
	}{
		{"nil filter", nil, []int64{1, 2, 3}},
		{"eq", store.Where("status", entity.DispatchPending), []int64{2}},
		{"eq typed int", store.Where("driver_id", 10), []int64{1}},
		{"ne skips null", (&store.Filter{}).Ne("driver_id", int64(10)), []int64{3}},
		{"is null", (&store.Filter{}).IsNull("driver_id"), []int64{2}},
		{"not null", (&store.Filter{}).NotNull("driver_id"), []int64{1, 3}},
		{"in", (&store.Filter{}).In("order_id", int64(1), int64(3)), []int64{1, 3}},
		{"empty in", (&store.Filter{}).In("order_id"), nil},
		{"order desc limit", (&store.Filter{}).Order("order_id", true).Take(2), []int64{3, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List[entity.Dispatch](ctx, s, store.Dispatches, tt.filter)
			require.NoError(t, err)
			ids := make([]int64, 0, len(got))
			for _, d := range got {
				ids = append(ids, d.OrderID)
			}
			if tt.orders == nil {
				assert.Empty(t, ids)
				return
			}
			assert.Equal(t, tt.orders, ids)
		})
	}
}

func TestSelectUnknownColumn(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, store.Orders, &entity.Order{}))

	_, err := store.List[entity.Order](ctx, s, store.Orders, store.Where("number", "x"))
	require.Error(t, err)
}

func TestSelectReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, store.Dispatches, &entity.Dispatch{OrderID: 1, DriverID: ptr(int64(5))}))

	got, err := store.Get[entity.Dispatch](ctx, s, store.Dispatches, 1)
	require.NoError(t, err)
	*got.DriverID = 99

	again, err := store.Get[entity.Dispatch](ctx, s, store.Dispatches, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), *again.DriverID)
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := store.Get[entity.Order](context.Background(), s, store.Orders, 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateAppliesPatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, store.Repairs, &entity.Repair{CustomerID: 1, Status: entity.RepairPending}))

	err := s.Update(ctx, store.Repairs, 1, store.Patch{
		"technician_id":      int64(4),
		"status":             entity.RepairAssigned,
		"technician_status":  "accepted",
		"materials_assigned": 3,
	})
	require.NoError(t, err)

	got, err := store.Get[entity.Repair](ctx, s, store.Repairs, 1)
	require.NoError(t, err)
	require.NotNil(t, got.TechnicianID)
	assert.Equal(t, int64(4), *got.TechnicianID)
	assert.Equal(t, entity.RepairAssigned, got.Status)
	assert.Equal(t, entity.AssigneeAccepted, got.TechnicianStatus)
	require.NotNil(t, got.MaterialsAssigned)
	assert.Equal(t, int64(3), *got.MaterialsAssigned)

	require.NoError(t, s.Update(ctx, store.Repairs, 1, store.Patch{"technician_id": nil}))
	got, err = store.Get[entity.Repair](ctx, s, store.Repairs, 1)
	require.NoError(t, err)
	assert.Nil(t, got.TechnicianID)
}

func TestUpdateErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, store.FinancialRecords, &entity.FinancialRecord{Seq: 1, Amount: decimal.NewFromInt(5)}))
	require.NoError(t, s.Insert(ctx, store.FinancialRecords, &entity.FinancialRecord{Seq: 2, Amount: decimal.NewFromInt(5)}))

	require.ErrorIs(t, s.Update(ctx, store.FinancialRecords, 9, store.Patch{"seq": 3}), store.ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, store.FinancialRecords, 2, store.Patch{"seq": int64(1)}), store.ErrConflict)
	require.Error(t, s.Update(ctx, store.FinancialRecords, 2, store.Patch{"unknown": 1}))
	require.Error(t, s.Update(ctx, store.FinancialRecords, 2, store.Patch{"id": 5}))
	require.Error(t, s.Update(ctx, store.FinancialRecords, 2, store.Patch{"seq": "three"}))
}

func TestSelectDecimalEquality(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, store.Products, &entity.Product{Name: "Heat pump", Price: decimal.RequireFromString("1200.00")}))

	got, err := store.List[entity.Product](ctx, s, store.Products, store.Where("price", decimal.NewFromInt(1200)))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSubscribeSeesWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	var changes []store.Change
	cancel := s.Subscribe(store.Orders, func(c store.Change) { changes = append(changes, c) })
	defer cancel()

	require.NoError(t, s.Insert(ctx, store.Orders, &entity.Order{CustomerID: 1}))
	require.NoError(t, s.Update(ctx, store.Orders, 1, store.Patch{"finance_approval": entity.FinanceApproved}))

	require.Len(t, changes, 2)
	assert.Equal(t, store.ChangeInsert, changes[0].Kind)
	row, ok := changes[0].Row.(*entity.Order)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.ID)
	assert.Equal(t, store.ChangeUpdate, changes[1].Kind)
	assert.Equal(t, entity.FinanceApproved, changes[1].Patch["finance_approval"])
}

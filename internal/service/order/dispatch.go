package order

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/workflow"
)

func (s *Service) dispatchOp(name string, dispatchID, driverID int64) workflow.Operation {
	op := workflow.Operation{
		Workflow: workflowName,
		Name:     name,
		Locks:    []string{lock.Key("dispatch", dispatchID)},
		Attrs: []attribute.KeyValue{
			attribute.Int64("dispatch.id", dispatchID),
			attribute.Int64("driver.id", driverID),
		},
	}
	return op
}

// AssignDriver puts a driver on a pending dispatch, or on one whose previous
// driver declined.
func (s *Service) AssignDriver(ctx context.Context, dispatchID, driverID int64) (*entity.Dispatch, error) {
	op := s.dispatchOp("assign_driver", dispatchID, driverID)
	// the driver lock keeps one driver from landing on two dispatches at once
	op.Locks = append(op.Locks, lock.Key("driver", driverID))

	var dispatch *entity.Dispatch
	err := s.exec.Run(ctx, op, func(ctx context.Context) (string, error) {
		d, err := store.Get[entity.Dispatch](ctx, s.store, store.Dispatches, dispatchID)
		if err != nil {
			return "", workflow.Load("dispatch", dispatchID, err)
		}
		switch {
		case d.Status == entity.DispatchPending:
		case d.Status == entity.DispatchAssigned && d.DriverStatus == entity.AssigneeDeclined:
		case d.DriverID != nil && d.Status != entity.DispatchComplete:
			return "", workflow.Rejected("dispatch %d is already assigned to driver %d", dispatchID, *d.DriverID)
		default:
			return "", workflow.Rejected("dispatch %d is %s and cannot be assigned", dispatchID, d.Status)
		}

		driver, err := store.Get[entity.User](ctx, s.store, store.Users, driverID)
		if err != nil {
			return "", workflow.Load("driver", driverID, err)
		}
		if driver.Role != entity.RoleDriver {
			return "", workflow.Invalid("user %d is not a driver", driverID)
		}
		busy, err := store.List[entity.Dispatch](ctx, s.store, store.Dispatches, openDispatches().Eq("driver_id", driverID))
		if err != nil {
			return "", workflow.Transient("check_driver_availability", err, map[string]any{"driver_id": driverID})
		}
		for _, other := range busy {
			if other.ID != dispatchID {
				return "", workflow.Rejected("driver %d is on dispatch %d", driverID, other.ID)
			}
		}

		now := s.now()
		if err := s.store.Update(ctx, store.Dispatches, dispatchID, store.Patch{
			"driver_id":     driverID,
			"status":        entity.DispatchAssigned,
			"driver_status": entity.AssigneePending,
			"updated_at":    now,
		}); err != nil {
			return "", workflow.Transient("assign_driver", err, map[string]any{"dispatch_id": dispatchID})
		}
		d.DriverID = &driverID
		d.Status = entity.DispatchAssigned
		d.DriverStatus = entity.AssigneePending
		d.UpdatedAt = now
		dispatch = d

		s.publisher.Publish(ctx, workflowName, events.DispatchAssigned, dispatchID, map[string]any{
			"order_id":  d.OrderID,
			"driver_id": driverID,
		})
		return fmt.Sprintf("driver %d assigned to dispatch %d", driverID, dispatchID), nil
	})
	if err != nil {
		return nil, err
	}
	return dispatch, nil
}

// AvailableDrivers lists drivers not occupied by an open dispatch.
func (s *Service) AvailableDrivers(ctx context.Context) ([]entity.User, error) {
	drivers, err := store.List[entity.User](ctx, s.store, store.Users, store.Where("role", entity.RoleDriver))
	if err != nil {
		return nil, workflow.Transient("list_drivers", err, nil)
	}
	open, err := store.List[entity.Dispatch](ctx, s.store, store.Dispatches, openDispatches())
	if err != nil {
		return nil, workflow.Transient("list_open_dispatches", err, nil)
	}
	busy := make(map[int64]bool, len(open))
	for _, d := range open {
		busy[*d.DriverID] = true
	}
	available := make([]entity.User, 0, len(drivers))
	for _, u := range drivers {
		if !busy[u.ID] {
			available = append(available, u)
		}
	}
	return available, nil
}

// DriverRespond records the assigned driver's answer. A decline leaves the
// dispatch assigned to that driver until it is reassigned.
func (s *Service) DriverRespond(ctx context.Context, dispatchID, driverID int64, decision entity.Decision) (*entity.Dispatch, error) {
	if !decision.Valid() {
		return nil, workflow.Invalid("decision must be accept or decline")
	}
	var dispatch *entity.Dispatch
	err := s.exec.Run(ctx, s.dispatchOp("driver_respond", dispatchID, driverID), func(ctx context.Context) (string, error) {
		d, err := store.Get[entity.Dispatch](ctx, s.store, store.Dispatches, dispatchID)
		if err != nil {
			return "", workflow.Load("dispatch", dispatchID, err)
		}
		if !d.AssignedTo(driverID) {
			return "", workflow.Rejected("dispatch %d is not assigned to driver %d", dispatchID, driverID)
		}
		if d.Status != entity.DispatchAssigned || d.DriverStatus != entity.AssigneePending {
			return "", workflow.Rejected("dispatch %d is not awaiting a response (status %s, driver %s)", dispatchID, d.Status, d.DriverStatus)
		}

		outcome := decision.Outcome()
		now := s.now()
		if err := s.store.Update(ctx, store.Dispatches, dispatchID, store.Patch{
			"driver_status": outcome,
			"updated_at":    now,
		}); err != nil {
			return "", workflow.Transient("driver_respond", err, map[string]any{"dispatch_id": dispatchID})
		}
		d.DriverStatus = outcome
		d.UpdatedAt = now
		dispatch = d

		typ := events.DispatchAccepted
		if outcome == entity.AssigneeDeclined {
			typ = events.DispatchDeclined
		}
		s.publisher.Publish(ctx, workflowName, typ, dispatchID, map[string]any{"driver_id": driverID})
		return fmt.Sprintf("driver %d %s dispatch %d", driverID, outcome, dispatchID), nil
	})
	if err != nil {
		return nil, err
	}
	return dispatch, nil
}

// CompleteDispatch marks a delivery done by the driver who accepted it.
func (s *Service) CompleteDispatch(ctx context.Context, dispatchID, driverID int64) (*entity.Dispatch, error) {
	var dispatch *entity.Dispatch
	err := s.exec.Run(ctx, s.dispatchOp("complete_dispatch", dispatchID, driverID), func(ctx context.Context) (string, error) {
		d, err := store.Get[entity.Dispatch](ctx, s.store, store.Dispatches, dispatchID)
		if err != nil {
			return "", workflow.Load("dispatch", dispatchID, err)
		}
		if !d.AssignedTo(driverID) {
			return "", workflow.Rejected("dispatch %d is not assigned to driver %d", dispatchID, driverID)
		}
		if d.Status == entity.DispatchComplete {
			return "", workflow.Rejected("dispatch %d is already complete", dispatchID)
		}
		if d.DriverStatus != entity.AssigneeAccepted {
			return "", workflow.Rejected("driver %d has not accepted dispatch %d", driverID, dispatchID)
		}

		now := s.now()
		if err := s.store.Update(ctx, store.Dispatches, dispatchID, store.Patch{
			"status":       entity.DispatchComplete,
			"completed_at": now,
			"updated_at":   now,
		}); err != nil {
			return "", workflow.Transient("complete_dispatch", err, map[string]any{"dispatch_id": dispatchID})
		}
		d.Status = entity.DispatchComplete
		d.CompletedAt = &now
		d.UpdatedAt = now
		dispatch = d

		s.publisher.Publish(ctx, workflowName, events.DispatchCompleted, dispatchID, map[string]any{
			"order_id":  d.OrderID,
			"driver_id": driverID,
		})
		return fmt.Sprintf("dispatch %d for order %d delivered", dispatchID, d.OrderID), nil
	})
	if err != nil {
		return nil, err
	}
	return dispatch, nil
}

// DeliveredOrder pairs an order with its completed dispatch.
type DeliveredOrder struct {
	Order    entity.Order    `json:"order"`
	Dispatch entity.Dispatch `json:"dispatch"`
}

// DeliveredOrders lists orders whose dispatch is complete.
func (s *Service) DeliveredOrders(ctx context.Context) ([]DeliveredOrder, error) {
	done, err := store.List[entity.Dispatch](ctx, s.store, store.Dispatches, store.Where("status", entity.DispatchComplete))
	if err != nil {
		return nil, workflow.Transient("list_completed_dispatches", err, nil)
	}
	if len(done) == 0 {
		return []DeliveredOrder{}, nil
	}
	ids := make([]any, 0, len(done))
	byOrder := make(map[int64]entity.Dispatch, len(done))
	for _, d := range done {
		ids = append(ids, d.OrderID)
		byOrder[d.OrderID] = d
	}
	orders, err := store.List[entity.Order](ctx, s.store, store.Orders, (&store.Filter{}).In("id", ids...))
	if err != nil {
		return nil, workflow.Transient("list_delivered_orders", err, nil)
	}
	out := make([]DeliveredOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, DeliveredOrder{Order: o, Dispatch: byOrder[o.ID]})
	}
	return out, nil
}

// GetDispatch loads a dispatch by id.
func (s *Service) GetDispatch(ctx context.Context, id int64) (*entity.Dispatch, error) {
	d, err := store.Get[entity.Dispatch](ctx, s.store, store.Dispatches, id)
	if err != nil {
		return nil, workflow.Load("dispatch", id, err)
	}
	return d, nil
}

// DispatchFilter narrows ListDispatches.
type DispatchFilter struct {
	Status   entity.DispatchStatus
	DriverID int64
	OrderID  int64
	Limit    int
}

// ListDispatches returns dispatches matching f.
func (s *Service) ListDispatches(ctx context.Context, f DispatchFilter) ([]entity.Dispatch, error) {
	filter := &store.Filter{}
	if f.Status != "" {
		filter.Eq("status", f.Status)
	}
	if f.DriverID > 0 {
		filter.Eq("driver_id", f.DriverID)
	}
	if f.OrderID > 0 {
		filter.Eq("order_id", f.OrderID)
	}
	filter.Take(f.Limit)

	rows, err := store.List[entity.Dispatch](ctx, s.store, store.Dispatches, filter)
	if err != nil {
		return nil, workflow.Transient("list_dispatches", err, nil)
	}
	return rows, nil
}

// openDispatches selects dispatches that still occupy their driver.
func openDispatches() *store.Filter {
	return (&store.Filter{}).
		NotNull("driver_id").
		Ne("status", entity.DispatchComplete).
		Ne("driver_status", entity.AssigneeDeclined)
}

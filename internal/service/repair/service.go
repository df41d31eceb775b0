package repair

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/workflow"
)

const workflowName = "repair"

// Service runs the repair ticket workflow and its supervisor and finance track.
type Service struct {
	store     store.Store
	exec      *workflow.Executor
	publisher *events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     store.Store
	Executor  *workflow.Executor
	Publisher *events.Publisher `optional:"true"`
	Logger    *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     p.Store,
		exec:      p.Executor,
		publisher: p.Publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestInput opens a repair ticket. Exactly one of ProductID and ServiceID is set.
type RequestInput struct {
	CustomerID  int64
	ProductID   *int64
	ServiceID   *int64
	Description string
}

// RequestRepair records a new pending ticket.
func (s *Service) RequestRepair(ctx context.Context, in RequestInput) (*entity.Repair, error) {
	var repair *entity.Repair
	err := s.exec.Run(ctx, workflow.Operation{
		Workflow: workflowName,
		Name:     "request_repair",
		Attrs:    []attribute.KeyValue{attribute.Int64("customer.id", in.CustomerID)},
	}, func(ctx context.Context) (string, error) {
		if (in.ProductID == nil) == (in.ServiceID == nil) {
			return "", workflow.Invalid("exactly one of product_id and service_id is required")
		}
		customer, err := store.Get[entity.User](ctx, s.store, store.Users, in.CustomerID)
		if err != nil {
			return "", workflow.Load("customer", in.CustomerID, err)
		}
		if customer.Role != entity.RoleCustomer {
			return "", workflow.Invalid("user %d is not a customer", in.CustomerID)
		}
		if in.ProductID != nil {
			if _, err := store.Get[entity.Product](ctx, s.store, store.Products, *in.ProductID); err != nil {
				return "", workflow.Load("product", *in.ProductID, err)
			}
		}

		now := s.now()
		r := &entity.Repair{
			CustomerID:       in.CustomerID,
			ProductID:        in.ProductID,
			ServiceID:        in.ServiceID,
			Description:      in.Description,
			Status:           entity.RepairPending,
			TechnicianStatus: entity.AssigneePending,
			FinanceStatus:    entity.RepairFinancePending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.store.Insert(ctx, store.Repairs, r); err != nil {
			return "", workflow.Transient("insert_repair", err, nil)
		}
		repair = r
		s.publisher.Publish(ctx, workflowName, events.RepairRequested, r.ID, r)
		return fmt.Sprintf("repair %d requested", r.ID), nil
	})
	if err != nil {
		return nil, err
	}
	return repair, nil
}

// AssignTechnician puts a technician on a pending ticket, or on one whose
// technician declined.
func (s *Service) AssignTechnician(ctx context.Context, repairID, technicianID int64) (*entity.Repair, error) {
	return s.transition(ctx, "assign_technician", repairID, technicianID, func(ctx context.Context, r *entity.Repair) (store.Patch, events.Type, string, error) {
		switch {
		case r.Status == entity.RepairPending:
		case r.Status == entity.RepairAssigned && r.TechnicianStatus == entity.AssigneeDeclined:
		case r.TechnicianID != nil:
			return nil, "", "", workflow.Rejected("repair %d is already assigned to technician %d", r.ID, *r.TechnicianID)
		default:
			return nil, "", "", workflow.Rejected("repair %d is %s and cannot be assigned", r.ID, r.Status)
		}
		tech, err := store.Get[entity.User](ctx, s.store, store.Users, technicianID)
		if err != nil {
			return nil, "", "", workflow.Load("technician", technicianID, err)
		}
		if tech.Role != entity.RoleTechnician {
			return nil, "", "", workflow.Invalid("user %d is not a technician", technicianID)
		}
		return store.Patch{
			"technician_id":     technicianID,
			"status":            entity.RepairAssigned,
			"technician_status": entity.AssigneePending,
		}, events.RepairAssigned, fmt.Sprintf("technician %d assigned to repair %d", technicianID, r.ID), nil
	})
}

// TechnicianRespond records the assigned technician's answer. Status stays
// assigned either way.
func (s *Service) TechnicianRespond(ctx context.Context, repairID, technicianID int64, decision entity.Decision) (*entity.Repair, error) {
	if !decision.Valid() {
		return nil, workflow.Invalid("decision must be accept or decline")
	}
	return s.transition(ctx, "technician_respond", repairID, technicianID, func(_ context.Context, r *entity.Repair) (store.Patch, events.Type, string, error) {
		if !r.AssignedTo(technicianID) {
			return nil, "", "", workflow.Rejected("repair %d is not assigned to technician %d", r.ID, technicianID)
		}
		if r.Status != entity.RepairAssigned || r.TechnicianStatus != entity.AssigneePending {
			return nil, "", "", workflow.Rejected("repair %d is not awaiting a response (status %s, technician %s)", r.ID, r.Status, r.TechnicianStatus)
		}
		outcome := decision.Outcome()
		typ := events.RepairAccepted
		if outcome == entity.AssigneeDeclined {
			typ = events.RepairDeclined
		}
		return store.Patch{"technician_status": outcome}, typ,
			fmt.Sprintf("technician %d %s repair %d", technicianID, outcome, r.ID), nil
	})
}

// StartRepair moves an accepted ticket into progress.
func (s *Service) StartRepair(ctx context.Context, repairID, technicianID int64) (*entity.Repair, error) {
	return s.transition(ctx, "start_repair", repairID, technicianID, func(_ context.Context, r *entity.Repair) (store.Patch, events.Type, string, error) {
		if !r.AssignedTo(technicianID) {
			return nil, "", "", workflow.Rejected("repair %d is not assigned to technician %d", r.ID, technicianID)
		}
		if r.TechnicianStatus != entity.AssigneeAccepted || r.Status != entity.RepairAssigned {
			return nil, "", "", workflow.Rejected("repair %d cannot start (status %s, technician %s)", r.ID, r.Status, r.TechnicianStatus)
		}
		return store.Patch{"status": entity.RepairInProgress}, events.RepairStarted,
			fmt.Sprintf("repair %d started", r.ID), nil
	})
}

// AssignMaterials issues a material to an accepted ticket.
func (s *Service) AssignMaterials(ctx context.Context, repairID, materialID int64) (*entity.Repair, error) {
	return s.transition(ctx, "assign_materials", repairID, 0, func(ctx context.Context, r *entity.Repair) (store.Patch, events.Type, string, error) {
		if r.TechnicianStatus != entity.AssigneeAccepted {
			return nil, "", "", workflow.Rejected("repair %d has no accepted technician", r.ID)
		}
		if r.Status == entity.RepairCompleted {
			return nil, "", "", workflow.Rejected("repair %d is already completed", r.ID)
		}
		if _, err := store.Get[entity.Material](ctx, s.store, store.Materials, materialID); err != nil {
			return nil, "", "", workflow.Load("material", materialID, err)
		}
		return store.Patch{"materials_assigned": materialID}, events.RepairMaterialsAssigned,
			fmt.Sprintf("material %d assigned to repair %d", materialID, r.ID), nil
	})
}

// MarkRepairComplete closes an accepted ticket.
func (s *Service) MarkRepairComplete(ctx context.Context, repairID int64) (*entity.Repair, error) {
	return s.transition(ctx, "complete_repair", repairID, 0, func(_ context.Context, r *entity.Repair) (store.Patch, events.Type, string, error) {
		if r.TechnicianStatus != entity.AssigneeAccepted {
			return nil, "", "", workflow.Rejected("repair %d has no accepted technician", r.ID)
		}
		if r.Status != entity.RepairAssigned && r.Status != entity.RepairInProgress {
			return nil, "", "", workflow.Rejected("repair %d is %s and cannot be completed", r.ID, r.Status)
		}
		return store.Patch{"status": entity.RepairCompleted}, events.RepairCompleted,
			fmt.Sprintf("repair %d completed", r.ID), nil
	})
}

// SupervisorApprove records the approving supervisor. Approving again
// overwrites the previous supervisor.
func (s *Service) SupervisorApprove(ctx context.Context, repairID, supervisorID int64) (*entity.Repair, error) {
	return s.transition(ctx, "supervisor_approve", repairID, 0, func(ctx context.Context, r *entity.Repair) (store.Patch, events.Type, string, error) {
		sup, err := store.Get[entity.User](ctx, s.store, store.Users, supervisorID)
		if err != nil {
			return nil, "", "", workflow.Load("supervisor", supervisorID, err)
		}
		if sup.Role != entity.RoleSupervisor {
			return nil, "", "", workflow.Invalid("user %d is not a supervisor", supervisorID)
		}
		return store.Patch{"supervisor_id": supervisorID}, events.RepairSupervisorApproved,
			fmt.Sprintf("repair %d approved by supervisor %d", r.ID, supervisorID), nil
	})
}

// FinanceApproveRepair closes the finance track of a supervisor-approved ticket.
func (s *Service) FinanceApproveRepair(ctx context.Context, repairID int64) (*entity.Repair, error) {
	return s.transition(ctx, "finance_approve_repair", repairID, 0, func(_ context.Context, r *entity.Repair) (store.Patch, events.Type, string, error) {
		if r.SupervisorID == nil {
			return nil, "", "", workflow.Rejected("repair %d has no supervisor approval", r.ID)
		}
		if r.FinanceStatus != entity.RepairFinancePending {
			return nil, "", "", workflow.Rejected("repair %d is already finance %s", r.ID, r.FinanceStatus)
		}
		return store.Patch{"finance_status": entity.RepairFinanceApproved}, events.RepairFinanceApproved,
			fmt.Sprintf("repair %d finance approved", r.ID), nil
	})
}

// Get loads a repair by id.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Repair, error) {
	r, err := store.Get[entity.Repair](ctx, s.store, store.Repairs, id)
	if err != nil {
		return nil, workflow.Load("repair", id, err)
	}
	return r, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Status       entity.RepairStatus
	CustomerID   int64
	TechnicianID int64
	Limit        int
}

// List returns repairs matching f.
func (s *Service) List(ctx context.Context, f ListFilter) ([]entity.Repair, error) {
	filter := &store.Filter{}
	if f.Status != "" {
		filter.Eq("status", f.Status)
	}
	if f.CustomerID > 0 {
		filter.Eq("customer_id", f.CustomerID)
	}
	if f.TechnicianID > 0 {
		filter.Eq("technician_id", f.TechnicianID)
	}
	filter.Take(f.Limit)

	rows, err := store.List[entity.Repair](ctx, s.store, store.Repairs, filter)
	if err != nil {
		return nil, workflow.Transient("list_repairs", err, nil)
	}
	return rows, nil
}

// step checks a loaded repair and returns the patch to apply, the event to
// publish and the success message.
type step func(ctx context.Context, r *entity.Repair) (store.Patch, events.Type, string, error)

// transition runs a single-write repair transition under the repair lock.
func (s *Service) transition(ctx context.Context, name string, repairID, actorID int64, fn step) (*entity.Repair, error) {
	op := workflow.Operation{
		Workflow: workflowName,
		Name:     name,
		Locks:    []string{lock.Key("repair", repairID)},
		Attrs:    []attribute.KeyValue{attribute.Int64("repair.id", repairID)},
	}
	if actorID > 0 {
		op.Attrs = append(op.Attrs, attribute.Int64("actor.id", actorID))
	}

	var repair *entity.Repair
	err := s.exec.Run(ctx, op, func(ctx context.Context) (string, error) {
		r, err := store.Get[entity.Repair](ctx, s.store, store.Repairs, repairID)
		if err != nil {
			return "", workflow.Load("repair", repairID, err)
		}
		patch, typ, message, err := fn(ctx, r)
		if err != nil {
			return "", err
		}
		patch["updated_at"] = s.now()
		if err := s.store.Update(ctx, store.Repairs, repairID, patch); err != nil {
			return "", workflow.Transient(name, err, map[string]any{"repair_id": repairID})
		}

		updated, err := store.Get[entity.Repair](ctx, s.store, store.Repairs, repairID)
		if err != nil {
			s.logger.Warn("reload repair after update", zap.Int64("id", repairID), zap.Error(err))
			updated = r
		}
		repair = updated
		s.publisher.Publish(ctx, workflowName, typ, repairID, patch)
		return message, nil
	})
	if err != nil {
		return nil, err
	}
	return repair, nil
}

package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/cache"
	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/service/ledger"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/workflow"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/hvacops/service/order")

const workflowName = "order"

// Service runs the order workflow: checkout, finance approval and dispatch.
type Service struct {
	store     store.Store
	ledger    *ledger.Service
	exec      *workflow.Executor
	publisher *events.Publisher
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     store.Store
	Ledger    *ledger.Service
	Executor  *workflow.Executor
	Publisher *events.Publisher `optional:"true"`
	Cache     cache.Store       `optional:"true"`
	Config    config.Config
	Logger    *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := p.Cache
	if c == nil {
		c = cache.Noop()
	}
	return &Service{
		store:     p.Store,
		ledger:    p.Ledger,
		exec:      p.Executor,
		publisher: p.Publisher,
		cache:     c,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrderInput is a checkout request for a single product line.
type PlaceOrderInput struct {
	CustomerID      int64
	ProductID       int64
	Quantity        int
	DeliveryAddress string
	PaymentMethod   string
}

// PlaceOrder prices the line from the catalog and records a paid order awaiting
// finance approval.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*entity.Order, error) {
	var order *entity.Order
	err := s.exec.Run(ctx, workflow.Operation{
		Workflow: workflowName,
		Name:     "place_order",
		Attrs:    []attribute.KeyValue{attribute.Int64("customer.id", in.CustomerID)},
	}, func(ctx context.Context) (string, error) {
		if in.Quantity <= 0 {
			return "", workflow.Invalid("quantity must be positive")
		}
		if in.CustomerID <= 0 || in.ProductID <= 0 {
			return "", workflow.Invalid("customer_id and product_id are required")
		}
		customer, err := store.Get[entity.User](ctx, s.store, store.Users, in.CustomerID)
		if err != nil {
			return "", workflow.Load("customer", in.CustomerID, err)
		}
		if customer.Role != entity.RoleCustomer {
			return "", workflow.Invalid("user %d is not a customer", in.CustomerID)
		}
		product, err := store.Get[entity.Product](ctx, s.store, store.Products, in.ProductID)
		if err != nil {
			return "", workflow.Load("product", in.ProductID, err)
		}

		now := s.now()
		o := &entity.Order{
			CustomerID:      in.CustomerID,
			ProductID:       in.ProductID,
			Quantity:        in.Quantity,
			UnitPrice:       product.Price,
			DeliveryAddress: in.DeliveryAddress,
			PaymentMethod:   in.PaymentMethod,
			PaymentStatus:   entity.PaymentCompleted,
			FinanceApproval: entity.FinancePending,
			ApprovalStage:   entity.StageNone,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		o.TotalAmount = o.LineTotal()
		if err := s.store.Insert(ctx, store.Orders, o); err != nil {
			return "", workflow.Transient("insert_order", err, nil)
		}
		order = o

		if err := s.storeInCache(ctx, o); err != nil {
			s.logger.Warn("orders cache write failed", zap.Int64("id", o.ID), zap.Error(err))
		}
		s.publisher.Publish(ctx, workflowName, events.OrderPlaced, o.ID, o)
		return fmt.Sprintf("order %d placed for %s", o.ID, o.TotalAmount.StringFixed(2)), nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Get retrieves an order by id, consulting cache when available.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	order, err := store.Get[entity.Order](ctx, s.store, store.Orders, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store error")
		}
		return nil, workflow.Load("order", id, err)
	}

	if err := s.storeInCache(ctx, order); err != nil {
		s.logger.Warn("orders cache write failed", zap.Int64("id", id), zap.Error(err))
	}
	return order, nil
}

// ListFilter narrows List.
type ListFilter struct {
	CustomerID      int64
	FinanceApproval entity.FinanceApproval
	Limit           int
}

// List returns orders matching f, oldest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]entity.Order, error) {
	filter := &store.Filter{}
	if f.CustomerID > 0 {
		filter.Eq("customer_id", f.CustomerID)
	}
	if f.FinanceApproval != "" {
		filter.Eq("finance_approval", f.FinanceApproval)
	}
	filter.Take(f.Limit)

	orders, err := store.List[entity.Order](ctx, s.store, store.Orders, filter)
	if err != nil {
		return nil, workflow.Transient("list_orders", err, nil)
	}
	return orders, nil
}

// DeclineOrder records a terminal finance decline.
func (s *Service) DeclineOrder(ctx context.Context, id int64) (*entity.Order, error) {
	var order *entity.Order
	err := s.exec.Run(ctx, s.orderOp("decline_order", id), func(ctx context.Context) (string, error) {
		o, err := store.Get[entity.Order](ctx, s.store, store.Orders, id)
		if err != nil {
			return "", workflow.Load("order", id, err)
		}
		if o.FinanceApproval != entity.FinancePending {
			return "", workflow.Rejected("order %d is already %s", id, o.FinanceApproval)
		}
		now := s.now()
		if err := s.store.Update(ctx, store.Orders, id, store.Patch{
			"finance_approval": entity.FinanceDeclined,
			"updated_at":       now,
		}); err != nil {
			return "", workflow.Transient("decline_order", err, map[string]any{"order_id": id})
		}
		s.invalidate(ctx, id)

		o.FinanceApproval = entity.FinanceDeclined
		o.UpdatedAt = now
		order = o
		s.publisher.Publish(ctx, workflowName, events.OrderDeclined, id, nil)
		return fmt.Sprintf("order %d declined", id), nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) orderOp(name string, id int64) workflow.Operation {
	return workflow.Operation{
		Workflow: workflowName,
		Name:     name,
		Locks:    []string{lock.Key("order", id)},
		Attrs:    []attribute.KeyValue{attribute.Int64("order.id", id)},
	}
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.Order, error) {
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return nil
	}
	bytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("orders cache invalidate failed", zap.Int64("id", id), zap.Error(err))
	}
}

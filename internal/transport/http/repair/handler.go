package repair

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/hvacops/internal/dto"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/presentation/http/request"
	"github.com/Additional-Code/hvacops/internal/presentation/http/response"
	service "github.com/Additional-Code/hvacops/internal/service/repair"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/hvacops/transport/http/repair")

// Handler exposes repair ticket endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a repair Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/repairs")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
	g.POST("/:id/assign", h.assign)
	g.POST("/:id/respond", h.respond)
	g.POST("/:id/start", h.start)
	g.POST("/:id/materials", h.materials)
	g.POST("/:id/complete", h.complete)
	g.POST("/:id/supervisor-approve", h.supervisorApprove)
	g.POST("/:id/finance-approve", h.financeApprove)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.RequestRepairRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "repairs.create", trace.WithAttributes(
		attribute.Int64("customer.id", payload.CustomerID),
	))
	defer span.End()

	r, err := h.svc.RequestRepair(ctx, service.RequestInput{
		CustomerID:  payload.CustomerID,
		ProductID:   payload.ProductID,
		ServiceID:   payload.ServiceID,
		Description: payload.Description,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(dto.NewRepairResponse(r)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	customerID, err := request.QueryInt(c, "customer_id")
	if err != nil {
		return b.WithError(err).Build()
	}
	technicianID, err := request.QueryInt(c, "technician_id")
	if err != nil {
		return b.WithError(err).Build()
	}
	limit, err := request.QueryInt(c, "limit")
	if err != nil {
		return b.WithError(err).Build()
	}

	rows, err := h.svc.List(c.Request().Context(), service.ListFilter{
		Status:       entity.RepairStatus(c.QueryParam("status")),
		CustomerID:   int64(customerID),
		TechnicianID: int64(technicianID),
		Limit:        limit,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewRepairList(rows)).WithMeta("count", len(rows)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	return h.run(c, nil, func(ctx context.Context, id int64) (*entity.Repair, error) {
		return h.svc.Get(ctx, id)
	})
}

func (h *Handler) assign(c echo.Context) error {
	var payload dto.AssignRequest
	return h.run(c, &payload, func(ctx context.Context, id int64) (*entity.Repair, error) {
		return h.svc.AssignTechnician(ctx, id, payload.AssigneeID)
	})
}

func (h *Handler) respond(c echo.Context) error {
	var payload dto.RespondRequest
	return h.run(c, &payload, func(ctx context.Context, id int64) (*entity.Repair, error) {
		return h.svc.TechnicianRespond(ctx, id, payload.AssigneeID, entity.Decision(payload.Decision))
	})
}

func (h *Handler) start(c echo.Context) error {
	var payload dto.ActorRequest
	return h.run(c, &payload, func(ctx context.Context, id int64) (*entity.Repair, error) {
		return h.svc.StartRepair(ctx, id, payload.ActorID)
	})
}

func (h *Handler) materials(c echo.Context) error {
	var payload dto.MaterialRequest
	return h.run(c, &payload, func(ctx context.Context, id int64) (*entity.Repair, error) {
		return h.svc.AssignMaterials(ctx, id, payload.MaterialID)
	})
}

func (h *Handler) complete(c echo.Context) error {
	return h.run(c, nil, h.svc.MarkRepairComplete)
}

func (h *Handler) supervisorApprove(c echo.Context) error {
	var payload dto.ActorRequest
	return h.run(c, &payload, func(ctx context.Context, id int64) (*entity.Repair, error) {
		return h.svc.SupervisorApprove(ctx, id, payload.ActorID)
	})
}

func (h *Handler) financeApprove(c echo.Context) error {
	return h.run(c, nil, h.svc.FinanceApproveRepair)
}

// run parses the repair id, binds payload when non-nil and renders the
// repair returned by fn.
func (h *Handler) run(c echo.Context, payload any, fn func(context.Context, int64) (*entity.Repair, error)) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	if payload != nil {
		if err := request.Bind(c, payload); err != nil {
			return b.WithError(err).Build()
		}
	}

	r, err := fn(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewRepairResponse(r)).Build()
}

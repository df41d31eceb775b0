package order

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/hvacops/internal/dto"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/presentation/http/request"
	"github.com/Additional-Code/hvacops/internal/presentation/http/response"
	service "github.com/Additional-Code/hvacops/internal/service/order"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/hvacops/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/delivered", h.delivered)
	g.POST("/reconcile", h.reconcile)
	g.GET("/:id", h.getByID)
	g.POST("/:id/approve", h.approve)
	g.POST("/:id/decline", h.decline)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.PlaceOrderRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.Int64("customer.id", payload.CustomerID),
		attribute.Int64("product.id", payload.ProductID),
	))
	defer span.End()

	order, err := h.svc.PlaceOrder(ctx, service.PlaceOrderInput{
		CustomerID:      payload.CustomerID,
		ProductID:       payload.ProductID,
		Quantity:        payload.Quantity,
		DeliveryAddress: payload.DeliveryAddress,
		PaymentMethod:   payload.PaymentMethod,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	customerID, err := request.QueryInt(c, "customer_id")
	if err != nil {
		return b.WithError(err).Build()
	}
	limit, err := request.QueryInt(c, "limit")
	if err != nil {
		return b.WithError(err).Build()
	}

	orders, err := h.svc.List(c.Request().Context(), service.ListFilter{
		CustomerID:      int64(customerID),
		FinanceApproval: entity.FinanceApproval(c.QueryParam("finance_approval")),
		Limit:           limit,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderList(orders)).WithMeta("count", len(orders)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) approve(c echo.Context) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.approve", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	res, err := h.svc.ApproveOrder(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.ApprovalResponse{
		Order:       dto.NewOrderResponse(res.Order),
		Dispatch:    dto.NewDispatchResponse(res.Dispatch),
		LedgerEntry: dto.NewLedgerEntry(res.Entry),
		Resumed:     res.Resumed,
	}).Build()
}

func (h *Handler) decline(c echo.Context) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	order, err := h.svc.DeclineOrder(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) delivered(c echo.Context) error {
	b := response.New(c)

	rows, err := h.svc.DeliveredOrders(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.DeliveredOrderResponse, 0, len(rows))
	for i := range rows {
		out = append(out, dto.DeliveredOrderResponse{
			Order:    dto.NewOrderResponse(&rows[i].Order),
			Dispatch: dto.NewDispatchResponse(&rows[i].Dispatch),
		})
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) reconcile(c echo.Context) error {
	b := response.New(c)

	report, err := h.svc.ReconcileApprovals(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(report).Build()
}

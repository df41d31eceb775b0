package dispatch

import (
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

var httpTracer = otel.Tracer("github.com/Additional-Code/hvacops/transport/http/dispatch")

// Handler exposes dispatch and driver endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a dispatch Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/dispatches")
	g.GET("", h.list)
	g.GET("/drivers/available", h.availableDrivers)
	g.GET("/:id", h.getByID)
	g.POST("/:id/assign", h.assign)
	g.POST("/:id/respond", h.respond)
	g.POST("/:id/complete", h.complete)
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	driverID, err := request.QueryInt(c, "driver_id")
	if err != nil {
		return b.WithError(err).Build()
	}
	orderID, err := request.QueryInt(c, "order_id")
	if err != nil {
		return b.WithError(err).Build()
	}
	limit, err := request.QueryInt(c, "limit")
	if err != nil {
		return b.WithError(err).Build()
	}

	rows, err := h.svc.ListDispatches(c.Request().Context(), service.DispatchFilter{
		Status:   entity.DispatchStatus(c.QueryParam("status")),
		DriverID: int64(driverID),
		OrderID:  int64(orderID),
		Limit:    limit,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewDispatchList(rows)).WithMeta("count", len(rows)).Build()
}

func (h *Handler) availableDrivers(c echo.Context) error {
	b := response.New(c)

	drivers, err := h.svc.AvailableDrivers(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewUserList(drivers)).WithMeta("count", len(drivers)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	d, err := h.svc.GetDispatch(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewDispatchResponse(d)).Build()
}

func (h *Handler) assign(c echo.Context) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.AssignRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "dispatches.assign", trace.WithAttributes(
		attribute.Int64("dispatch.id", id),
		attribute.Int64("driver.id", payload.AssigneeID),
	))
	defer span.End()

	d, err := h.svc.AssignDriver(ctx, id, payload.AssigneeID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewDispatchResponse(d)).Build()
}

func (h *Handler) respond(c echo.Context) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.RespondRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	d, err := h.svc.DriverRespond(c.Request().Context(), id, payload.AssigneeID, entity.Decision(payload.Decision))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewDispatchResponse(d)).Build()
}

func (h *Handler) complete(c echo.Context) error {
	b := response.New(c)

	id, err := request.ParamID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	var payload dto.ActorRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	d, err := h.svc.CompleteDispatch(c.Request().Context(), id, payload.ActorID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewDispatchResponse(d)).Build()
}

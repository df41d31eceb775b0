package ledger

import (
	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/hvacops/internal/dto"
	"github.com/Additional-Code/hvacops/internal/presentation/http/request"
	"github.com/Additional-Code/hvacops/internal/presentation/http/response"
	service "github.com/Additional-Code/hvacops/internal/service/ledger"
)

// Handler exposes read-only ledger endpoints.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a ledger Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/ledger")
	g.GET("/balance", h.balance)
	g.GET("/entries", h.entries)
	g.GET("/verify", h.verify)
}

func (h *Handler) balance(c echo.Context) error {
	b := response.New(c)

	balance, err := h.svc.LatestBalance(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.BalanceResponse{Balance: balance}).Build()
}

func (h *Handler) entries(c echo.Context) error {
	b := response.New(c)

	limit, err := request.QueryInt(c, "limit")
	if err != nil {
		return b.WithError(err).Build()
	}
	rows, err := h.svc.Entries(c.Request().Context(), limit)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewLedgerEntries(rows)).WithMeta("count", len(rows)).Build()
}

func (h *Handler) verify(c echo.Context) error {
	b := response.New(c)

	report, err := h.svc.Verify(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(report).WithMeta("ok", report.OK()).Build()
}

package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/hvacops/internal/entity"
)

// PlaceOrderRequest is the checkout payload.
type PlaceOrderRequest struct {
	CustomerID      int64  `json:"customer_id" validate:"required,gt=0"`
	ProductID       int64  `json:"product_id" validate:"required,gt=0"`
	Quantity        int    `json:"quantity" validate:"required,gt=0"`
	DeliveryAddress string `json:"delivery_address" validate:"required,max=500"`
	PaymentMethod   string `json:"payment_method" validate:"required,max=50"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DeliveryAddress string          `json:"delivery_address"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	FinanceApproval string          `json:"finance_approval"`
	ApprovalStage   string          `json:"approval_stage"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ApprovalResponse reports what an approval produced.
type ApprovalResponse struct {
	Order       OrderResponse    `json:"order"`
	Dispatch    DispatchResponse `json:"dispatch"`
	LedgerEntry LedgerEntry      `json:"ledger_entry"`
	Resumed     bool             `json:"resumed"`
}

// DeliveredOrderResponse pairs an order with its completed dispatch.
type DeliveredOrderResponse struct {
	Order    OrderResponse    `json:"order"`
	Dispatch DispatchResponse `json:"dispatch"`
}

// NewOrderResponse maps an order entity.
func NewOrderResponse(o *entity.Order) OrderResponse {
	return OrderResponse{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		ProductID:       o.ProductID,
		Quantity:        o.Quantity,
		UnitPrice:       o.UnitPrice,
		TotalAmount:     o.TotalAmount,
		DeliveryAddress: o.DeliveryAddress,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   string(o.PaymentStatus),
		FinanceApproval: string(o.FinanceApproval),
		ApprovalStage:   string(o.ApprovalStage),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// NewOrderList maps a slice of orders.
func NewOrderList(orders []entity.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, NewOrderResponse(&orders[i]))
	}
	return out
}

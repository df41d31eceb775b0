package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/notify"
	"github.com/Additional-Code/hvacops/internal/presentation/http/request"
	"github.com/Additional-Code/hvacops/internal/service/ledger"
	service "github.com/Additional-Code/hvacops/internal/service/order"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/store/memstore"
	"github.com/Additional-Code/hvacops/internal/workflow"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind      string         `json:"kind"`
		Message   string         `json:"message"`
		Retryable bool           `json:"retryable"`
		Details   map[string]any `json:"details"`
	} `json:"error"`
}

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.Insert(ctx, store.Users, &entity.User{ID: 1, FullName: "Ada", Email: "ada@example.com", Role: entity.RoleCustomer}))
	require.NoError(t, st.Insert(ctx, store.Products, &entity.Product{ID: 3, Name: "Split AC", Price: decimal.NewFromInt(2500)}))

	locker := lock.NewLocal(0)
	exec := workflow.NewExecutor(workflow.Params{Locker: locker, Sink: &notify.Recorder{}, Logger: zap.NewNop()})
	cfg := config.Config{Workflow: config.Workflow{LedgerAppendAttempts: 2, LockRetryDelay: time.Millisecond}}
	led := ledger.NewService(ledger.Params{Store: st, Locker: locker, Executor: exec, Config: cfg, Logger: zap.NewNop()})
	svc := service.NewService(service.Params{Store: st, Ledger: led, Executor: exec, Config: cfg, Logger: zap.NewNop()})

	e := echo.New()
	e.Validator = request.NewValidator()
	Register(e, NewHandler(svc))
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec.Code, env
}

const checkout = `{"customer_id":1,"product_id":3,"quantity":2,"delivery_address":"12 Elm St","payment_method":"card"}`

func TestCreateOrder(t *testing.T) {
	e := newServer(t)

	code, env := do(t, e, http.MethodPost, "/orders", checkout)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, env.Success)

	var got struct {
		ID              int64           `json:"id"`
		TotalAmount     decimal.Decimal `json:"total_amount"`
		FinanceApproval string          `json:"finance_approval"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, int64(1), got.ID)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "pending", got.FinanceApproval)
}

func TestCreateOrderValidation(t *testing.T) {
	e := newServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"malformed json", `{"customer_id":`, http.StatusBadRequest, ""},
		{"missing quantity", `{"customer_id":1,"product_id":3,"delivery_address":"x","payment_method":"card"}`, http.StatusBadRequest, "quantity"},
		{"missing address", `{"customer_id":1,"product_id":3,"quantity":1,"payment_method":"card"}`, http.StatusBadRequest, "delivery_address"},
		{"unknown product", `{"customer_id":1,"product_id":30,"quantity":1,"delivery_address":"x","payment_method":"card"}`, http.StatusNotFound, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, env := do(t, e, http.MethodPost, "/orders", tc.body)
			assert.Equal(t, tc.status, code)
			assert.False(t, env.Success)
			if tc.field != "" {
				assert.Contains(t, env.Error.Details, tc.field)
			}
		})
	}
}

func TestApproveOverHTTP(t *testing.T) {
	e := newServer(t)
	code, _ := do(t, e, http.MethodPost, "/orders", checkout)
	require.Equal(t, http.StatusCreated, code)

	code, env := do(t, e, http.MethodPost, "/orders/1/approve", "")
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Dispatch struct {
			ID      int64  `json:"dispatch_id"`
			OrderID int64  `json:"order_id"`
			Status  string `json:"status"`
		} `json:"dispatch"`
		LedgerEntry struct {
			Seq     int64           `json:"seq"`
			Balance decimal.Decimal `json:"balance"`
		} `json:"ledger_entry"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, int64(1), res.Dispatch.OrderID)
	assert.Equal(t, "pending", res.Dispatch.Status)
	assert.Equal(t, int64(1), res.LedgerEntry.Seq)
	assert.True(t, res.LedgerEntry.Balance.Equal(decimal.NewFromInt(5000)))

	code, env = do(t, e, http.MethodPost, "/orders/1/approve", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "unprocessable_entity", env.Error.Kind)
	assert.False(t, env.Error.Retryable)

	code, env = do(t, e, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"approval_stage":"ledger_posted"`)
}

func TestOrderReads(t *testing.T) {
	e := newServer(t)
	do(t, e, http.MethodPost, "/orders", checkout)

	code, _ := do(t, e, http.MethodGet, "/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, e, http.MethodGet, "/orders/9", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env := do(t, e, http.MethodGet, "/orders?customer_id=1&finance_approval=pending", "")
	require.Equal(t, http.StatusOK, code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	code, _ = do(t, e, http.MethodGet, "/orders?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, e, http.MethodGet, "/orders/delivered", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, _ = do(t, e, http.MethodPost, "/orders/1/decline", "")
	assert.Equal(t, http.StatusOK, code)
	code, env = do(t, e, http.MethodPost, "/orders/reconcile", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"resumed":[]}`, string(env.Data))
}

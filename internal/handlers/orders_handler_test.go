package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-transactional-orders/internal/idempotency"
	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

type stubService struct {
	createCalls int
	createItems []orders.ItemRequest
	createErr   error
	order       *orders.Order
	getErr      error
	statusErr   error
	gotStatus   orders.Status
}

func (s *stubService) CreateOrder(ctx context.Context, clientID int64, items []orders.ItemRequest) (int64, error) {
	s.createCalls++
	s.createItems = items
	if s.createErr != nil {
		return 0, s.createErr
	}
	return 42, nil
}

func (s *stubService) GetOrder(ctx context.Context, orderID int64) (*orders.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *stubService) ChangeStatus(ctx context.Context, orderID int64, newStatus orders.Status) error {
	s.gotStatus = newStatus
	return s.statusErr
}

type memIdempotency struct {
	mu   sync.Mutex
	recs map[string]*idempotency.IdempotencyRecord
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{recs: map[string]*idempotency.IdempotencyRecord{}}
}

func (m *memIdempotency) CreateIfNotExists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[key]; ok {
		return false, nil
	}
	m.recs[key] = &idempotency.IdempotencyRecord{IdempotencyKey: key, Status: idempotency.StatusInProgress}
	return true, nil
}

func (m *memIdempotency) Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memIdempotency) Reclaim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[key]
	if rec == nil || rec.Status != idempotency.StatusFailed {
		return false, nil
	}
	rec.Status = idempotency.StatusInProgress
	return true, nil
}

func (m *memIdempotency) MarkDone(ctx context.Context, key string, orderID int64, body string, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[key]
	rec.Status, rec.OrderID, rec.ResponseBody, rec.ResponseStatus = idempotency.StatusDone, orderID, body, status
	return nil
}

func (m *memIdempotency) MarkFailed(ctx context.Context, key, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[key]
	rec.Status, rec.Note = idempotency.StatusFailed, note
	return nil
}

func newRouter(svc OrderService, idem IdempotencyStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterOrdersRoutes(r, HandlerConfig{Service: svc, Idempotency: idem})
	return r
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubService{}
	r := newRouter(svc, nil)

	w := do(r, http.MethodPost, "/orders", `{"client_id":1,"items":[{"product_id":10,"quantity":2,"unit_price":"1.00"}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/orders/42", w.Header().Get("Location"))

	body := decode(t, w)
	assert.Equal(t, float64(42), body["order_id"])
	assert.Equal(t, "New", body["status"])

	require.Len(t, svc.createItems, 1)
	assert.Equal(t, int64(10), svc.createItems[0].ProductID)
	assert.True(t, svc.createItems[0].UnitPrice.Equal(decimal.RequireFromString("1")))
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"client", fmt.Errorf("%w: client with ID 9 not found", orders.ErrClientNotFound), http.StatusUnprocessableEntity, "client_not_found"},
		{"empty", orders.ErrEmptyOrder, http.StatusUnprocessableEntity, "empty_order"},
		{"product", fmt.Errorf("%w: product with ID 5 not found", orders.ErrProductNotFound), http.StatusUnprocessableEntity, "product_not_found"},
		{"quantity", orders.ErrInvalidQuantity, http.StatusUnprocessableEntity, "invalid_quantity"},
		{"stock", &orders.InsufficientStockError{ProductID: 10, ProductName: "Widget", Available: 1, Requested: 3}, http.StatusConflict, "insufficient_stock"},
		{"persistence", &orders.PersistenceError{Op: "create order", Err: errors.New("pq: connection refused")}, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&stubService{createErr: tt.err}, nil)
			w := do(r, http.MethodPost, "/orders", `{"client_id":1,"items":[]}`)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.code, body["error"])
			assert.NotContains(t, body["message"], "connection refused")
		})
	}
}

func TestCreateOrder_InsufficientStockBody(t *testing.T) {
	err := &orders.InsufficientStockError{ProductID: 10, ProductName: "Widget", Available: 1, Requested: 3}
	r := newRouter(&stubService{createErr: err}, nil)

	w := do(r, http.MethodPost, "/orders", `{"client_id":1,"items":[{"product_id":10,"quantity":3}]}`)
	body := decode(t, w)
	assert.Equal(t, "insufficient stock for product 'Widget'. Available: 1, Requested: 3", body["message"])
	assert.Equal(t, float64(1), body["available"])
	assert.Equal(t, float64(3), body["requested"])
}

func TestCreateOrder_BadRequestNeverReachesService(t *testing.T) {
	svc := &stubService{}
	r := newRouter(svc, nil)

	w := do(r, http.MethodPost, "/orders", `{"client_id":1,"items":[{"product_id":10,"quantity":0}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.createCalls)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	svc := &stubService{}
	idem := newMemIdempotency()
	r := newRouter(svc, idem)
	payload := `{"client_id":1,"items":[{"product_id":10,"quantity":1}]}`

	first := do(r, http.MethodPost, "/orders", payload, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code)

	second := do(r, http.MethodPost, "/orders", payload, "Idempotency-Key", "abc")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, svc.createCalls)
}

func TestCreateOrder_IdempotentRejectionIsReplayed(t *testing.T) {
	svc := &stubService{createErr: orders.ErrEmptyOrder}
	idem := newMemIdempotency()
	r := newRouter(svc, idem)

	do(r, http.MethodPost, "/orders", `{"client_id":1,"items":[]}`, "Idempotency-Key", "k")
	w := do(r, http.MethodPost, "/orders", `{"client_id":1,"items":[]}`, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 1, svc.createCalls)
}

func TestCreateOrder_ServerErrorAllowsRetry(t *testing.T) {
	svc := &stubService{createErr: &orders.PersistenceError{Op: "create order", Err: errors.New("timeout")}}
	idem := newMemIdempotency()
	r := newRouter(svc, idem)
	payload := `{"client_id":1,"items":[{"product_id":10,"quantity":1}]}`

	w := do(r, http.MethodPost, "/orders", payload, "Idempotency-Key", "k")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	rec, _ := idem.Get(context.Background(), "k")
	assert.Equal(t, idempotency.StatusFailed, rec.Status)

	svc.createErr = nil
	w = do(r, http.MethodPost, "/orders", payload, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, svc.createCalls)
}

func TestCreateOrder_InProgressKey(t *testing.T) {
	svc := &stubService{}
	idem := newMemIdempotency()
	_, _ = idem.CreateIfNotExists(context.Background(), "busy")
	r := newRouter(svc, idem)

	w := do(r, http.MethodPost, "/orders", `{"client_id":1,"items":[{"product_id":10,"quantity":1}]}`, "Idempotency-Key", "busy")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Zero(t, svc.createCalls)
}

func TestGetOrder(t *testing.T) {
	order := &orders.Order{
		ID:         7,
		ClientID:   1,
		Client:     &orders.Client{ID: 1, Name: "Ada", Email: "ada@example.com"},
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalValue: decimal.RequireFromString("19.98"),
		Status:     orders.StatusProcessing,
		Items: []orders.OrderItem{
			{ID: 1, OrderID: 7, ProductID: 10, Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")},
		},
	}
	r := newRouter(&stubService{order: order}, nil)

	w := do(r, http.MethodGet, "/orders/7", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp orderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "19.98", resp.TotalValue)
	assert.Equal(t, "Processing", resp.Status)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "19.98", resp.Items[0].Subtotal)
	assert.Equal(t, "Ada", resp.Client.Name)
}

func TestGetOrder_NotFoundAndBadID(t *testing.T) {
	r := newRouter(&stubService{getErr: fmt.Errorf("%w: order with ID 9 not found", orders.ErrOrderNotFound)}, nil)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/orders/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/orders/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/orders/-1", "").Code)
}

func TestChangeStatus(t *testing.T) {
	svc := &stubService{}
	r := newRouter(svc, nil)

	w := do(r, http.MethodPatch, "/orders/7/status", `{"status":"finished"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orders.StatusFinished, svc.gotStatus)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Order status updated to 'Finished'.", body["message"])
}

func TestChangeStatus_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("%w: order with ID 7 not found", orders.ErrOrderNotFound), http.StatusNotFound},
		{"invalid", fmt.Errorf("%w: 'Shipped'", orders.ErrInvalidStatus), http.StatusUnprocessableEntity},
		{"no-op", fmt.Errorf("%w: order is already in the 'New' status", orders.ErrNoOpTransition), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{statusErr: tt.err}
			r := newRouter(svc, nil)

			w := do(r, http.MethodPatch, "/orders/7/status", `{"status":"Shipped"}`)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestChangeStatus_UnknownStatusIsPassedThrough(t *testing.T) {
	svc := &stubService{}
	r := newRouter(svc, nil)

	do(r, http.MethodPatch, "/orders/7/status", `{"status":"Shipped"}`)
	assert.Equal(t, orders.Status("Shipped"), svc.gotStatus)
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := do(r, http.MethodGet, "/", "", "X-Request-Id", "req-1")
	assert.Equal(t, "req-1", w.Header().Get("X-Request-Id"))

	w = do(r, http.MethodGet, "/", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

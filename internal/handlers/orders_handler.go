package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-transactional-orders/internal/idempotency"
	"github.com/imrishuroy/go-transactional-orders/internal/observability"
	"github.com/imrishuroy/go-transactional-orders/internal/orders"
	"github.com/imrishuroy/go-transactional-orders/internal/validation"
)

// OrderService is the order core as seen by the HTTP layer.
type OrderService interface {
	CreateOrder(ctx context.Context, clientID int64, items []orders.ItemRequest) (int64, error)
	GetOrder(ctx context.Context, orderID int64) (*orders.Order, error)
	ChangeStatus(ctx context.Context, orderID int64, newStatus orders.Status) error
}

// IdempotencyStore remembers the outcome of POST /orders per Idempotency-Key.
type IdempotencyStore interface {
	CreateIfNotExists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	Reclaim(ctx context.Context, key string) (bool, error)
	MarkDone(ctx context.Context, key string, orderID int64, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Service OrderService
	// Idempotency is optional; without it the Idempotency-Key header is ignored.
	Idempotency IdempotencyStore
	Metrics     *observability.Metrics // optional
	Logger      *zap.Logger
}

type ordersHandler struct {
	svc       OrderService
	idem      IdempotencyStore
	metrics   *observability.Metrics
	logger    *zap.Logger
	validator *validatorv10.Validate
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &ordersHandler{
		svc:       cfg.Service,
		idem:      cfg.Idempotency,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		validator: validation.New(),
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	r.POST("/orders", h.createOrder)
	r.GET("/orders/:id", h.getOrder)
	r.PATCH("/orders/:id/status", h.changeStatus)
}

func (h *ordersHandler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		h.observe("create", "bad_request")
		return
	}

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey != "" && h.idem != nil {
		if replayed := h.claimIdempotencyKey(c, idempKey); replayed {
			return
		}
	}

	items := make([]orders.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		item := orders.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity}
		if it.UnitPrice != nil {
			item.UnitPrice = *it.UnitPrice
		}
		items = append(items, item)
	}

	orderID, err := h.svc.CreateOrder(ctx, req.ClientID, items)
	if err != nil {
		status, code, body := errorResponse(err)
		h.observe("create", code)
		if idempKey != "" && h.idem != nil {
			h.finishIdempotency(ctx, idempKey, 0, status, body)
		}
		c.JSON(status, body)
		return
	}

	body := gin.H{"order_id": orderID, "status": string(orders.StatusNew)}
	h.observe("create", "created")
	if idempKey != "" && h.idem != nil {
		h.finishIdempotency(ctx, idempKey, orderID, http.StatusCreated, body)
	}

	c.Header("Location", fmt.Sprintf("/orders/%d", orderID))
	c.JSON(http.StatusCreated, body)
}

// claimIdempotencyKey reserves key for this request. It returns true if it
// already wrote a response, either a replay or a conflict.
func (h *ordersHandler) claimIdempotencyKey(c *gin.Context, key string) bool {
	ctx := c.Request.Context()

	created, err := h.idem.CreateIfNotExists(ctx, key)
	if err != nil {
		h.logger.Error("idempotency reservation failed", zap.String("idempotency_key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
		return true
	}
	if created {
		return false
	}

	rec, err := h.idem.Get(ctx, key)
	if err != nil {
		h.logger.Error("idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
		return true
	}
	if rec == nil {
		// expired between the reservation attempt and the read
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_key_conflict", "message": "retry the request"})
		return true
	}

	switch rec.Status {
	case idempotency.StatusDone:
		h.observe("create", "replayed")
		c.Header("Idempotent-Replayed", "true")
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return true
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
		return true
	case idempotency.StatusFailed:
		ok, err := h.idem.Reclaim(ctx, key)
		if err != nil {
			h.logger.Error("idempotency reclaim failed", zap.String("idempotency_key", key), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
			return true
		}
		if ok {
			return false
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	return true
}

// finishIdempotency stores the response for replay. Server errors mark the
// key FAILED so a retry runs the request again.
func (h *ordersHandler) finishIdempotency(ctx context.Context, key string, orderID int64, status int, body gin.H) {
	var err error
	if status >= http.StatusInternalServerError {
		err = h.idem.MarkFailed(ctx, key, fmt.Sprintf("%v", body["error"]))
	} else {
		raw, _ := json.Marshal(body)
		err = h.idem.MarkDone(ctx, key, orderID, string(raw), status)
	}
	if err != nil {
		h.logger.Warn("could not record idempotent response",
			zap.String("idempotency_key", key),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
}

func (h *ordersHandler) getOrder(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(c.Request.Context(), id)
	if err != nil {
		status, code, body := errorResponse(err)
		h.observe("get", code)
		c.JSON(status, body)
		return
	}
	h.observe("get", "found")
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *ordersHandler) changeStatus(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}

	var req validation.ChangeStatusRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		h.observe("change_status", "bad_request")
		return
	}

	// an unknown status is rejected by the service, after the order lookup
	status, _ := orders.ParseStatus(req.Status)

	if err := h.svc.ChangeStatus(c.Request.Context(), id, status); err != nil {
		code, errCode, body := errorResponse(err)
		h.observe("change_status", errCode)
		body["success"] = false
		c.JSON(code, body)
		return
	}

	h.observe("change_status", "changed")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Order status updated to '%s'.", status),
	})
}

func (h *ordersHandler) observe(operation, outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveOrder(operation, outcome)
	}
}

func parseOrderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order_id", "message": "order id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// RequestID tags every request with an X-Request-Id, reusing the caller's.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Set("request_id", id)
		c.Next()
	}
}

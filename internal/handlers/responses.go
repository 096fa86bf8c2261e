package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-transactional-orders/internal/orders"
)

type clientResponse struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

type orderItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type orderResponse struct {
	ID         int64               `json:"id"`
	ClientID   int64               `json:"client_id"`
	Client     *clientResponse     `json:"client,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	TotalValue string              `json:"total_value"`
	Status     string              `json:"status"`
	Items      []orderItemResponse `json:"items"`
}

func toOrderResponse(o *orders.Order) orderResponse {
	resp := orderResponse{
		ID:         o.ID,
		ClientID:   o.ClientID,
		CreatedAt:  o.CreatedAt,
		TotalValue: o.TotalValue.StringFixed(2),
		Status:     string(o.Status),
		Items:      make([]orderItemResponse, 0, len(o.Items)),
	}
	if c := o.Client; c != nil {
		resp.Client = &clientResponse{
			ID:           c.ID,
			Name:         c.Name,
			Email:        c.Email,
			Phone:        c.Phone,
			RegisteredAt: c.RegisteredAt,
		}
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Subtotal:  it.Subtotal().StringFixed(2),
		})
	}
	return resp
}

// errorResponse maps an order core error to an HTTP status, a stable error
// code and a JSON body. Persistence details are not exposed.
func errorResponse(err error) (int, string, gin.H) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		status, code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, orders.ErrClientNotFound):
		status, code = http.StatusUnprocessableEntity, "client_not_found"
	case errors.Is(err, orders.ErrProductNotFound):
		status, code = http.StatusUnprocessableEntity, "product_not_found"
	case errors.Is(err, orders.ErrEmptyOrder):
		status, code = http.StatusUnprocessableEntity, "empty_order"
	case errors.Is(err, orders.ErrInvalidQuantity):
		status, code = http.StatusUnprocessableEntity, "invalid_quantity"
	case errors.Is(err, orders.ErrInvalidStatus):
		status, code = http.StatusUnprocessableEntity, "invalid_status"
	case errors.Is(err, orders.ErrInsufficientStock):
		status, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, orders.ErrNoOpTransition):
		status, code = http.StatusConflict, "status_unchanged"
	}

	body := gin.H{"error": code, "message": err.Error()}
	if status == http.StatusInternalServerError {
		body["message"] = "the request could not be completed, nothing was saved"
	}

	var stockErr *orders.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["requested"] = stockErr.Requested
		if !stockErr.Concurrent {
			body["available"] = stockErr.Available
		}
	}
	return status, code, body
}

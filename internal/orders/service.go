package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/imrishuroy/go-transactional-orders/internal/orders"

// Config tunes the order service.
type Config struct {
	// TxTimeout bounds the creation transaction. Zero means no extra bound
	// beyond the caller's context.
	TxTimeout time.Duration
}

// Service creates orders, reads them back and changes their status.
type Service struct {
	validator *Validator
	orders    OrderRepository
	uow       UnitOfWork
	logger    *zap.Logger
	tracer    trace.Tracer
	txTimeout time.Duration
	nowFunc   func() time.Time
}

// NewService wires the service on top of store. A nil logger or tracer is
// replaced by a no-op one.
func NewService(store Store, logger *zap.Logger, tracer trace.Tracer, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		validator: NewValidator(store, store),
		orders:    store,
		uow:       store,
		logger:    logger,
		tracer:    tracer,
		txTimeout: cfg.TxTimeout,
		nowFunc:   time.Now,
	}
}

// CreateOrder validates the request, prices it from the catalog and
// persists the order, its items, the stock decrements and a notification
// in one transaction. It returns the new order ID.
func (s *Service) CreateOrder(ctx context.Context, clientID int64, items []ItemRequest) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "orders.create")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.client_id", clientID),
		attribute.Int("order.item_count", len(items)),
	)

	validated, products, err := s.validator.Validate(ctx, clientID, items)
	if err != nil {
		s.recordFailure(span, "order rejected", err, zap.Int64("client_id", clientID))
		return 0, err
	}

	order := &Order{
		ClientID:   clientID,
		CreatedAt:  s.nowFunc().UTC(),
		TotalValue: TotalValue(validated),
		Status:     StatusNew,
		Items:      validated,
	}

	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	var orderID int64
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			if _, err := tx.InsertItem(ctx, id, item); err != nil {
				return fmt.Errorf("insert item for product %d: %w", item.ProductID, err)
			}
		}

		for _, item := range order.Items {
			if err := tx.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("decrement stock for product %d: %w", item.ProductID, err)
			}
		}

		err = tx.RecordNotification(ctx, Notification{
			OrderID:   id,
			ClientID:  clientID,
			Message:   fmt.Sprintf("New order created with ID %d for client ID %d.", id, clientID),
			CreatedAt: order.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("record notification: %w", err)
		}

		orderID = id
		return nil
	})
	if err != nil {
		err = translateTxError(err, order.Items, products)
		s.recordFailure(span, "order transaction rolled back", err, zap.Int64("client_id", clientID))
		return 0, err
	}

	span.SetAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.total_value", order.TotalValue.StringFixed(2)),
	)
	span.SetStatus(codes.Ok, "order created")
	s.logger.Info("order created",
		zap.Int64("order_id", orderID),
		zap.Int64("client_id", clientID),
		zap.Int("items", len(order.Items)),
		zap.String("total_value", order.TotalValue.StringFixed(2)),
	)
	return orderID, nil
}

// GetOrder returns the order with its client and items.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.get")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		err = &PersistenceError{Op: "get order", Err: err}
		s.recordFailure(span, "order lookup failed", err, zap.Int64("order_id", orderID))
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order with ID %d not found", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// ChangeStatus moves an existing order to newStatus. Setting the status the
// order already has is rejected with ErrNoOpTransition.
func (s *Service) ChangeStatus(ctx context.Context, orderID int64, newStatus Status) error {
	ctx, span := s.tracer.Start(ctx, "orders.change_status")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.new_status", string(newStatus)),
	)

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		err = &PersistenceError{Op: "get order", Err: err}
		s.recordFailure(span, "status change failed", err, zap.Int64("order_id", orderID))
		return err
	}
	if order == nil {
		return fmt.Errorf("%w: order with ID %d not found", ErrOrderNotFound, orderID)
	}

	if err := CanTransition(order.Status, newStatus); err != nil {
		s.recordFailure(span, "status change rejected", err, zap.Int64("order_id", orderID))
		return err
	}

	if err := s.orders.UpdateOrderStatus(ctx, orderID, newStatus); err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			err = &PersistenceError{Op: "update order status", Err: err}
		}
		s.recordFailure(span, "status change failed", err, zap.Int64("order_id", orderID))
		return err
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(newStatus)),
	)
	return nil
}

func (s *Service) recordFailure(span trace.Span, msg string, err error, fields ...zap.Field) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	fields = append(fields, zap.Error(err))
	if errors.Is(err, ErrPersistence) {
		s.logger.Error(msg, fields...)
		return
	}
	s.logger.Info(msg, fields...)
}

// translateTxError turns a failed guarded decrement into an
// InsufficientStockError and anything else into a PersistenceError.
func translateTxError(err error, items []OrderItem, products map[int64]*Product) error {
	var conflict *StockConflictError
	if errors.As(err, &conflict) {
		out := &InsufficientStockError{ProductID: conflict.ProductID, Concurrent: true}
		if p, ok := products[conflict.ProductID]; ok {
			out.ProductName = p.Name
		}
		for _, it := range items {
			if it.ProductID == conflict.ProductID {
				out.Requested += it.Quantity
			}
		}
		return out
	}
	return &PersistenceError{Op: "create order", Err: err}
}

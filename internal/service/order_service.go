package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cafe-service/internal/broker"
	"cafe-service/internal/models"
	"cafe-service/internal/store"
	"cafe-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	orderPlacedMessage = "Order placed successfully"
	defaultPendingTTL  = 30 * time.Second
)

// IdempotencyTTL bounds how long an Idempotency-Key lives in the
// idempotency store.
type IdempotencyTTL struct {
	// Pending covers the first request while it runs. A request that dies
	// without completing or releasing its key blocks retries this long.
	Pending time.Duration
	// Done is how long the placed order ID is remembered.
	Done time.Duration
}

// OrderService turns checked-out items into a durable order. Stock is not
// touched here; it was reserved when the items entered the cart.
type OrderService struct {
	store          store.TxStore
	idempotency    IdempotencyStore
	idempotencyTTL IdempotencyTTL
	events         EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service. idem and events may be nil;
// without idem, repeated keys are still answered from the store.
func NewOrderService(st store.TxStore, idem IdempotencyStore, ttl IdempotencyTTL, events EventPublisher) *OrderService {
	if events == nil {
		events = nopPublisher{}
	}
	if ttl.Pending <= 0 {
		ttl.Pending = defaultPendingTTL
	}
	return &OrderService{
		store:          st,
		idempotency:    idem,
		idempotencyTTL: ttl,
		events:         events,
		logger:         util.GetLogger(),
	}
}

func (s *OrderService) log(ctx context.Context) *zap.Logger {
	return util.LoggerFrom(ctx, s.logger)
}

// PlaceOrderRequest is the body of POST /orders.
type PlaceOrderRequest struct {
	Customer       string           `json:"customer"`
	CPF            string           `json:"cpf"`
	Payment        string           `json:"payment"`
	Items          []PlaceOrderItem `json:"items"`
	IdempotencyKey string           `json:"-"`
}

// PlaceOrderItem is one line of a checkout. Subtotal is taken as sent.
type PlaceOrderItem struct {
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// PlaceOrderResponse represents the response after placing an order
type PlaceOrderResponse struct {
	Message  string          `json:"message"`
	OrderID  int64           `json:"orderId"`
	Total    decimal.Decimal `json:"total"`
	Replayed bool            `json:"replayed,omitempty"`
}

// Validate checks the request before anything is written.
func (r *PlaceOrderRequest) Validate() error {
	if strings.TrimSpace(r.Customer) == "" ||
		strings.TrimSpace(r.CPF) == "" ||
		strings.TrimSpace(r.Payment) == "" ||
		len(r.Items) == 0 {
		return models.ErrIncompleteOrder
	}

	for i, item := range r.Items {
		if item.ProductID <= 0 {
			return fmt.Errorf("item %d: missing product_id: %w", i, models.ErrIncompleteOrder)
		}
		if !validQuantity(item.Qty) {
			return fmt.Errorf("item %d: %w", i, models.ErrInvalidQuantity)
		}
		if item.Subtotal.IsNegative() ||
			item.Subtotal.GreaterThanOrEqual(models.MoneyLimit) ||
			!item.Subtotal.Equal(item.Subtotal.Round(2)) {
			return fmt.Errorf("item %d: %w", i, models.ErrInvalidSubtotal)
		}
	}

	if r.Total().GreaterThanOrEqual(models.MoneyLimit) {
		return models.ErrInvalidTotal
	}
	return nil
}

// Total sums the caller-supplied subtotals.
func (r *PlaceOrderRequest) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// PlaceOrder stores the order and all of its items in one transaction.
// Readers see either the whole order or nothing. A request repeating an
// Idempotency-Key gets the order the key already produced.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (_ *PlaceOrderResponse, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer util.EndSpan(span, &err)

	if err := req.Validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if resp, err := s.replay(ctx, key); resp != nil || err != nil {
			return resp, err
		}
		if resp, handled, err := s.claimKey(ctx, key); handled {
			return resp, err
		}
	}

	order := &models.Order{
		CustomerName:  strings.TrimSpace(req.Customer),
		CPF:           strings.TrimSpace(req.CPF),
		PaymentMethod: strings.TrimSpace(req.Payment),
		Total:         req.Total(),
	}
	if key != "" {
		order.IdempotencyKey = &key
	}
	items := make([]models.OrderItem, 0, len(req.Items))

	err = s.store.WithTx(ctx, func(repo store.Repository) error {
		if err := repo.CreateOrder(ctx, order); err != nil {
			if errors.Is(err, models.ErrIdempotencyKeyTaken) {
				return err
			}
			return models.TxFailure("create order", err)
		}

		for _, in := range req.Items {
			item := models.OrderItem{
				OrderID:   order.ID,
				ProductID: in.ProductID,
				Quantity:  in.Qty,
				Subtotal:  in.Subtotal,
			}
			if err := repo.CreateOrderItem(ctx, &item); err != nil {
				return models.TxFailure(fmt.Sprintf("create order item for product %d", in.ProductID), err)
			}
			items = append(items, item)
		}
		return nil
	})
	if errors.Is(err, models.ErrIdempotencyKeyTaken) {
		// A concurrent request with the same key committed first.
		if resp, lookupErr := s.replay(ctx, key); resp != nil {
			s.completeKey(ctx, key, resp.OrderID)
			return resp, nil
		} else if lookupErr != nil {
			err = lookupErr
		}
	}
	if err != nil {
		err = models.TxFailure("place order", err)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		s.log(ctx).Error("Failed to place order",
			zap.String("customer", order.CustomerName),
			zap.Int("items", len(req.Items)),
			zap.Error(err))
		s.releaseKey(ctx, key)
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.log(ctx).Info("Order placed",
		util.OrderID(order.ID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("items", len(items)))

	s.completeKey(ctx, key, order.ID)
	s.publishPlaced(ctx, order, items)

	return &PlaceOrderResponse{
		Message: orderPlacedMessage,
		OrderID: order.ID,
		Total:   order.Total,
	}, nil
}

// GetOrder retrieves an order and its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (_ *models.Order, _ []models.OrderItem, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", util.OrderAttr(orderID))
	defer util.EndSpan(span, &err)

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("order %d: %w", orderID, err)
		}
		return nil, nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// replay answers a repeated Idempotency-Key from the store, which holds the
// key of every committed order. It returns nil when the key is unused.
func (s *OrderService) replay(ctx context.Context, key string) (*PlaceOrderResponse, error) {
	order, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.TxFailure("look up idempotency key", err)
	}

	s.log(ctx).Info("Duplicate order request detected",
		util.IdempotencyKey(key),
		util.OrderID(order.ID))

	return &PlaceOrderResponse{
		Message:  orderPlacedMessage,
		OrderID:  order.ID,
		Total:    order.Total,
		Replayed: true,
	}, nil
}

// claimKey reports handled=true when the request must not create a new
// order because another request with the same key is running or has just
// finished. The idempotency store is skipped when absent or unreachable;
// the unique key in the store still prevents a second order.
func (s *OrderService) claimKey(ctx context.Context, key string) (*PlaceOrderResponse, bool, error) {
	if s.idempotency == nil {
		return nil, false, nil
	}

	claimed, orderID, err := s.idempotency.ClaimIdempotencyKey(ctx, key, s.idempotencyTTL.Pending)
	if err != nil {
		s.log(ctx).Warn("Idempotency store unavailable, relying on the database",
			util.IdempotencyKey(key),
			zap.Error(err))
		return nil, false, nil
	}
	if claimed {
		return nil, false, nil
	}

	if orderID == 0 {
		return nil, true, models.ErrDuplicateRequest
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, true, models.TxFailure("load replayed order", err)
	}
	return &PlaceOrderResponse{
		Message:  orderPlacedMessage,
		OrderID:  order.ID,
		Total:    order.Total,
		Replayed: true,
	}, true, nil
}

func (s *OrderService) completeKey(ctx context.Context, key string, orderID int64) {
	if key == "" || s.idempotency == nil {
		return
	}
	ctx, cancel := detach(ctx)
	defer cancel()

	if err := s.idempotency.CompleteIdempotencyKey(ctx, key, orderID, s.idempotencyTTL.Done); err != nil {
		s.log(ctx).Error("Failed to record idempotency key",
			util.IdempotencyKey(key),
			util.OrderID(orderID),
			zap.Error(err))
	}
}

func (s *OrderService) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	ctx, cancel := detach(ctx)
	defer cancel()

	if err := s.idempotency.ReleaseIdempotencyKey(ctx, key); err != nil {
		s.log(ctx).Warn("Failed to release idempotency key",
			util.IdempotencyKey(key),
			zap.Error(err))
	}
}

func (s *OrderService) publishPlaced(ctx context.Context, order *models.Order, items []models.OrderItem) {
	ctx, cancel := detach(ctx)
	defer cancel()

	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:   order.ID,
		Total:     order.Total,
		Items:     data,
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.log(ctx).Error("Failed to publish OrderPlaced event",
			util.OrderID(order.ID),
			zap.Error(err))
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"cafe-service/internal/models"
	"cafe-service/internal/store"
	"cafe-service/internal/util"

	"go.uber.org/zap"
)

// CartService composes carts. Every cart item is backed by a stock
// reservation made in the same transaction that creates or deletes it.
type CartService struct {
	store  store.TxStore
	ledger *StockLedger
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(st store.TxStore, ledger *StockLedger) *CartService {
	return &CartService{
		store:  st,
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

func (s *CartService) log(ctx context.Context) *zap.Logger {
	return util.LoggerFrom(ctx, s.logger)
}

// AddItem reserves quantity units of a product and records them in the cart.
// The reservation and the cart item commit together or not at all.
func (s *CartService) AddItem(ctx context.Context, cartID, productID int64, quantity int) (_ *models.CartItem, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem", util.CartAttr(cartID), util.ProductAttr(productID))
	defer util.EndSpan(span, &err)

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if !validQuantity(quantity) {
		util.StockReservationsFailed.WithLabelValues("invalid_quantity").Inc()
		return nil, models.ErrInvalidQuantity
	}

	item := &models.CartItem{
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
	}

	var entry *models.StockEntry
	err = s.store.WithTx(ctx, func(repo store.Repository) error {
		current, err := repo.LockStock(ctx, productID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("product %d: %w", productID, models.ErrNoStockRecord)
		}
		if err != nil {
			return models.TxFailure("lock stock", err)
		}

		if current.Amount == 0 {
			return fmt.Errorf("product %d: %w", productID, models.ErrOutOfStock)
		}
		if quantity > current.Amount {
			return fmt.Errorf("product %d: requested %d, available %d: %w",
				productID, quantity, current.Amount, models.ErrInsufficientStock)
		}

		entry, err = s.ledger.reserve(ctx, repo, productID, quantity)
		if err != nil {
			return err
		}

		// A failed insert rolls back the reservation above with it.
		if err := repo.CreateCartItem(ctx, item); err != nil {
			return models.TxFailure("create cart item", err)
		}
		return nil
	})
	if err != nil {
		util.StockReservationsFailed.WithLabelValues(failureReason(err)).Inc()
		if models.IsValidation(err) {
			s.log(ctx).Info("Cart item rejected",
				util.CartID(cartID),
				util.ProductID(productID),
				zap.Int("quantity", quantity),
				zap.Error(err))
			return nil, err
		}
		err = models.TxFailure("add cart item", err)
		s.log(ctx).Error("Failed to add cart item",
			util.CartID(cartID),
			util.ProductID(productID),
			zap.Error(err))
		return nil, err
	}

	util.CartItemsAddedTotal.Inc()
	s.log(ctx).Info("Cart item added",
		util.CartID(cartID),
		util.CartItemID(item.ID),
		util.ProductID(productID),
		zap.Int("remaining", entry.Amount))

	s.ledger.committed(ctx, models.EventTypeStockReserved, entry, -quantity, item.ID)
	return item, nil
}

// RemoveItem deletes a cart item and gives its quantity back to stock.
// Removing an item that does not exist succeeds and reports false, so a
// repeated removal never releases stock twice.
func (s *CartService) RemoveItem(ctx context.Context, cartItemID int64) (_ bool, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer util.EndSpan(span, &err)

	var removed *models.CartItem
	var entry *models.StockEntry
	err = s.store.WithTx(ctx, func(repo store.Repository) error {
		item, err := repo.DeleteCartItem(ctx, cartItemID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return models.TxFailure("delete cart item", err)
		}

		entry, err = s.ledger.release(ctx, repo, item.ProductID, item.Quantity)
		if err != nil {
			return models.TxFailure("release stock", err)
		}
		removed = item
		return nil
	})
	if err != nil {
		util.CartItemsRemovedTotal.WithLabelValues("error").Inc()
		err = models.TxFailure("remove cart item", err)
		s.log(ctx).Error("Failed to remove cart item",
			util.CartItemID(cartItemID),
			zap.Error(err))
		return false, err
	}

	if removed == nil {
		util.CartItemsRemovedTotal.WithLabelValues("absent").Inc()
		s.log(ctx).Debug("Cart item already absent", util.CartItemID(cartItemID))
		return false, nil
	}

	util.CartItemsRemovedTotal.WithLabelValues("removed").Inc()
	s.log(ctx).Info("Cart item removed",
		util.CartID(removed.CartID),
		util.CartItemID(removed.ID),
		util.ProductID(removed.ProductID),
		zap.Int("restored", removed.Quantity))

	s.ledger.committed(ctx, models.EventTypeStockReleased, entry, removed.Quantity, removed.ID)
	return true, nil
}

// ListItems lazily yields the lines of a cart. The sequence is finite and
// can be ranged over again; each pass reads the store afresh.
func (s *CartService) ListItems(ctx context.Context, cartID int64) iter.Seq2[models.CartLine, error] {
	return func(yield func(models.CartLine, error) bool) {
		ctx, span := util.StartSpan(ctx, "CartService.ListItems", util.CartAttr(cartID))
		defer span.End()

		for line, err := range s.store.CartLines(ctx, cartID) {
			if err != nil {
				s.log(ctx).Error("Failed to list cart items",
					util.CartID(cartID),
					zap.Error(err))
			}
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// Items collects ListItems into a slice.
func (s *CartService) Items(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	for line, err := range s.ListItems(ctx, cartID) {
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNoStockRecord):
		return "no_stock_record"
	case errors.Is(err, models.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrInvalidQuantity):
		return "invalid_quantity"
	default:
		return "error"
	}
}

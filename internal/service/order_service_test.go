package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"cafe-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anaOrder() *PlaceOrderRequest {
	return &PlaceOrderRequest{
		Customer: "Ana",
		CPF:      "111.222.333-44",
		Payment:  "pix",
		Items: []PlaceOrderItem{
			{ProductID: 7, Qty: 3, Subtotal: decimal.RequireFromString("15.00")},
		},
	}
}

func TestPlaceOrder(t *testing.T) {
	st := newSeededStore()
	events := &recordingPublisher{}
	svc := NewOrderService(st, nil, testKeyTTL, events)
	ctx := context.Background()

	resp, err := svc.PlaceOrder(ctx, anaOrder())
	require.NoError(t, err)
	assert.NotZero(t, resp.OrderID)
	assert.Equal(t, orderPlacedMessage, resp.Message)

	order, items, err := svc.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("15.00").Equal(order.Total))
	assert.Equal(t, "Ana", order.CustomerName)
	require.Len(t, items, 1)
	assert.Equal(t, resp.OrderID, items[0].OrderID)
	assert.Equal(t, 3, items[0].Quantity)

	require.Len(t, events.orders, 1)
	assert.Equal(t, resp.OrderID, events.orders[0].OrderID)
}

func TestPlaceOrderTotalMatchesItems(t *testing.T) {
	svc := NewOrderService(newSeededStore(), nil, testKeyTTL, nil)
	ctx := context.Background()

	req := anaOrder()
	req.Items = append(req.Items,
		PlaceOrderItem{ProductID: 9, Qty: 1, Subtotal: decimal.RequireFromString("8.10")},
		PlaceOrderItem{ProductID: 8, Qty: 2, Subtotal: decimal.RequireFromString("13.20")},
	)

	resp, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	order, items, err := svc.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Subtotal)
	}
	assert.True(t, sum.Equal(order.Total))
	assert.Equal(t, "36.30", order.Total.StringFixed(2))
}

func TestPlaceOrderIncomplete(t *testing.T) {
	st := newSeededStore()
	svc := NewOrderService(st, nil, testKeyTTL, nil)
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, &PlaceOrderRequest{})
	assert.ErrorIs(t, err, models.ErrIncompleteOrder)

	blank := anaOrder()
	blank.Payment = "   "
	_, err = svc.PlaceOrder(ctx, blank)
	assert.ErrorIs(t, err, models.ErrIncompleteOrder)

	noItems := anaOrder()
	noItems.Items = nil
	_, err = svc.PlaceOrder(ctx, noItems)
	assert.ErrorIs(t, err, models.ErrIncompleteOrder)

	orders, items := st.OrderCount()
	assert.Zero(t, orders)
	assert.Zero(t, items)
}

func TestPlaceOrderItemValidation(t *testing.T) {
	svc := NewOrderService(newSeededStore(), nil, testKeyTTL, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		item PlaceOrderItem
		want error
	}{
		{"missing product", PlaceOrderItem{Qty: 1, Subtotal: decimal.NewFromInt(1)}, models.ErrIncompleteOrder},
		{"zero qty", PlaceOrderItem{ProductID: 7, Subtotal: decimal.NewFromInt(1)}, models.ErrInvalidQuantity},
		{"negative subtotal", PlaceOrderItem{ProductID: 7, Qty: 1, Subtotal: decimal.NewFromInt(-1)}, models.ErrInvalidSubtotal},
		{"sub-cent subtotal", PlaceOrderItem{ProductID: 7, Qty: 1, Subtotal: decimal.RequireFromString("1.005")}, models.ErrInvalidSubtotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := anaOrder()
			req.Items = []PlaceOrderItem{tt.item}
			_, err := svc.PlaceOrder(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPlaceOrderIsAtomic(t *testing.T) {
	st := newSeededStore()
	svc := NewOrderService(&failingStore{TxStore: st, failOrderItem: 2}, nil, testKeyTTL, nil)
	ctx := context.Background()

	req := anaOrder()
	req.Items = append(req.Items, PlaceOrderItem{ProductID: 9, Qty: 1, Subtotal: decimal.RequireFromString("8.00")})

	_, err := svc.PlaceOrder(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransactionFailure)
	assert.ErrorIs(t, err, errDiskFull)

	orders, items := st.OrderCount()
	assert.Zero(t, orders)
	assert.Zero(t, items)
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	st := newSeededStore()
	idem := newFakeIdempotency()
	svc := NewOrderService(st, idem, testKeyTTL, nil)
	ctx := context.Background()

	req := anaOrder()
	req.IdempotencyKey = "checkout-1"

	first, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, first.Total.Equal(second.Total))

	orders, _ := st.OrderCount()
	assert.Equal(t, 1, orders)
}

func TestPlaceOrderIdempotencyInFlight(t *testing.T) {
	idem := newFakeIdempotency()
	idem.keys["checkout-2"] = 0
	svc := NewOrderService(newSeededStore(), idem, testKeyTTL, nil)

	req := anaOrder()
	req.IdempotencyKey = "checkout-2"

	_, err := svc.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)
}

func TestPlaceOrderReleasesKeyOnFailure(t *testing.T) {
	st := newSeededStore()
	idem := newFakeIdempotency()
	svc := NewOrderService(&failingStore{TxStore: st, failOrderItem: 1}, idem, testKeyTTL, nil)

	req := anaOrder()
	req.IdempotencyKey = "checkout-3"

	_, err := svc.PlaceOrder(context.Background(), req)
	require.Error(t, err)
	assert.NotContains(t, idem.keys, "checkout-3")
}

func TestPlaceOrderWithoutReachableIdempotencyStore(t *testing.T) {
	idem := newFakeIdempotency()
	idem.broken = true
	svc := NewOrderService(newSeededStore(), idem, testKeyTTL, nil)

	req := anaOrder()
	req.IdempotencyKey = "checkout-4"

	resp, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.NotZero(t, resp.OrderID)
}

func TestPlaceOrderKeyTTLs(t *testing.T) {
	idem := newFakeIdempotency()
	svc := NewOrderService(newSeededStore(), idem, testKeyTTL, nil)

	req := anaOrder()
	req.IdempotencyKey = "checkout-5"

	_, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{testKeyTTL.Pending}, idem.claimTTLs)
	assert.Equal(t, []time.Duration{testKeyTTL.Done}, idem.completeTTL)
}

func TestPlaceOrderReleasesKeyAfterRequestContextEnds(t *testing.T) {
	st := newSeededStore()
	idem := newFakeIdempotency()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := NewOrderService(&failingStore{TxStore: st, failOrderItem: 1, onFail: cancel}, idem, testKeyTTL, nil)

	req := anaOrder()
	req.IdempotencyKey = "checkout-6"

	_, err := failing.PlaceOrder(ctx, req)
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.NotContains(t, idem.keys, "checkout-6")

	retry, err := NewOrderService(st, idem, testKeyTTL, nil).PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, retry.Replayed)
	assert.Equal(t, retry.OrderID, idem.keys["checkout-6"])
}

func TestPlaceOrderReplaysFromStore(t *testing.T) {
	st := newSeededStore()
	svc := NewOrderService(st, nil, testKeyTTL, nil)
	ctx := context.Background()

	req := anaOrder()
	req.IdempotencyKey = "checkout-7"

	first, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	// A lost idempotency store entry must not allow a second order.
	idem := newFakeIdempotency()
	second, err := NewOrderService(st, idem, testKeyTTL, nil).PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Empty(t, idem.claimTTLs)

	order, _, err := svc.GetOrder(ctx, first.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.IdempotencyKey)
	assert.Equal(t, "checkout-7", *order.IdempotencyKey)

	orders, _ := st.OrderCount()
	assert.Equal(t, 1, orders)
}

func TestPlaceOrderConcurrentSameKey(t *testing.T) {
	st := newSeededStore()
	svc := NewOrderService(st, nil, testKeyTTL, nil)

	const requests = 8
	ids := make([]int64, requests)
	errs := make([]error, requests)

	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := anaOrder()
			req.IdempotencyKey = "checkout-8"
			resp, err := svc.PlaceOrder(context.Background(), req)
			errs[i] = err
			if err == nil {
				ids[i] = resp.OrderID
			}
		}()
	}
	wg.Wait()

	for i := range requests {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	orders, _ := st.OrderCount()
	assert.Equal(t, 1, orders)
}

func TestPlaceOrderLimits(t *testing.T) {
	st := newSeededStore()
	svc := NewOrderService(st, nil, testKeyTTL, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		items []PlaceOrderItem
		want  error
	}{
		{
			"qty above int32",
			[]PlaceOrderItem{{ProductID: 7, Qty: models.MaxQuantity + 1, Subtotal: decimal.NewFromInt(1)}},
			models.ErrInvalidQuantity,
		},
		{
			"subtotal too wide",
			[]PlaceOrderItem{{ProductID: 7, Qty: 1, Subtotal: decimal.New(1, 10)}},
			models.ErrInvalidSubtotal,
		},
		{
			"total too wide",
			[]PlaceOrderItem{
				{ProductID: 7, Qty: 1, Subtotal: decimal.RequireFromString("6000000000.00")},
				{ProductID: 9, Qty: 1, Subtotal: decimal.RequireFromString("6000000000.00")},
			},
			models.ErrInvalidTotal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := anaOrder()
			req.Items = tt.items
			_, err := svc.PlaceOrder(ctx, req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, models.IsValidation(err))
		})
	}

	req := anaOrder()
	req.Items = []PlaceOrderItem{{ProductID: 7, Qty: models.MaxQuantity, Subtotal: decimal.RequireFromString("9999999999.99")}}
	_, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	orders, _ := st.OrderCount()
	assert.Equal(t, 1, orders)
}

func TestGetOrderNotFound(t *testing.T) {
	svc := NewOrderService(newSeededStore(), nil, testKeyTTL, nil)

	_, _, err := svc.GetOrder(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

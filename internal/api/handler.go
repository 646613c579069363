package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cafe-service/internal/models"
	"cafe-service/internal/service"
	"cafe-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	cart           *service.CartService
	stock          *service.StockLedger
	orders         *service.OrderService
	db             Pinger
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	cart *service.CartService,
	stock *service.StockLedger,
	orders *service.OrderService,
	db Pinger,
	requestTimeout time.Duration,
) *Handler {
	return &Handler{
		cart:           cart,
		stock:          stock,
		orders:         orders,
		db:             db,
		requestTimeout: requestTimeout,
		logger:         util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())
	router.Use(h.timeoutMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/cart-products", h.addCartItem)
	router.GET("/cart-products/:cart_id", h.listCartItems)
	router.DELETE("/cart/item/:id", h.removeCartItem)

	router.GET("/stock/:product_id", h.getStock)
	router.PUT("/stock/:product_id", h.setStock)

	router.POST("/orders", h.placeOrder)
	router.GET("/orders/:id", h.getOrder)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only while the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type addCartItemRequest struct {
	CartID    int64 `json:"cart_id" binding:"required,gt=0"`
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity"`
}

// addCartItem handles POST /cart-products
func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.cart.AddItem(c.Request.Context(), req.CartID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// listCartItems handles GET /cart-products/:cart_id
func (h *Handler) listCartItems(c *gin.Context) {
	cartID, ok := idParam(c, "cart_id")
	if !ok {
		return
	}

	lines, err := h.cart.Items(c.Request.Context(), cartID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, lines)
}

// removeCartItem handles DELETE /cart/item/:id
func (h *Handler) removeCartItem(c *gin.Context) {
	itemID, ok := idParam(c, "id")
	if !ok {
		return
	}

	removed, err := h.cart.RemoveItem(c.Request.Context(), itemID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Item removed from cart",
		"removed": removed,
	})
}

// getStock handles GET /stock/:product_id
func (h *Handler) getStock(c *gin.Context) {
	productID, ok := idParam(c, "product_id")
	if !ok {
		return
	}

	amount, err := h.stock.AvailableQuantity(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"amount":     amount,
	})
}

type setStockRequest struct {
	Amount *int `json:"amount" binding:"required"`
}

// setStock handles PUT /stock/:product_id
func (h *Handler) setStock(c *gin.Context) {
	productID, ok := idParam(c, "product_id")
	if !ok {
		return
	}

	var req setStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.stock.SetAmount(c.Request.Context(), productID, *req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

// placeOrder handles POST /orders
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getOrder handles GET /orders/:id
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// writeError maps domain errors to status codes. Internal details of 5xx
// errors are logged, never returned.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case models.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrTransactionFailure):
		h.internalError(c, err)
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.internalError(c, err)
	}
}

func (h *Handler) internalError(c *gin.Context, err error) {
	util.LoggerFrom(c.Request.Context(), h.logger).Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

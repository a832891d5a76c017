package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Fulfillment is the set of saga operations exposed over HTTP.
type Fulfillment interface {
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	PayOrder(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID int64) error
	ShipOrder(ctx context.Context, orderID int64) error
	DeliverOrder(ctx context.Context, orderID int64) error
	GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error)
	AdjustInventory(ctx context.Context, productID int64, delta int, reason string) (*models.InventoryRecord, error)
	RetireProduct(ctx context.Context, productID int64) error
}

// ReadinessCheck reports whether backing services are reachable.
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	saga  Fulfillment
	ready ReadinessCheck
}

// NewHandler creates a new HTTP handler. ready may be nil.
func NewHandler(saga Fulfillment, ready ReadinessCheck) *Handler {
	return &Handler{
		saga:  saga,
		ready: ready,
	}
}

// AdjustInventoryRequest is the body of a stock correction
type AdjustInventoryRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/pay", h.orderAction(h.saga.PayOrder))
		v1.POST("/orders/:id/cancel", h.orderAction(h.saga.CancelOrder))
		v1.POST("/orders/:id/ship", h.orderAction(h.saga.ShipOrder))
		v1.POST("/orders/:id/deliver", h.orderAction(h.saga.DeliverOrder))

		v1.GET("/inventory/:productId", h.getInventory)
		v1.POST("/inventory/:productId/adjust", h.adjustInventory)
		v1.DELETE("/inventory/:productId", h.retireProduct)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   apperr.CodeInvalidArgument,
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.saga.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.saga.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// orderAction adapts a status-changing saga operation to a handler that
// responds with the updated order.
func (h *Handler) orderAction(op func(ctx context.Context, orderID int64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := pathID(c, "id")
		if !ok {
			return
		}

		if err := op(c.Request.Context(), orderID); err != nil {
			writeError(c, err)
			return
		}

		order, err := h.saga.GetOrder(c.Request.Context(), orderID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func (h *Handler) getInventory(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}

	rec, err := h.saga.GetInventory(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, inventoryView(rec))
}

func (h *Handler) adjustInventory(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}

	var req AdjustInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   apperr.CodeInvalidArgument,
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rec, err := h.saga.AdjustInventory(c.Request.Context(), productID, req.Delta, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, inventoryView(rec))
}

func (h *Handler) retireProduct(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}

	if err := h.saga.RetireProduct(c.Request.Context(), productID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func inventoryView(rec *models.InventoryRecord) gin.H {
	return gin.H{
		"product_id":          rec.ProductID,
		"total_quantity":      rec.TotalQuantity,
		"reserved_quantity":   rec.ReservedQuantity,
		"available":           rec.Available(),
		"low_stock_threshold": rec.LowStockThreshold,
		"low_stock":           rec.LowStock,
		"updated_at":          rec.UpdatedAt,
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   apperr.CodeInvalidArgument,
			"message": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// writeError maps a typed error to its HTTP status. Internal and dependency
// failures only expose their public message.
func writeError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)

	body := gin.H{"error": code}
	if typed := apperr.As(err); typed != nil && meta.HTTPStatus < http.StatusInternalServerError {
		body["message"] = typed.Message()
		if details := typed.Details(); details != nil {
			body["details"] = details
		}
	} else {
		body["message"] = meta.PublicMessage
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(meta.HTTPStatus, body)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

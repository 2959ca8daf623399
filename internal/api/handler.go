package api

import (
	"context"
	"net/http"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	ready          Pinger
	jwtSecret      []byte
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, paymentService *service.PaymentService, ready Pinger, jwtSecret string) *Handler {
	return &Handler{
		orderService:   orderService,
		paymentService: paymentService,
		ready:          ready,
		jwtSecret:      []byte(jwtSecret),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// called by the checkout page after the provider redirect; the
		// signature authenticates it
		v1.POST("/orders/verify", h.verifyPayment)

		authed := v1.Group("", AuthMiddleware(h.jwtSecret))
		authed.POST("/orders/:eventId", h.createOrder)
		authed.GET("/orders/:id", h.getOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.ready.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder reserves tickets for the event in the path
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidRequest("invalid request body: %v", err))
		return
	}

	req.EventID = c.Param("eventId")
	req.UserID = c.GetString(ctxUserID)
	req.ContactEmail = c.GetString(ctxEmail)
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, resp)
}

// verifyPayment confirms a provider payment
func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidRequest("invalid request body: %v", err))
		return
	}

	resp, err := h.paymentService.VerifyPayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

// getOrder returns an order owned by the caller. Orders of other users
// are reported as missing.
func (h *Handler) getOrder(c *gin.Context) {
	orderID := c.Param("id")

	details, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if details.Order.UserID != c.GetString(ctxUserID) {
		respondError(c, apperr.NotFound("order %s not found", orderID))
		return
	}

	respond(c, http.StatusOK, details)
}

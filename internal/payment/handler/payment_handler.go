package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/prabath1998/event-ticketing-web-backend/internal/auth"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

const stripeSignatureHeader = "Stripe-Signature"

type PaymentHandler struct {
	service  *payment.PaymentService
	verifier auth.Verifier
	logger   *logger.Logger
}

func NewPaymentHandler(service *payment.PaymentService, verifier auth.Verifier, logger *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		verifier: verifier,
		logger:   logger,
	}
}

type sessionRequest struct {
	Provider string `json:"provider"`
}

type dummyConfirmRequest struct {
	Success *bool `json:"success" binding:"required"`
}

// Engine builds the gin engine serving the payment and webhook routes. It
// is mounted into the main router under /api/payments and /api/webhooks and
// matches on full paths.
func (h *PaymentHandler) Engine(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	payments := r.Group("/api/payments", h.requireAuth)
	payments.POST("/:orderId/session", h.CreateSession)
	if h.service.DummyEnabled() {
		payments.POST("/:orderId/dummy-confirm", h.DummyConfirm)
	}

	r.POST("/api/webhooks/payments/:provider", h.Webhook)
	return r
}

func (h *PaymentHandler) requireAuth(c *gin.Context) {
	token, err := auth.ExtractTokenFromRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}
	actor, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		h.logger.LogSecurity("AUTH_REJECTED", fmt.Sprintf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "invalid token"))
		return
	}
	c.Request = c.Request.WithContext(auth.WithActingAs(c.Request.Context(), actor))
	c.Next()
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Order not found", "invalid order id"))
		return 0, false
	}
	return id, true
}

// CreateSession starts checkout for an order.
func (h *PaymentHandler) CreateSession(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
			return
		}
	}

	ctx := c.Request.Context()
	session, err := h.service.StartCheckout(ctx, auth.ActingAsFrom(ctx), orderID, req.Provider)
	if err != nil {
		h.writeError(c, "CreateSession", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment session ready", session))
}

// DummyConfirm settles an order through the dummy provider.
func (h *PaymentHandler) DummyConfirm(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req dummyConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	ctx := c.Request.Context()
	settled, err := h.service.ConfirmDummy(ctx, auth.ActingAsFrom(ctx), orderID, *req.Success)
	if err != nil {
		h.writeError(c, "DummyConfirm", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order settled", settled.Summary()))
}

// Webhook receives provider callbacks. The raw body is verified before
// anything in it is trusted.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	provider := c.Param("provider")
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid payload", "could not read body"))
		return
	}

	event, err := h.service.HandleWebhook(c.Request.Context(), provider, payload, c.GetHeader(stripeSignatureHeader))
	if err != nil {
		var werr *payment.WebhookError
		if errors.As(err, &werr) {
			h.logger.Error("WEBHOOK", fmt.Sprintf("%s webhook failed [%s]: %s", provider, werr.Category, werr.InternalError))
			c.JSON(werr.StatusCode, utils.ErrorResponse("Webhook rejected", werr.PublicError))
			return
		}
		h.logger.Error("WEBHOOK", fmt.Sprintf("%s webhook failed: %v", provider, err))
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Webhook rejected", "webhook processing failed"))
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Webhook received", gin.H{"type": event.Type, "orderId": event.OrderID}))
}

func (h *PaymentHandler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, payment.ErrDummyDisabled):
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
	case errors.Is(err, order.ErrOrderNotPending), errors.Is(err, payment.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, utils.ErrorResponse("Order cannot be paid now", err.Error()))
	case errors.Is(err, payment.ErrUnknownProvider), errors.Is(err, payment.ErrBelowMinimumCharge):
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Payment rejected", err.Error()))
	case errors.Is(err, payment.ErrProviderFailure):
		h.logger.Error("PAYMENT", fmt.Sprintf("%s: %v", op, err))
		c.JSON(http.StatusBadGateway, utils.ErrorResponse("Payment provider unavailable", "provider request failed"))
	default:
		h.logger.Error("PAYMENT", fmt.Sprintf("%s: %v", op, err))
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Payment request failed", "internal error"))
	}
}

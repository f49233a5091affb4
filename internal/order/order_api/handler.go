package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/prabath1998/event-ticketing-web-backend/internal/auth"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order"
	"github.com/prabath1998/event-ticketing-web-backend/internal/sse"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

type Handler struct {
	OrderService *order.OrderService
	// Checkouts enables GET /api/orders/{orderId}/events when set.
	Checkouts *sse.CheckoutEventEmitter
	Logger    *logger.Logger
}

func NewHandler(orderService *order.OrderService, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Logger:       log,
	}
}

type discountRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/orders", h.CreateOrder)
	r.Get("/api/orders", h.ListOrders)
	r.Get("/api/orders/{orderId}", h.GetOrder)
	r.Post("/api/orders/{orderId}/discount", h.ApplyDiscount)
	r.Delete("/api/orders/{orderId}/discount", h.RemoveDiscount)
	if h.Checkouts != nil {
		r.Get("/api/orders/{orderId}/events", h.StreamOrderEvents)
	}
}

func orderIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
}

// CreateOrder reserves the cart and persists a Pending order.
// Expected POST body: {"items":[{"ticketTypeId":1,"quantity":2}],"promoCode":"SAVE10"}
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	h.Logger.Debug("API", fmt.Sprintf("CreateOrder: %d cart lines, promo=%q", len(req.Items), req.PromoCode))

	created, err := h.OrderService.CreateOrder(r.Context(), auth.ActingAsFrom(r.Context()), req)
	if err != nil {
		h.writeError(w, "CreateOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Order created", created.Summary()))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.OrderService.ListOrders(r.Context(), auth.ActingAsFrom(r.Context()))
	if err != nil {
		h.writeError(w, "ListOrders", err)
		return
	}
	summaries := make([]models.OrderSummary, 0, len(list))
	for i := range list {
		summaries = append(summaries, list[i].Summary())
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d orders", len(summaries)), summaries))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		h.writeError(w, "GetOrder", order.ErrOrderNotFound)
		return
	}

	found, err := h.OrderService.GetOrder(r.Context(), auth.ActingAsFrom(r.Context()), orderID)
	if err != nil {
		h.writeError(w, "GetOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order found", found))
}

func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		h.writeError(w, "ApplyDiscount", order.ErrOrderNotFound)
		return
	}
	var req discountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	price, err := h.OrderService.ApplyDiscount(r.Context(), auth.ActingAsFrom(r.Context()), orderID, req.Code)
	if err != nil {
		h.writeError(w, "ApplyDiscount", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Discount applied", price))
}

func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		h.writeError(w, "RemoveDiscount", order.ErrOrderNotFound)
		return
	}

	price, err := h.OrderService.RemoveDiscount(r.Context(), auth.ActingAsFrom(r.Context()), orderID)
	if err != nil {
		h.writeError(w, "RemoveDiscount", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Discount removed", price))
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var verr *order.ValidationError
	switch {
	case errors.Is(err, order.ErrUnauthenticated):
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthenticated", err.Error()))
	case errors.Is(err, order.ErrOrderNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
	case errors.Is(err, order.ErrOrderNotPending):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Order can no longer be changed", err.Error()))
	case errors.Is(err, order.ErrOutOfStock):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Not enough tickets left", err.Error()))
	case errors.Is(err, order.ErrInvalidCode), errors.Is(err, order.ErrDiscountNotApplicable):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Discount rejected", err.Error()))
	case errors.As(err, &verr),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrUnknownTicketType),
		errors.Is(err, order.ErrMixedEvents),
		errors.Is(err, order.ErrMixedCurrencies):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Cart rejected", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Request failed", "internal error"))
	}
}

package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prabath1998/event-ticketing-web-backend/internal/auth"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	tickets "github.com/prabath1998/event-ticketing-web-backend/internal/tickets/service"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Handler struct {
	TicketService *tickets.TicketService
	Limiter       RateLimiter
	ScanPerMinute int
	Logger        *logger.Logger
}

func NewHandler(ticketService *tickets.TicketService, limiter RateLimiter, scanPerMinute int, log *logger.Logger) *Handler {
	return &Handler{
		TicketService: ticketService,
		Limiter:       limiter,
		ScanPerMinute: scanPerMinute,
		Logger:        log,
	}
}

// Routes mounts the ticket, scan and admin endpoints. Callers wrap it with
// the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/tickets", h.ListMyTickets)
	r.Get("/api/tickets/{ticketCode}/qr", h.GetTicketQR)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(models.RoleOrganizer, models.RoleAdmin))
		r.Use(h.scanRateLimit)
		r.Post("/api/scan/validate", h.ValidateTicket)
		r.Post("/api/scan/checkin", h.CheckinTicket)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(models.RoleAdmin))
		r.Post("/api/admin/tickets/{ticketCode}/void", h.VoidTicket)
	})
}

func (h *Handler) scanRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		actor := auth.ActingAsFrom(r.Context())
		ok, err := h.Limiter.Allow(r.Context(), "scan:"+actor.UserID, h.ScanPerMinute, time.Minute)
		if err != nil {
			// Redis trouble must not stop the door; let the scan through
			h.Logger.Error("SCAN", fmt.Sprintf("Rate limiter unavailable: %v", err))
		} else if !ok {
			utils.WriteJSON(w, http.StatusTooManyRequests, utils.ErrorResponse("Too many scans", "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) decodeScan(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.TicketScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return "", false
	}
	if req.Code == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "code is required"))
		return "", false
	}
	return req.Code, true
}

// ValidateTicket reports whether a scanned ticket would be admitted.
// Expected POST request body: {"code": "TKT-... or signed payload"}
func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	code, ok := h.decodeScan(w, r)
	if !ok {
		return
	}

	result, err := h.TicketService.Validate(r.Context(), auth.ActingAsFrom(r.Context()), code)
	if err != nil {
		h.Logger.Error("SCAN", fmt.Sprintf("ValidateTicket: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Validation failed", "internal error"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(result.Message, result))
}

// CheckinTicket admits a scanned ticket.
func (h *Handler) CheckinTicket(w http.ResponseWriter, r *http.Request) {
	code, ok := h.decodeScan(w, r)
	if !ok {
		return
	}

	result, err := h.TicketService.CheckIn(r.Context(), auth.ActingAsFrom(r.Context()), code)
	if err != nil {
		h.Logger.Error("SCAN", fmt.Sprintf("CheckinTicket: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Checkin failed", "internal error"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(result.Message, result))
}

func (h *Handler) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListForUser(r.Context(), auth.ActingAsFrom(r.Context()))
	if err != nil {
		h.writeError(w, "ListMyTickets", err)
		return
	}
	if list == nil {
		list = []models.TicketDetails{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d tickets", len(list)), list))
}

func (h *Handler) GetTicketQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "ticketCode")

	png, err := h.TicketService.QRCode(r.Context(), auth.ActingAsFrom(r.Context()), code)
	if err != nil {
		h.writeError(w, "GetTicketQR", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) VoidTicket(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "ticketCode")

	ticket, err := h.TicketService.Void(r.Context(), auth.ActingAsFrom(r.Context()), code)
	if err != nil {
		h.writeError(w, "VoidTicket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket voided", ticket))
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", err.Error()))
	case errors.Is(err, tickets.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", err.Error()))
	case errors.Is(err, tickets.ErrTicketNotVoidable):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Ticket cannot be voided", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Request failed", "internal error"))
	}
}

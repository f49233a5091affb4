package analytics_api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prabath1998/event-ticketing-web-backend/internal/analytics"
	"github.com/prabath1998/event-ticketing-web-backend/internal/auth"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/sse"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

// Handler handles analytics HTTP endpoints
var keepAliveInterval = 15 * time.Second

type Handler struct {
	Service *analytics.Service
	// Checkouts enables the live checkout stream when set.
	Checkouts *sse.CheckoutEventEmitter
	Logger    *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  logger,
	}
}

// RegisterRoutes registers the analytics routes on a chi router. Callers
// wrap it with the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(models.RoleOrganizer, models.RoleAdmin))
		r.Get("/api/organizer/events/{eventId}/sales", h.GetEventSales)
		if h.Checkouts != nil {
			r.Get("/api/organizer/events/{eventId}/checkouts", h.StreamEventCheckouts)
		}
	})
}

func eventIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventId"), 10, 64)
	if err != nil || eventID <= 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event ID", "eventId must be a positive integer"))
		return 0, false
	}
	return eventID, true
}

func (h *Handler) GetEventSales(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	sales, err := h.Service.GetEventSales(r.Context(), auth.ActingAsFrom(r.Context()), eventID)
	if err != nil {
		h.writeError(w, "GetEventSales", eventID, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event sales", sales))
}

// StreamEventCheckouts pushes every settled order of the event until the
// client disconnects.
func (h *Handler) StreamEventCheckouts(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if _, err := h.Service.AuthorizeEvent(ctx, auth.ActingAsFrom(ctx), eventID); err != nil {
		h.writeError(w, "StreamEventCheckouts", eventID, err)
		return
	}

	stream, err := sse.Open(w)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Streaming unsupported", err.Error()))
		return
	}
	updates := h.Checkouts.SubscribeToEvent(ctx, eventID)
	stream.Send("connected", map[string]interface{}{"eventId": eventID})
	h.Logger.Info("SSE", fmt.Sprintf("Organizer %s watching checkouts for event %d", auth.UserID(ctx), eventID))

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-updates:
			if !ok {
				return
			}
			if err := stream.Send("checkout", event); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.KeepAlive(); err != nil {
				return
			}
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client left checkout stream for event %d", eventID))
			return
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, eventID int64, err error) {
	switch {
	case errors.Is(err, analytics.ErrEventNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", err.Error()))
	case errors.Is(err, analytics.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", err.Error()))
	default:
		h.Logger.Error("ANALYTICS", fmt.Sprintf("%s %d: %v", op, eventID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Request failed", "internal error"))
	}
}

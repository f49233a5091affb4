package order_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prabath1998/event-ticketing-web-backend/internal/auth"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order"
	"github.com/prabath1998/event-ticketing-web-backend/internal/sse"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

var keepAliveInterval = 15 * time.Second

// StreamOrderEvents lets the buyer's checkout page wait for the webhook
// outcome. The stream ends after the first Paid or Failed event.
func (h *Handler) StreamOrderEvents(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		h.writeError(w, "StreamOrderEvents", order.ErrOrderNotFound)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before reading the status so a settlement in between is not lost.
	updates := h.Checkouts.SubscribeToOrder(ctx, orderID)

	current, err := h.OrderService.GetOrder(ctx, auth.ActingAsFrom(ctx), orderID)
	if err != nil {
		h.writeError(w, "StreamOrderEvents", err)
		return
	}

	stream, err := sse.Open(w)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Streaming unsupported", err.Error()))
		return
	}

	if current.Status != models.OrderPending {
		stream.Send("checkout", sse.NewCheckoutEvent(current, paidTickets(current), time.Now().UTC()))
		return
	}
	stream.Send("connected", map[string]interface{}{"orderId": orderID, "status": current.Status})
	h.Logger.Debug("SSE", fmt.Sprintf("Client watching order %s", current.OrderNumber))

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
			if event.Terminal() {
				return
			}
		case <-ticker.C:
			if err := stream.KeepAlive(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func paidTickets(o *models.Order) int {
	if o.Status != models.OrderPaid {
		return 0
	}
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

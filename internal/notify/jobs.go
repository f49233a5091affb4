package notify

import (
	"context"
	"time"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

const (
	JobOrderConfirmation = "order_confirmation"
	JobPaymentFailed     = "payment_failed"
)

// EmailJob is the message a mailer worker picks up. Rendering and delivery
// happen outside this service.
type EmailJob struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	OrderID     int64     `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	TotalMinor  int64     `json:"totalMinor"`
	Currency    string    `json:"currency"`
	TicketCodes []string  `json:"ticketCodes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Queue accepts email jobs. Enqueue is fire-and-forget from the caller's
// point of view; errors are for logging.
type Queue interface {
	Enqueue(ctx context.Context, job EmailJob) error
}

func OrderConfirmation(order *models.Order, tickets []models.Ticket, now time.Time) EmailJob {
	codes := make([]string, 0, len(tickets))
	for _, t := range tickets {
		codes = append(codes, t.TicketCode)
	}
	job := jobFor(JobOrderConfirmation, order, now)
	job.TicketCodes = codes
	return job
}

func PaymentFailed(order *models.Order, now time.Time) EmailJob {
	return jobFor(JobPaymentFailed, order, now)
}

func jobFor(kind string, order *models.Order, now time.Time) EmailJob {
	return EmailJob{
		Type:        kind,
		UserID:      order.UserID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalMinor:  order.TotalMinor,
		Currency:    order.Currency,
		CreatedAt:   now,
	}
}

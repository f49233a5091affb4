package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment"
)

// DummyService settles orders without any provider. Only for local and test
// environments.
type DummyService struct {
	log *logger.Logger
}

func NewDummyService(log *logger.Logger) *DummyService {
	log.Warn("PAYMENT", "Dummy payment provider enabled, orders can be paid without charging anyone")
	return &DummyService{log: log}
}

func (d *DummyService) Name() string { return payment.ProviderDummy }

func (d *DummyService) CreateSession(ctx context.Context, o *models.Order) (*payment.Session, error) {
	return &payment.Session{
		Provider:         payment.ProviderDummy,
		SessionID:        "dummy_" + o.OrderNumber,
		RequiresRedirect: false,
	}, nil
}

// ParseWebhook accepts "<orderId>:success" or "<orderId>:failed". There is
// no signature.
func (d *DummyService) ParseWebhook(ctx context.Context, payload []byte, signature string) (*payment.WebhookEvent, error) {
	id, outcome, ok := strings.Cut(strings.TrimSpace(string(payload)), ":")
	if !ok {
		return nil, fmt.Errorf("%w: expected <orderId>:<outcome>", payment.ErrUnrecognized)
	}
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || orderID <= 0 {
		return nil, fmt.Errorf("%w: bad order id %q", payment.ErrUnrecognized, id)
	}

	var success bool
	switch outcome {
	case "success":
		success = true
	case "failed":
	default:
		return nil, fmt.Errorf("%w: bad outcome %q", payment.ErrUnrecognized, outcome)
	}

	d.log.LogPayment("WEBHOOK", id, fmt.Sprintf("dummy outcome=%s", outcome))
	return &payment.WebhookEvent{
		Type:    "dummy." + outcome,
		OrderID: orderID,
		Success: success,
		Settlement: models.Settlement{
			Provider:       payment.ProviderDummy,
			TransactionRef: "dummy_webhook_" + id,
			RawPayload:     payload,
		},
	}, nil
}

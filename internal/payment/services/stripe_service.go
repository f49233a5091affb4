package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment"
)

const ProviderStripe = "stripe"

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeService is the Stripe Checkout gateway.
type StripeService struct {
	client        *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	fees          config.FeeSchedule
	log           *logger.Logger
}

// NewStripeService builds the gateway. backends is nil outside tests.
func NewStripeService(cfg config.PaymentsConfig, fees config.FeeSchedule, backends *stripe.Backends, log *logger.Logger) (*StripeService, error) {
	if cfg.StripeSecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}
	if cfg.StripeWebhookSecret == "" {
		log.Warn("STRIPE", "STRIPE_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	sc := client.New(cfg.StripeSecretKey, backends)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{
		client:        sc,
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		fees:          fees,
		log:           log,
	}, nil
}

func (s *StripeService) Name() string { return ProviderStripe }

func orderURL(template string, o *models.Order) string {
	return strings.ReplaceAll(template, "{ORDER_NUMBER}", o.OrderNumber)
}

// CreateSession opens a Checkout session charging the order total as a
// single line item.
func (s *StripeService) CreateSession(ctx context.Context, o *models.Order) (*payment.Session, error) {
	if min := s.fees.MinimumCharge(o.Currency); o.TotalMinor < min {
		return nil, fmt.Errorf("%w: %d < %d %s", payment.ErrBelowMinimumCharge, o.TotalMinor, min, o.Currency)
	}

	orderID := strconv.FormatInt(o.ID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(orderID),
		SuccessURL:        stripe.String(orderURL(s.successURL, o)),
		CancelURL:         stripe.String(orderURL(s.cancelURL, o)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(o.Currency),
					UnitAmount: stripe.Int64(o.TotalMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Order " + o.OrderNumber),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"order_id":     orderID,
				"order_number": o.OrderNumber,
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderID)
	params.AddMetadata("order_number", o.OrderNumber)

	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Checkout session for %s failed: %v", o.OrderNumber, err))
		return nil, fmt.Errorf("%w: %s", payment.ErrProviderFailure, stripeMessage(err))
	}

	s.log.Info("STRIPE", fmt.Sprintf("Checkout session %s created for %s", sess.ID, o.OrderNumber))
	return &payment.Session{
		Provider:         ProviderStripe,
		SessionID:        sess.ID,
		RedirectURL:      sess.URL,
		ClientSecret:     sess.ClientSecret,
		RequiresRedirect: sess.URL != "",
	}, nil
}

// ResumeSession returns ref again while Stripe still has it open for the
// order's current total.
func (s *StripeService) ResumeSession(ctx context.Context, o *models.Order, ref string) (*payment.Session, bool, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.client.CheckoutSessions.Get(ref, params)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", payment.ErrProviderFailure, stripeMessage(err))
	}
	if sess.Status != stripe.CheckoutSessionStatusOpen ||
		sess.AmountTotal != o.TotalMinor ||
		!strings.EqualFold(string(sess.Currency), o.Currency) {
		return nil, false, nil
	}
	return &payment.Session{
		Provider:         ProviderStripe,
		SessionID:        sess.ID,
		RedirectURL:      sess.URL,
		ClientSecret:     sess.ClientSecret,
		RequiresRedirect: sess.URL != "",
	}, true, nil
}

func stripeMessage(err error) string {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return fmt.Sprintf("%s (%s)", serr.Msg, serr.Code)
	}
	return "request failed"
}

// ParseWebhook verifies the Stripe-Signature header and maps the event to
// an order outcome.
func (s *StripeService) ParseWebhook(ctx context.Context, payload []byte, signature string) (*payment.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}

	result := &payment.WebhookEvent{Type: string(event.Type), Success: true}
	settlement := models.Settlement{Provider: ProviderStripe, RawPayload: payload}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", payment.ErrUnrecognized, err)
		}
		if event.Type == stripe.EventTypeCheckoutSessionCompleted && sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			// async methods settle later through async_payment_*
			return result, nil
		}
		orderID, err := referencedOrder(sess.ClientReferenceID, sess.Metadata)
		if err != nil {
			return nil, err
		}
		settlement.SessionRef = sess.ID
		if sess.PaymentIntent != nil {
			settlement.TransactionRef = sess.PaymentIntent.ID
		}
		result.OrderID = orderID
		result.Success = event.Type == stripe.EventTypeCheckoutSessionCompleted ||
			event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded

	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %v", payment.ErrUnrecognized, err)
		}
		orderID, err := referencedOrder("", pi.Metadata)
		if err != nil {
			return nil, err
		}
		settlement.TransactionRef = pi.ID
		result.OrderID = orderID
		result.Success = event.Type == stripe.EventTypePaymentIntentSucceeded

	default:
		return result, nil
	}

	result.Settlement = settlement
	s.log.LogPayment("WEBHOOK", strconv.FormatInt(result.OrderID, 10), fmt.Sprintf("stripe %s success=%t", event.Type, result.Success))
	return result, nil
}

func referencedOrder(clientRef string, metadata map[string]string) (int64, error) {
	ref := clientRef
	if ref == "" {
		ref = metadata["order_id"]
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: no order reference", payment.ErrUnrecognized)
	}
	return id, nil
}

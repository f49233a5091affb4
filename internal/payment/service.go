package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/prabath1998/event-ticketing-web-backend/internal/audit"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/notify"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment/storage"
	"github.com/prabath1998/event-ticketing-web-backend/internal/sse"
)

const ProviderDummy = "dummy"

type OrderSettler interface {
	GetOrder(ctx context.Context, actor models.ActingAs, orderID int64) (*models.Order, error)
	GetOrderInternal(ctx context.Context, orderID int64) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID int64, settlement models.Settlement) (*models.Order, bool, error)
	MarkFailed(ctx context.Context, orderID int64, settlement models.Settlement) (*models.Order, bool, error)
}

type TicketIssuer interface {
	IssueForPaidOrder(ctx context.Context, orderID int64) ([]models.Ticket, error)
}

type CheckoutLock interface {
	LockCheckout(ctx context.Context, orderID int64, token string) (bool, error)
	UnlockCheckout(ctx context.Context, orderID int64, token string) error
}

type CheckoutNotifier interface {
	EmitCheckoutEvent(event sse.CheckoutEvent)
}

type PaymentService struct {
	Orders  OrderSettler
	Tickets TicketIssuer
	Store   storage.Store
	Locks   CheckoutLock
	Email   notify.Queue
	Audit   audit.Sink
	// Checkouts receives every settlement that changed an order.
	Checkouts CheckoutNotifier
	Logger    *logger.Logger

	defaultProvider string
	gateways        map[string]Gateway
	now             func() time.Time
}

func NewPaymentService(orders OrderSettler, tickets TicketIssuer, store storage.Store, defaultProvider string, log *logger.Logger) *PaymentService {
	return &PaymentService{
		Orders:          orders,
		Tickets:         tickets,
		Store:           store,
		Logger:          log,
		defaultProvider: defaultProvider,
		gateways:        make(map[string]Gateway),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *PaymentService) WithClock(now func() time.Time) *PaymentService {
	s.now = now
	return s
}

// Register makes a gateway reachable by its name. The dummy gateway is only
// registered when explicitly enabled.
func (s *PaymentService) Register(g Gateway) *PaymentService {
	s.gateways[g.Name()] = g
	s.Logger.Info("PAYMENT", fmt.Sprintf("Registered payment provider %q", g.Name()))
	return s
}

func (s *PaymentService) DummyEnabled() bool {
	_, ok := s.gateways[ProviderDummy]
	return ok
}

func (s *PaymentService) gateway(name string) (Gateway, error) {
	if name == "" {
		name = s.defaultProvider
	}
	g, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return g, nil
}

// StartCheckout opens a provider session for a Pending order the actor owns.
// A Paid order yields an already-settled result and no new session. A zero
// total order is settled on the spot without a provider.
func (s *PaymentService) StartCheckout(ctx context.Context, actor models.ActingAs, orderID int64, provider string) (*Session, error) {
	o, err := s.Orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case models.OrderPaid:
		return s.settledSession(ctx, o), nil
	case models.OrderFailed:
		return nil, order.ErrOrderNotPending
	}

	if o.TotalMinor == 0 {
		if _, err := s.settle(ctx, o.ID, true, models.Settlement{Provider: ProviderNone}); err != nil {
			return nil, err
		}
		s.Logger.LogPayment("FREE_ORDER", o.OrderNumber, "zero total, settled without a provider")
		return &Session{Provider: ProviderNone, AlreadySettled: true}, nil
	}

	gw, err := s.gateway(provider)
	if err != nil {
		return nil, err
	}

	if s.Locks != nil {
		token := uuid.NewString()
		locked, err := s.Locks.LockCheckout(ctx, o.ID, token)
		if err != nil {
			return nil, fmt.Errorf("lock checkout: %w", err)
		}
		if !locked {
			return nil, ErrCheckoutInProgress
		}
		defer func() {
			if err := s.Locks.UnlockCheckout(context.Background(), o.ID, token); err != nil {
				s.Logger.Warn("REDIS", fmt.Sprintf("Failed to release checkout lock for order %d: %v", o.ID, err))
			}
		}()
	}

	if session := s.resumeSession(ctx, gw, o); session != nil {
		s.Logger.LogPayment("SESSION", o.OrderNumber, fmt.Sprintf("provider=%s session=%s reused", gw.Name(), session.SessionID))
		return session, nil
	}

	session, err := gw.CreateSession(ctx, o)
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("%s session for order %s failed: %v", gw.Name(), o.OrderNumber, err))
		return nil, err
	}

	now := s.now()
	ref := session.SessionID
	p := &models.Payment{
		OrderID:            o.ID,
		Provider:           gw.Name(),
		Status:             models.PaymentInitiated,
		AmountMinor:        o.TotalMinor,
		Currency:           o.Currency,
		ProviderSessionRef: &ref,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.Store.SaveSession(ctx, p); err != nil {
		return nil, err
	}

	s.Logger.LogPayment("SESSION", o.OrderNumber, fmt.Sprintf("provider=%s session=%s", gw.Name(), session.SessionID))
	return session, nil
}

// resumeSession hands back the order's recorded session when the gateway says
// it is still open for the current total. Any lookup problem means a fresh
// session.
func (s *PaymentService) resumeSession(ctx context.Context, gw Gateway, o *models.Order) *Session {
	resumer, ok := gw.(SessionResumer)
	if !ok {
		return nil
	}
	p, err := s.Store.GetPaymentByOrderID(ctx, o.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrPaymentNotFound) {
			s.Logger.Warn("PAYMENT", fmt.Sprintf("Could not load payment for order %s: %v", o.OrderNumber, err))
		}
		return nil
	}
	if p.Status != models.PaymentInitiated || p.Provider != gw.Name() || p.ProviderSessionRef == nil ||
		p.AmountMinor != o.TotalMinor || p.Currency != o.Currency {
		return nil
	}
	session, ok, err := resumer.ResumeSession(ctx, o, *p.ProviderSessionRef)
	if err != nil {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Could not resume %s session %s: %v", gw.Name(), *p.ProviderSessionRef, err))
		return nil
	}
	if !ok {
		return nil
	}
	return session
}

// supersededSession reports whether ref is an older session than the one on
// file for the order.
func (s *PaymentService) supersededSession(ctx context.Context, orderID int64, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	p, err := s.Store.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, storage.ErrPaymentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.ProviderSessionRef != nil && *p.ProviderSessionRef != ref, nil
}

func (s *PaymentService) settledSession(ctx context.Context, o *models.Order) *Session {
	session := &Session{Provider: ProviderNone, AlreadySettled: true}
	p, err := s.Store.GetPaymentByOrderID(ctx, o.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrPaymentNotFound) {
			s.Logger.Warn("PAYMENT", fmt.Sprintf("Could not load payment for settled order %s: %v", o.OrderNumber, err))
		}
		return session
	}
	session.Provider = p.Provider
	if p.ProviderSessionRef != nil {
		session.SessionID = *p.ProviderSessionRef
	}
	return session
}

// HandleWebhook verifies and applies one provider callback. Redelivered and
// late events are acknowledged without side effects, and so is a failure
// for a session that has since been replaced. Only storage failures ask the
// provider to retry.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookEvent, error) {
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, &WebhookError{
			Category:      "provider",
			StatusCode:    http.StatusNotFound,
			PublicError:   "unknown provider",
			InternalError: fmt.Sprintf("no gateway registered for %q", provider),
			OriginalErr:   ErrUnknownProvider,
		}
	}

	event, err := gw.ParseWebhook(ctx, payload, signature)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		s.Logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("%s webhook rejected: %v", provider, err))
		return nil, &WebhookError{
			Category:      "signature",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "invalid signature",
			InternalError: err.Error(),
			OriginalErr:   err,
		}
	case errors.Is(err, ErrUnrecognized):
		return nil, &WebhookError{
			Category:      "payload",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "unrecognized payload",
			InternalError: err.Error(),
			OriginalErr:   err,
		}
	case err != nil:
		return nil, &WebhookError{
			Category:      "provider",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "webhook processing failed",
			InternalError: err.Error(),
			OriginalErr:   err,
		}
	}

	if event.OrderID == 0 {
		s.Logger.Debug("WEBHOOK", fmt.Sprintf("%s event %q acknowledged without action", provider, event.Type))
		return event, nil
	}

	if !event.Success {
		stale, err := s.supersededSession(ctx, event.OrderID, event.Settlement.SessionRef)
		if err != nil {
			return nil, &WebhookError{
				Category:      "settlement",
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "webhook processing failed",
				InternalError: err.Error(),
				OriginalErr:   err,
			}
		}
		if stale {
			s.Logger.Info("WEBHOOK", fmt.Sprintf("%s event %q for superseded session %s of order %d, ignoring",
				provider, event.Type, event.Settlement.SessionRef, event.OrderID))
			return event, nil
		}
	}

	_, err = s.settle(ctx, event.OrderID, event.Success, event.Settlement)
	switch {
	case err == nil:
	case errors.Is(err, order.ErrOrderNotFound):
		s.Logger.Warn("WEBHOOK", fmt.Sprintf("%s event %q for unknown order %d", provider, event.Type, event.OrderID))
	case errors.Is(err, order.ErrInvalidTransition):
		s.Logger.Warn("WEBHOOK", fmt.Sprintf("%s event %q conflicts with settled order %d, ignoring", provider, event.Type, event.OrderID))
	default:
		return nil, &WebhookError{
			Category:      "settlement",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "webhook processing failed",
			InternalError: err.Error(),
			OriginalErr:   err,
		}
	}
	return event, nil
}

// ConfirmDummy settles an order through the dummy provider on the owner's
// say-so. It does not exist unless the dummy provider is registered.
func (s *PaymentService) ConfirmDummy(ctx context.Context, actor models.ActingAs, orderID int64, success bool) (*models.Order, error) {
	if !s.DummyEnabled() {
		return nil, ErrDummyDisabled
	}
	o, err := s.Orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	settled, err := s.settle(ctx, o.ID, success, models.Settlement{
		Provider:       ProviderDummy,
		SessionRef:     "dummy_" + o.OrderNumber,
		TransactionRef: fmt.Sprintf("dummy_confirm_%d", o.ID),
	})
	if err != nil {
		return nil, err
	}

	if s.Audit != nil {
		entry := audit.NewEntry(actor.UserID, audit.ActionDummyConfirm, audit.EntityOrder, o.OrderNumber,
			map[string]interface{}{"orderId": o.ID, "success": success}, s.now())
		if err := s.Audit.Record(ctx, entry); err != nil {
			s.Logger.Error("AUDIT", fmt.Sprintf("Failed to record dummy confirm for %s: %v", o.OrderNumber, err))
		}
	}
	return settled, nil
}

// settle drives the order to its outcome. Paid orders always go through
// issuance so a retried delivery repairs an earlier issuance failure.
func (s *PaymentService) settle(ctx context.Context, orderID int64, success bool, settlement models.Settlement) (*models.Order, error) {
	if !success {
		o, changed, err := s.Orders.MarkFailed(ctx, orderID, settlement)
		if err != nil {
			return nil, err
		}
		if changed {
			s.enqueue(ctx, notify.PaymentFailed(o, s.now()))
			s.emit(o, 0)
		}
		return o, nil
	}

	o, changed, err := s.Orders.MarkPaid(ctx, orderID, settlement)
	if err != nil {
		return nil, err
	}
	tickets, err := s.Tickets.IssueForPaidOrder(ctx, orderID)
	if err != nil {
		s.Logger.Error("TICKET", fmt.Sprintf("Issuance failed for paid order %s: %v", o.OrderNumber, err))
		return nil, fmt.Errorf("issue tickets for order %d: %w", orderID, err)
	}
	if changed {
		s.enqueue(ctx, notify.OrderConfirmation(o, tickets, s.now()))
		s.emit(o, len(tickets))
	}
	return o, nil
}

func (s *PaymentService) emit(o *models.Order, ticketCount int) {
	if s.Checkouts != nil {
		s.Checkouts.EmitCheckoutEvent(sse.NewCheckoutEvent(o, ticketCount, s.now()))
	}
}

func (s *PaymentService) enqueue(ctx context.Context, job notify.EmailJob) {
	if s.Email == nil {
		return
	}
	if err := s.Email.Enqueue(ctx, job); err != nil {
		s.Logger.Error("EMAIL", fmt.Sprintf("Failed to queue %s for %s: %v", job.Type, job.OrderNumber, err))
	}
}

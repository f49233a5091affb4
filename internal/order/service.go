package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/discount"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/pricing"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

const maxOrderNumberAttempts = 5

type DBLayer interface {
	GetTicketTypes(ctx context.Context, ids []int64) ([]models.TicketType, error)
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	UserOwnsOrder(ctx context.Context, userID string, orderID int64) (bool, error)
	UpdatePricing(ctx context.Context, order *models.Order) error
	MarkPaid(ctx context.Context, orderID int64, s models.Settlement, now time.Time) (*models.Order, bool, error)
	MarkFailed(ctx context.Context, orderID int64, s models.Settlement, now time.Time) (*models.Order, bool, error)
}

type Pricer interface {
	Price(ctx context.Context, lines []pricing.Line, promoCode string) (*pricing.Result, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

type OrderService struct {
	DB      DBLayer
	Pricing Pricer
	Events  EventPublisher
	Topics  config.TopicConfig
	logger  *logger.Logger
	now     func() time.Time
}

func NewOrderService(db DBLayer, pricer Pricer, events EventPublisher, topics config.TopicConfig, log *logger.Logger) *OrderService {
	return &OrderService{
		DB:      db,
		Pricing: pricer,
		Events:  events,
		Topics:  topics,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// CreateOrder validates the cart, prices it and persists a Pending order with
// its inventory reserved. Any failure leaves nothing reserved.
func (s *OrderService) CreateOrder(ctx context.Context, actor models.ActingAs, req models.OrderRequest) (*models.Order, error) {
	if actor.UserID == "" {
		return nil, ErrUnauthenticated
	}

	cart, err := mergeCart(req.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(cart))
	for _, item := range cart {
		ids = append(ids, item.TicketTypeID)
	}
	types, err := s.DB.GetTicketTypes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ticket types: %w", err)
	}
	byID := make(map[int64]models.TicketType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	now := s.now()
	lines := make([]pricing.Line, 0, len(cart))
	items := make([]models.OrderItem, 0, len(cart))
	for _, item := range cart {
		t, ok := byID[item.TicketTypeID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTicketType, item.TicketTypeID)
		}
		if len(lines) > 0 {
			if t.EventID != lines[0].EventID {
				return nil, ErrMixedEvents
			}
			if t.Currency != lines[0].Currency {
				return nil, ErrMixedCurrencies
			}
		}
		if !t.OnSale(now) {
			return nil, &ValidationError{TicketTypeID: t.ID, Reason: "sales window is closed", Err: ErrNotOnSale}
		}
		if t.PerOrderLimit != nil && item.Quantity > *t.PerOrderLimit {
			return nil, &ValidationError{
				TicketTypeID: t.ID,
				Reason:       fmt.Sprintf("at most %d per order", *t.PerOrderLimit),
				Err:          ErrLimitExceeded,
			}
		}

		line := pricing.LineFor(t, item.Quantity)
		lines = append(lines, line)

		snapshot, err := json.Marshal(models.PriceSnapshot{
			TicketTypeID:   t.ID,
			EventID:        t.EventID,
			Name:           t.Name,
			UnitPriceMinor: t.UnitPriceMinor,
			Currency:       t.Currency,
			SalesStart:     t.SalesStart,
			SalesEnd:       t.SalesEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot ticket type %d: %w", t.ID, err)
		}
		items = append(items, models.OrderItem{
			EventID:        t.EventID,
			TicketTypeID:   t.ID,
			UnitPriceMinor: t.UnitPriceMinor,
			Quantity:       item.Quantity,
			LineTotalMinor: line.Total(),
			PriceSnapshot:  string(snapshot),
		})
	}

	price, err := s.Pricing.Price(ctx, lines, req.PromoCode)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:    actor.UserID,
		Status:    models.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyPrice(order, price)

	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order.ID = 0
		order.OrderNumber = utils.GenerateOrderNumber(now)
		err = s.DB.CreateOrder(ctx, order, items)
		if !errors.Is(err, ErrDuplicateOrderNumber) {
			break
		}
		s.logger.Warn("ORDER", fmt.Sprintf("Order number collision on attempt %d, regenerating", attempt))
	}
	if err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("Failed to create order for user %s: %v", actor.UserID, err))
		return nil, err
	}

	s.logger.LogOrder("CREATE", order.OrderNumber, fmt.Sprintf("user=%s total=%d %s", order.UserID, order.TotalMinor, order.Currency))
	s.publish(ctx, s.Topics.OrderCreated, models.EventOrderCreated, order)
	return order, nil
}

// ApplyDiscount re-prices a Pending order with code. The order is only
// changed when the code actually saves something.
func (s *OrderService) ApplyDiscount(ctx context.Context, actor models.ActingAs, orderID int64, code string) (*pricing.Result, error) {
	order, err := s.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return nil, ErrOrderNotPending
	}

	normalized := discount.NormalizeCode(code)
	if normalized == "" {
		return nil, ErrInvalidCode
	}

	price, err := s.Pricing.Price(ctx, linesOf(order), normalized)
	if err != nil {
		return nil, err
	}
	if price.DiscountMinor <= 0 {
		if !price.CodeFound {
			return nil, ErrInvalidCode
		}
		return nil, ErrDiscountNotApplicable
	}

	applyPrice(order, price)
	order.UpdatedAt = s.now()
	if err := s.DB.UpdatePricing(ctx, order); err != nil {
		return nil, err
	}

	s.logger.LogOrder("DISCOUNT", order.OrderNumber, fmt.Sprintf("code=%s discount=%d total=%d", normalized, price.DiscountMinor, price.TotalMinor))
	return price, nil
}

// RemoveDiscount re-prices a Pending order without any code.
func (s *OrderService) RemoveDiscount(ctx context.Context, actor models.ActingAs, orderID int64) (*pricing.Result, error) {
	order, err := s.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return nil, ErrOrderNotPending
	}

	price, err := s.Pricing.Price(ctx, linesOf(order), "")
	if err != nil {
		return nil, err
	}

	applyPrice(order, price)
	order.UpdatedAt = s.now()
	if err := s.DB.UpdatePricing(ctx, order); err != nil {
		return nil, err
	}

	s.logger.LogOrder("DISCOUNT", order.OrderNumber, "discount removed")
	return price, nil
}

// MarkPaid settles a Pending order as Paid. Repeating it on a Paid order is a
// no-op reported with changed=false.
func (s *OrderService) MarkPaid(ctx context.Context, orderID int64, settlement models.Settlement) (*models.Order, bool, error) {
	order, changed, err := s.DB.MarkPaid(ctx, orderID, settlement, s.now())
	if err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("MarkPaid failed for order %d: %v", orderID, err))
		return nil, false, err
	}
	if !changed {
		s.logger.LogOrder("PAID", order.OrderNumber, "already paid, nothing to do")
		return order, false, nil
	}

	s.logger.LogOrder("PAID", order.OrderNumber, fmt.Sprintf("provider=%s ref=%s", settlement.Provider, settlement.TransactionRef))
	s.publish(ctx, s.Topics.OrderPaid, models.EventOrderPaid, order)
	return order, true, nil
}

// MarkFailed settles a Pending order as Failed and releases its inventory.
func (s *OrderService) MarkFailed(ctx context.Context, orderID int64, settlement models.Settlement) (*models.Order, bool, error) {
	order, changed, err := s.DB.MarkFailed(ctx, orderID, settlement, s.now())
	if err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("MarkFailed failed for order %d: %v", orderID, err))
		return nil, false, err
	}
	if !changed {
		s.logger.LogOrder("FAILED", order.OrderNumber, "already failed, nothing to do")
		return order, false, nil
	}

	s.logger.LogOrder("FAILED", order.OrderNumber, fmt.Sprintf("provider=%s ref=%s", settlement.Provider, settlement.TransactionRef))
	s.publish(ctx, s.Topics.OrderFailed, models.EventOrderFailed, order)
	return order, true, nil
}

// UserOwnsOrder is the read-only ownership predicate.
func (s *OrderService) UserOwnsOrder(ctx context.Context, userID string, orderID int64) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return s.DB.UserOwnsOrder(ctx, userID, orderID)
}

// GetOrder returns the order if actor owns it or is an admin. Anything else
// looks exactly like a missing order.
func (s *OrderService) GetOrder(ctx context.Context, actor models.ActingAs, orderID int64) (*models.Order, error) {
	return s.ownedOrder(ctx, actor, orderID)
}

// GetOrderInternal loads an order without an ownership check, for webhook
// and issuance paths that act on behalf of the system.
func (s *OrderService) GetOrderInternal(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.DB.GetOrderByID(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context, actor models.ActingAs) ([]models.Order, error) {
	if actor.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return s.DB.ListOrdersByUser(ctx, actor.UserID)
}

func (s *OrderService) ownedOrder(ctx context.Context, actor models.ActingAs, orderID int64) (*models.Order, error) {
	if !actor.IsAdmin() {
		owns, err := s.UserOwnsOrder(ctx, actor.UserID, orderID)
		if err != nil {
			return nil, err
		}
		if !owns {
			s.logger.LogSecurity("ORDER_ACCESS", fmt.Sprintf("user %q denied access to order %d", actor.UserID, orderID))
			return nil, ErrOrderNotFound
		}
	}
	return s.DB.GetOrderByID(ctx, orderID)
}

func (s *OrderService) publish(ctx context.Context, topic, eventType string, order *models.Order) {
	if s.Events == nil || topic == "" {
		return
	}
	evt := models.NewOrderEventDto(eventType, order, s.now())
	if err := s.Events.Publish(ctx, topic, order.OrderNumber, evt); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s for %s: %v", eventType, order.OrderNumber, err))
	}
}

// mergeCart folds duplicate ticket type lines together and rejects
// non-positive quantities.
func mergeCart(items []models.CartItem) ([]models.CartItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	index := make(map[int64]int, len(items))
	merged := make([]models.CartItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &ValidationError{TicketTypeID: item.TicketTypeID, Reason: "quantity must be positive", Err: ErrInvalidQuantity}
		}
		if i, ok := index[item.TicketTypeID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.TicketTypeID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func linesOf(order *models.Order) []pricing.Line {
	lines := make([]pricing.Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, pricing.Line{
			TicketTypeID:   item.TicketTypeID,
			EventID:        item.EventID,
			UnitPriceMinor: item.UnitPriceMinor,
			Currency:       order.Currency,
			Quantity:       item.Quantity,
		})
	}
	return lines
}

func applyPrice(order *models.Order, price *pricing.Result) {
	order.SubtotalMinor = price.SubtotalMinor
	order.DiscountMinor = price.DiscountMinor
	order.FeesMinor = price.FeesMinor
	order.TotalMinor = price.TotalMinor
	order.Currency = price.Currency
	if price.DiscountCode != "" {
		code := price.DiscountCode
		order.DiscountCode = &code
	} else {
		order.DiscountCode = nil
	}
}

package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prabath1998/event-ticketing-web-backend/internal/audit"
	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/tickets/qr"
	"github.com/prabath1998/event-ticketing-web-backend/internal/tickets/signer"
	"github.com/prabath1998/event-ticketing-web-backend/internal/utils"
)

const maxIssueAttempts = 3

// Scan outcome statuses beyond the ticket's own status values.
const (
	StatusNotFound         = "NotFound"
	StatusInvalidSignature = "InvalidSignature"
	StatusMalformed        = "Malformed"
)

type TicketDBLayer interface {
	GetOrderForIssuance(ctx context.Context, orderID int64) (*models.Order, error)
	GetTicketsByOrder(ctx context.Context, orderID int64) ([]models.Ticket, error)
	InsertTickets(ctx context.Context, orderID int64, tickets []models.Ticket, now time.Time) error
	GetTicketByCode(ctx context.Context, code string) (*models.TicketDetails, error)
	GetTicketsByUser(ctx context.Context, userID string) ([]models.TicketDetails, error)
	CheckInTicket(ctx context.Context, ticketID int64, now time.Time) (bool, error)
	VoidTicket(ctx context.Context, ticketID int64) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

type TicketService struct {
	DB          TicketDBLayer
	Signer      *signer.Signer
	QRGenerator *qr.QRGenerator
	Events      EventPublisher
	Audit       audit.Sink
	Topics      config.TopicConfig
	Logger      *logger.Logger

	now     func() time.Time
	newCode func() (string, error)
}

func NewTicketService(db TicketDBLayer, s *signer.Signer, events EventPublisher, sink audit.Sink, topics config.TopicConfig, log *logger.Logger) *TicketService {
	return &TicketService{
		DB:          db,
		Signer:      s,
		QRGenerator: qr.NewQRGenerator(),
		Events:      events,
		Audit:       sink,
		Topics:      topics,
		Logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
		newCode:     utils.GenerateTicketCode,
	}
}

func (s *TicketService) WithClock(now func() time.Time) *TicketService {
	s.now = now
	return s
}

// IssueForPaidOrder mints quantity tickets per order item. Calling it again
// for the same order returns the tickets already minted.
func (s *TicketService) IssueForPaidOrder(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	order, err := s.DB.GetOrderForIssuance(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotPaid, orderID, order.Status)
	}

	existing, err := s.DB.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 || order.TicketsIssuedAt != nil {
		s.Logger.LogTicket("ISSUE", order.OrderNumber, fmt.Sprintf("already issued %d tickets", len(existing)))
		return existing, nil
	}

	var minted []models.Ticket
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		minted, err = s.mint(order)
		if err != nil {
			return nil, err
		}
		err = s.DB.InsertTickets(ctx, orderID, minted, s.now())
		if !errors.Is(err, ErrTicketCodeCollision) {
			break
		}
		s.Logger.Warn("TICKET", fmt.Sprintf("Ticket code collision for order %s on attempt %d", order.OrderNumber, attempt))
	}
	if errors.Is(err, ErrAlreadyIssued) {
		return s.DB.GetTicketsByOrder(ctx, orderID)
	}
	if err != nil {
		s.Logger.Error("TICKET", fmt.Sprintf("Failed to issue tickets for %s: %v", order.OrderNumber, err))
		return nil, err
	}

	codes := make([]string, 0, len(minted))
	for _, t := range minted {
		codes = append(codes, t.TicketCode)
	}
	s.Logger.LogTicket("ISSUE", order.OrderNumber, fmt.Sprintf("issued %d tickets", len(minted)))
	s.publish(ctx, s.Topics.TicketsIssued, order.OrderNumber,
		models.NewTicketEventDto(models.EventTicketsIssued, order.ID, codes, "", s.now()))
	return minted, nil
}

func (s *TicketService) mint(order *models.Order) ([]models.Ticket, error) {
	now := s.now()
	var list []models.Ticket
	for _, item := range order.Items {
		for i := 0; i < item.Quantity; i++ {
			code, err := s.newCode()
			if err != nil {
				return nil, err
			}
			list = append(list, models.Ticket{
				OrderItemID:   item.ID,
				TicketCode:    code,
				SignedPayload: s.Signer.Sign(order.ID, item.ID, code),
				Status:        models.TicketValid,
				IssuedAt:      now,
			})
		}
	}
	return list, nil
}

// lookup resolves scanned input to a ticket the actor may scan. A bad
// signature, an unknown code and another organizer's ticket all come back
// as a non-nil result with no details.
func (s *TicketService) lookup(ctx context.Context, actor models.ActingAs, scanned string) (*models.TicketDetails, string, error) {
	code, err := s.Signer.ParseScanned(scanned)
	switch {
	case errors.Is(err, signer.ErrInvalidSignature):
		s.Logger.LogSecurity("SCAN_SIGNATURE", fmt.Sprintf("user %q presented a forged ticket payload", actor.UserID))
		return nil, StatusInvalidSignature, nil
	case errors.Is(err, signer.ErrMalformed):
		return nil, StatusMalformed, nil
	case err != nil:
		return nil, "", err
	}

	details, err := s.DB.GetTicketByCode(ctx, code)
	if errors.Is(err, ErrTicketNotFound) {
		return nil, StatusNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}
	if !actor.IsAdmin() && details.OrganizerID != actor.UserID {
		s.Logger.LogSecurity("SCAN_TENANT", fmt.Sprintf("user %q scanned a ticket for event %d", actor.UserID, details.EventID))
		return nil, StatusNotFound, nil
	}
	return details, "", nil
}

func unresolvedMessage(status string) string {
	switch status {
	case StatusInvalidSignature:
		return "Ticket signature is invalid"
	case StatusMalformed:
		return "Scanned data is not a ticket"
	default:
		return "Ticket not found"
	}
}

// Validate reports whether the scanned ticket would be admitted, without
// changing it.
func (s *TicketService) Validate(ctx context.Context, actor models.ActingAs, scanned string) (*models.TicketValidationResult, error) {
	details, status, err := s.lookup(ctx, actor, scanned)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return &models.TicketValidationResult{Valid: false, Status: status, Message: unresolvedMessage(status)}, nil
	}

	ticketID, eventID := details.ID, details.EventID
	result := &models.TicketValidationResult{
		Status:   string(details.Status),
		TicketID: &ticketID,
		EventID:  &eventID,
	}
	switch details.Status {
	case models.TicketValid:
		result.Valid = true
		result.Message = "Ticket is valid"
	case models.TicketCheckedIn:
		result.Message = "Ticket already checked in"
	default:
		result.Message = fmt.Sprintf("Ticket is %s", details.Status)
	}
	s.Logger.LogTicket("VALIDATE", details.TicketCode, result.Message)
	return result, nil
}

// CheckIn admits a Valid ticket. A ticket that is already checked in is
// reported as success with its original check-in time.
func (s *TicketService) CheckIn(ctx context.Context, actor models.ActingAs, scanned string) (*models.TicketCheckInResult, error) {
	details, status, err := s.lookup(ctx, actor, scanned)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return &models.TicketCheckInResult{Success: false, Status: status, Message: unresolvedMessage(status)}, nil
	}

	ticketID := details.ID
	if details.Status == models.TicketValid {
		now := s.now()
		moved, err := s.DB.CheckInTicket(ctx, details.ID, now)
		if err != nil {
			return nil, err
		}
		if moved {
			s.Logger.LogTicket("CHECKIN", details.TicketCode, fmt.Sprintf("checked in by %s", actor.UserID))
			s.publish(ctx, s.Topics.TicketCheckedIn, details.OrderNumber,
				models.NewTicketEventDto(models.EventTicketCheckedIn, details.OrderID, []string{details.TicketCode}, actor.UserID, now))
			s.record(ctx, audit.NewEntry(actor.UserID, audit.ActionTicketCheckIn, audit.EntityTicket, details.TicketCode,
				map[string]interface{}{"ticketId": details.ID, "eventId": details.EventID}, now))
			return &models.TicketCheckInResult{
				Success:     true,
				Status:      string(models.TicketCheckedIn),
				TicketID:    &ticketID,
				CheckedInAt: &now,
				Message:     "Checked in",
			}, nil
		}
		// Lost a race with another scanner; report what won.
		details, err = s.DB.GetTicketByCode(ctx, details.TicketCode)
		if err != nil {
			return nil, err
		}
	}

	if details.Status == models.TicketCheckedIn {
		return &models.TicketCheckInResult{
			Success:     true,
			Status:      string(models.TicketCheckedIn),
			TicketID:    &ticketID,
			CheckedInAt: details.CheckedInAt,
			Message:     "Ticket already checked in",
		}, nil
	}
	return &models.TicketCheckInResult{
		Success:  false,
		Status:   string(details.Status),
		TicketID: &ticketID,
		Message:  fmt.Sprintf("Ticket is %s", details.Status),
	}, nil
}

// Void cancels a Valid ticket. Admin only.
func (s *TicketService) Void(ctx context.Context, actor models.ActingAs, code string) (*models.TicketDetails, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	details, err := s.DB.GetTicketByCode(ctx, signer.NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	switch details.Status {
	case models.TicketVoided:
		return details, nil
	case models.TicketCheckedIn:
		return nil, ErrTicketNotVoidable
	}

	moved, err := s.DB.VoidTicket(ctx, details.ID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrTicketNotVoidable
	}
	details.Status = models.TicketVoided

	s.Logger.LogTicket("VOID", details.TicketCode, fmt.Sprintf("voided by %s", actor.UserID))
	s.record(ctx, audit.NewEntry(actor.UserID, audit.ActionTicketVoid, audit.EntityTicket, details.TicketCode,
		map[string]interface{}{"ticketId": details.ID, "orderId": details.OrderID}, s.now()))
	return details, nil
}

func (s *TicketService) ListForUser(ctx context.Context, actor models.ActingAs) ([]models.TicketDetails, error) {
	if actor.UserID == "" {
		return nil, ErrForbidden
	}
	return s.DB.GetTicketsByUser(ctx, actor.UserID)
}

// QRCode renders the ticket's QR PNG for its owner.
func (s *TicketService) QRCode(ctx context.Context, actor models.ActingAs, code string) ([]byte, error) {
	details, err := s.DB.GetTicketByCode(ctx, signer.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if details.OwnerUserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrTicketNotFound
	}
	return s.QRGenerator.Generate(details.SignedPayload)
}

func (s *TicketService) publish(ctx context.Context, topic, key string, payload interface{}) {
	if s.Events == nil || topic == "" {
		return
	}
	if err := s.Events.Publish(ctx, topic, key, payload); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish to %s for %s: %v", topic, key, err))
	}
}

func (s *TicketService) record(ctx context.Context, entry models.AdminAuditLog) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Record(ctx, entry); err != nil {
		s.Logger.Error("AUDIT", fmt.Sprintf("Failed to record %s on %s: %v", entry.Action, entry.EntityID, err))
	}
}

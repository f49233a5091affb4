package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

const (
	ActionTicketCheckIn = "ticket.check_in"
	ActionTicketVoid    = "ticket.void"
	ActionDummyConfirm  = "payment.dummy_confirm"
	EntityTicket        = "ticket"
	EntityOrder         = "order"
)

// Sink appends admin actions. Entries are write-only.
type Sink interface {
	Record(ctx context.Context, entry models.AdminAuditLog) error
}

// NewEntry builds an entry with a fresh correlation id. details is stored as
// JSON; a value that cannot be encoded is stored as its %v form.
func NewEntry(actor, action, entityType, entityID string, details interface{}, now time.Time) models.AdminAuditLog {
	entry := models.AdminAuditLog{
		CorrelationID: uuid.NewString(),
		ActorUserID:   actor,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		CreatedAt:     now,
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		} else {
			entry.Details = fmt.Sprintf("%v", details)
		}
	}
	return entry
}

// DBSink writes entries straight to admin_audit_logs.
type DBSink struct {
	DB     bun.IDB
	Logger *logger.Logger
}

func NewDBSink(db bun.IDB, log *logger.Logger) *DBSink {
	return &DBSink{DB: db, Logger: log}
}

// Record inserts the entry. Replaying an entry already stored is a no-op.
func (s *DBSink) Record(ctx context.Context, entry models.AdminAuditLog) error {
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	_, err := s.DB.NewInsert().Model(&entry).Exec(ctx)
	if database.IsUniqueViolation(err) {
		s.Logger.Debug("AUDIT", fmt.Sprintf("Entry %s already recorded", entry.CorrelationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	s.Logger.Info("AUDIT", fmt.Sprintf("%s %s %s/%s", entry.ActorUserID, entry.Action, entry.EntityType, entry.EntityID))
	return nil
}

// HandleMessage stores one JSON-encoded entry read off the audit topic.
func (s *DBSink) HandleMessage(ctx context.Context, value []byte) error {
	var entry models.AdminAuditLog
	if err := json.Unmarshal(value, &entry); err != nil {
		// A poison message would block the partition forever; log and skip it.
		s.Logger.Error("AUDIT", fmt.Sprintf("Dropping undecodable audit message: %v", err))
		return nil
	}
	return s.Record(ctx, entry)
}

func (s *DBSink) List(ctx context.Context, entityType, entityID string) ([]models.AdminAuditLog, error) {
	var entries []models.AdminAuditLog
	err := s.DB.NewSelect().
		Model(&entries).
		Where("al.entity_type = ?", entityType).
		Where("al.entity_id = ?", entityID).
		Order("al.created_at ASC", "al.id ASC").
		Scan(ctx)
	return entries, err
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// KafkaSink streams entries to the audit topic; cmd/audit-consumer drains
// them into the table.
type KafkaSink struct {
	Publisher Publisher
	Topic     string
}

func NewKafkaSink(p Publisher, topic string) *KafkaSink {
	return &KafkaSink{Publisher: p, Topic: topic}
}

func (s *KafkaSink) Record(ctx context.Context, entry models.AdminAuditLog) error {
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	return s.Publisher.Publish(ctx, s.Topic, entry.CorrelationID, entry)
}

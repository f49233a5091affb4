package payment

import (
	"context"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

const ProviderNone = "none"

type Session struct {
	Provider         string `json:"provider"`
	SessionID        string `json:"sessionId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
	RequiresRedirect bool   `json:"requiresRedirect"`
	AlreadySettled   bool   `json:"alreadySettled,omitempty"`
}

// WebhookEvent is a verified provider callback. OrderID is zero for event
// types we acknowledge but do not act on.
type WebhookEvent struct {
	Type       string
	OrderID    int64
	Success    bool
	Settlement models.Settlement
}

// Gateway is one payment provider. Implementations must not leak SDK errors;
// they return the sentinels in this package, wrapped.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, order *models.Order) (*Session, error)
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// SessionResumer is implemented by gateways whose sessions stay payable for a
// while. ok is false when ref can no longer take a payment for the order as
// it stands now.
type SessionResumer interface {
	ResumeSession(ctx context.Context, order *models.Order, ref string) (session *Session, ok bool, err error)
}

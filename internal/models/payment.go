package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "Initiated"
	PaymentSucceeded PaymentStatus = "Succeeded"
	PaymentFailed    PaymentStatus = "Failed"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments,alias:p"`

	ID                     int64         `bun:"id,pk,autoincrement" json:"id"`
	OrderID                int64         `bun:"order_id,notnull,unique" json:"orderId"`
	Provider               string        `bun:"provider,notnull" json:"provider"`
	Status                 PaymentStatus `bun:"status,notnull" json:"status"`
	AmountMinor            int64         `bun:"amount_minor,notnull" json:"amountMinor"`
	Currency               string        `bun:"currency,notnull" json:"currency"`
	ProviderSessionRef     *string       `bun:"provider_session_ref" json:"providerSessionRef,omitempty"`
	ProviderTransactionRef *string       `bun:"provider_transaction_ref" json:"providerTransactionRef,omitempty"`
	PaidAt                 *time.Time    `bun:"paid_at" json:"paidAt,omitempty"`
	RawProviderPayload     *string       `bun:"raw_provider_payload" json:"-"`
	CreatedAt              time.Time     `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt              time.Time     `bun:"updated_at,notnull" json:"updatedAt"`
}

// Settlement is what a provider told us about an order's payment.
type Settlement struct {
	Provider       string
	SessionRef     string
	TransactionRef string
	RawPayload     []byte
}

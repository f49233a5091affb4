package tickets

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotPaid        = errors.New("order is not paid")
	ErrAlreadyIssued       = errors.New("tickets already issued for order")
	ErrTicketCodeCollision = errors.New("ticket code collision, retry issuance")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrTicketNotVoidable   = errors.New("ticket can no longer be voided")
	ErrForbidden           = errors.New("not allowed")
)

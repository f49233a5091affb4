package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

type QRGenerator struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewQRGenerator() *QRGenerator {
	return &QRGenerator{size: defaultSize, level: qrcode.Medium}
}

// Generate renders the ticket's signed payload as a PNG. The payload already
// carries its own HMAC, so the image holds it as-is.
func (q *QRGenerator) Generate(signedPayload string) ([]byte, error) {
	if signedPayload == "" {
		return nil, errors.New("empty QR payload")
	}
	return qrcode.Encode(signedPayload, q.level, q.size)
}

package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingSecret    = errors.New("ticket signing secret is empty")
	ErrInvalidSignature = errors.New("ticket signature does not match")
	ErrMalformed        = errors.New("scanned ticket data is malformed")
)

const separator = "|"

// Signer produces and checks "<orderId>:<orderItemId>:<ticketCode>|<sig>"
// payloads, where sig is base64url(HMAC-SHA256(secret, data)).
type Signer struct {
	secret []byte
}

func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

func Data(orderID, orderItemID int64, ticketCode string) string {
	return fmt.Sprintf("%d:%d:%s", orderID, orderItemID, ticketCode)
}

func (s *Signer) Sign(orderID, orderItemID int64, ticketCode string) string {
	data := Data(orderID, orderItemID, ticketCode)
	return data + separator + s.mac(data)
}

func (s *Signer) mac(data string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Verify checks a signed payload in constant time and returns the data part.
func (s *Signer) Verify(payload string) (string, error) {
	i := strings.LastIndex(payload, separator)
	if i <= 0 || i == len(payload)-1 {
		return "", ErrMalformed
	}
	data, sig := payload[:i], payload[i+1:]

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidSignature
	}
	want, _ := base64.RawURLEncoding.DecodeString(s.mac(data))
	if !hmac.Equal(got, want) {
		return "", ErrInvalidSignature
	}
	return data, nil
}

// NormalizeCode upper-cases a hand-typed ticket code. Generated codes are
// always upper-case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseScanned turns whatever a scanner read into a bare ticket code. Input
// with a signature suffix is verified before the code is trusted; anything
// else is taken as a typed code.
func (s *Signer) ParseScanned(scanned string) (string, error) {
	scanned = strings.TrimSpace(scanned)
	if scanned == "" {
		return "", ErrMalformed
	}
	if !strings.Contains(scanned, separator) {
		return NormalizeCode(scanned), nil
	}

	data, err := s.Verify(scanned)
	if err != nil {
		return "", err
	}
	code := data[strings.LastIndex(data, ":")+1:]
	if code == "" {
		return "", ErrMalformed
	}
	return code, nil
}

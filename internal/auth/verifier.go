package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier turns a bearer token into the caller's capabilities.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (models.ActingAs, error)
}

// Claims covers both a flat roles claim and Keycloak's realm_access.roles.
type Claims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

func (c *Claims) actingAs() (models.ActingAs, error) {
	if c.Subject == "" {
		return models.ActingAs{}, fmt.Errorf("%w: subject claim missing", ErrInvalidToken)
	}
	roles := make([]string, 0, len(c.Roles)+len(c.RealmAccess.Roles))
	seen := map[string]bool{}
	for _, r := range append(append([]string{}, c.Roles...), c.RealmAccess.Roles...) {
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	return models.ActingAs{UserID: c.Subject, Roles: roles}, nil
}

// NewVerifier picks the HS256 shared-secret verifier when a secret is set and
// the OIDC issuer otherwise.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	if cfg.JWTSecret != "" {
		return NewHMACVerifier(cfg.JWTSecret), nil
	}
	if cfg.OIDCIssuer == "" {
		return nil, errors.New("either OIDC_ISSUER or JWT_SECRET must be set")
	}
	return NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.ClientID)
}

type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{
			ClientID:          clientID,
			SkipClientIDCheck: clientID == "",
		}),
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (models.ActingAs, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return models.ActingAs{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return models.ActingAs{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.actingAs()
}

// HMACVerifier accepts HS256 tokens signed with a shared secret. Meant for
// local development and tests.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

func (v *HMACVerifier) Verify(ctx context.Context, rawToken string) (models.ActingAs, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return models.ActingAs{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.actingAs()
}

// SignHS256 mints a token the HMACVerifier accepts.
func SignHS256(secret string, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	purposeAccess = "access"
	purposeReset  = "password_reset"

	DefaultTTL = 24 * time.Hour
	ResetTTL   = 30 * time.Minute
)

// Claims are the token fields the service signs and returns on verify.
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Purpose string `json:"purpose"`
}

// Identity maps the claims back to the caller. Unknown role strings stay as given
// and authorize nothing.
func (c Claims) Identity() Identity {
	return Identity{ID: c.Subject, Email: c.Email, Name: c.Name, Role: Role(c.Role)}
}

// Expiry returns the expiry or the zero time.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenService issues and verifies HS256 tokens. Build one per process.
type TokenService struct {
	Secret string
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

func (s TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s TokenService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultTTL
}

// Issue signs an access token for the identity.
func (s TokenService) Issue(id Identity) (string, error) {
	return s.sign(id, purposeAccess, s.ttl())
}

// IssueReset signs a short-lived password reset token.
func (s TokenService) IssueReset(id Identity) (string, error) {
	return s.sign(Identity{ID: id.ID, Email: id.Email}, purposeReset, ResetTTL)
}

// Verify checks an access token.
func (s TokenService) Verify(token string) (Claims, error) {
	return s.verify(token, purposeAccess)
}

// VerifyReset checks a password reset token.
func (s TokenService) VerifyReset(token string) (Claims, error) {
	return s.verify(token, purposeReset)
}

func (s TokenService) sign(id Identity, purpose string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if id.ID == "" {
		return "", errors.New("token subject required")
	}
	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Email:   id.Email,
		Name:    id.Name,
		Role:    string(id.Role),
		Purpose: purpose,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s TokenService) verify(token, purpose string) (Claims, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Claims{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	parser := jwt.NewParser(opts...)
	claims := Claims{}
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.Purpose != purpose {
		return Claims{}, ErrTokenMalformed
	}
	return claims, nil
}

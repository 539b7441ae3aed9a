package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin marks tokens that may read any order.
const RoleAdmin = "admin"

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// subject checks.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the JWT payload issued by the auth service.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a Tokens using secret. ttl only affects Issue.
func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs an access token for id.
func (t *Tokens) Issue(id Identity) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}
	if id.Admin {
		claims.Role = RoleAdmin
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

// Parse verifies raw and returns the identity it carries.
func (t *Tokens) Parse(raw string) (Identity, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(raw, &claims, func(tk *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tkn.Valid {
		return Identity{}, errors.Wrap(ErrInvalidToken, "parse")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, "subject")
	}
	return Identity{UserID: userID, Admin: claims.Role == RoleAdmin}, nil
}

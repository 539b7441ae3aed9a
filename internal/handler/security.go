package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// TokenParser resolves a bearer token to a caller identity.
type TokenParser interface {
	Parse(raw string) (auth.Identity, error)
}

var _ TokenParser = (*auth.Tokens)(nil)

// Security authenticates requests by their bearer token.
type Security struct {
	tokens TokenParser
}

// NewSecurity creates a Security backed by tokens.
func NewSecurity(tokens TokenParser) *Security {
	return &Security{tokens: tokens}
}

// Require rejects requests without a valid bearer token with 401.
func (s *Security) Require(next http.Handler) http.Handler {
	return s.authenticate(next, true)
}

// Optional lets anonymous requests through and still rejects a token that
// does not verify.
func (s *Security) Optional(next http.Handler) http.Handler {
	return s.authenticate(next, false)
}

func (s *Security) authenticate(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			if required {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		id, err := s.tokens.Parse(raw)
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected bearer token", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			WriteError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.Stringer("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

/*
auth.go - Bearer token authentication

PURPOSE:
  Resolves the acting Profile from an HS256 JWT and stores it in the request
  context. Handlers read it with ProfileFrom and pass it to the ledger as an
  explicit argument.

ROLE CLAIM:
  "role", or the claim URI written by the existing .NET identity service:
    http://schemas.microsoft.com/ws/2008/06/identity/claims/role
  The value may be a string or an array of strings; the first known role wins.

RESPONSES:
  401 missing/malformed/invalid token
  403 valid token without a known role
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/warp/banking-ledger/ledger"
)

const dotNetRoleClaim = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"

type contextKey int

const profileKey contextKey = iota

// Authenticator validates bearer tokens.
type Authenticator struct {
	secret  []byte
	options []jwt.ParserOption
	log     *zap.Logger
}

// NewAuthenticator checks signatures with secret. Empty issuer or audience
// disables that check.
func NewAuthenticator(secret, issuer, audience string, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Authenticator{secret: []byte(secret), options: opts, log: log}
}

// Middleware rejects requests without a valid token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header", nil)
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
			return a.secret, nil
		}, a.options...)
		if err != nil || !token.Valid {
			a.log.Debug("token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		profile, ok := profileFromClaims(claims)
		if !ok {
			sub, _ := claims.GetSubject()
			a.log.Warn("token without known role", zap.String("sub", sub))
			writeJSON(w, http.StatusForbidden, ErrorResponse{
				Error: "Token carries no known role",
				Kind:  string(ledger.KindForbidden),
			})
			return
		}

		ctx := context.WithValue(r.Context(), profileKey, profile)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ProfileFrom returns the profile placed in ctx by the middleware.
func ProfileFrom(ctx context.Context) (ledger.Profile, bool) {
	p, ok := ctx.Value(profileKey).(ledger.Profile)
	return p, ok
}

func profileFromClaims(claims jwt.MapClaims) (ledger.Profile, bool) {
	for _, key := range []string{"role", dotNetRoleClaim} {
		switch v := claims[key].(type) {
		case string:
			if p, err := ledger.ParseProfile(v); err == nil {
				return p, true
			}
		case []any:
			for _, item := range v {
				s, _ := item.(string)
				if p, err := ledger.ParseProfile(s); err == nil {
					return p, true
				}
			}
		}
	}
	return "", false
}

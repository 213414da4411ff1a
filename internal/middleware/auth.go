package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
)

// AuthGate resolves the caller's identity before the trip pages run.
//
// With a secret configured it requires an HS256 bearer token issued by the
// external identity provider and takes the user ID from the sub claim.
// Without a secret the server runs in local mode and every request acts as
// domain.LocalIdentity.
type AuthGate struct {
	secret []byte
	issuer string
	log    *slog.Logger
}

// NewAuthGate builds the gate. An empty issuer skips the iss check.
func NewAuthGate(secret, issuer string, logger *slog.Logger) *AuthGate {
	return &AuthGate{secret: []byte(secret), issuer: issuer, log: logger}
}

// Handler is the middleware. Requests that fail authentication get 401
// and never reach next.
func (g *AuthGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(g.secret) == 0 {
			next.ServeHTTP(w, r.WithContext(domain.WithIdentity(r.Context(), domain.LocalIdentity)))
			return
		}

		id, err := g.authenticate(r)
		if err != nil {
			g.log.DebugContext(r.Context(), "request rejected by auth gate", "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="travel-planner"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "sign in to view your trips")
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithIdentity(r.Context(), id)))
	})
}

var errNoToken = errors.New("missing bearer token")

func (g *AuthGate) authenticate(r *http.Request) (domain.Identity, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return domain.Identity{}, errNoToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, opts...); err != nil {
		return domain.Identity{}, err
	}
	if claims.Subject == "" {
		return domain.Identity{}, errors.New("token has no subject")
	}
	return domain.Identity{UserID: claims.Subject}, nil
}

// bearerToken reads the Authorization header. EventSource cannot set
// headers, so GET requests may pass the token as access_token instead.
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if r.Method == http.MethodGet {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

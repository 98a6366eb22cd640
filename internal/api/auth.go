package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lalithlochan/taskbell/internal/db"
)

// Claims is the bearer token body. The subject is the user or client id.
type Claims struct {
	Kind string `json:"kind"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Kind db.RecipientKind
	Role string
}

func (p *Principal) Recipient() db.Recipient {
	return db.Recipient{Kind: p.Kind, ID: p.ID}
}

var errUnauthorized = errors.New("missing or invalid bearer token")

type principalKey struct{}

// PrincipalFrom returns the caller attached by the auth middleware. It is
// nil when auth is disabled.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Authenticator verifies HS256 tokens. A nil or secret-less authenticator
// disables auth, which is only meant for local development.
type Authenticator struct {
	secret     []byte
	privileged map[string]bool
}

func NewAuthenticator(secret string, privilegedRoles []string) *Authenticator {
	privileged := make(map[string]bool, len(privilegedRoles))
	for _, r := range privilegedRoles {
		privileged[strings.ToUpper(r)] = true
	}
	return &Authenticator{secret: []byte(secret), privileged: privileged}
}

func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// IssueToken signs a token for p, valid for ttl.
func (a *Authenticator) IssueToken(p Principal, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Kind: string(p.Kind),
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and returns its principal.
func (a *Authenticator) Parse(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	kind, err := db.ParseRecipientKind(claims.Kind)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &Principal{ID: claims.Subject, Kind: kind, Role: strings.ToUpper(claims.Role)}, nil
}

// Privileged reports whether p may act on any recipient.
func (a *Authenticator) Privileged(p *Principal) bool {
	if !a.Enabled() {
		return true
	}
	return p != nil && a.privileged[p.Role]
}

// CanAccess reports whether p may read or change r's notifications.
func (a *Authenticator) CanAccess(p *Principal, r db.Recipient) bool {
	if a.Privileged(p) {
		return true
	}
	return p != nil && p.Recipient() == r
}

// Middleware rejects requests without a valid token and attaches the
// principal. Browsers cannot set headers on EventSource or WebSocket
// requests, so a token query parameter is accepted too.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", errUnauthorized.Error())
			return
		}
		p, err := a.Parse(raw)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Package auth implements the authorization gate in front of the
// investigator API. Callers present an HS256 bearer token whose "role"
// claim decides which actions they may perform.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// Action names an operation guarded by the gate.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionStart  Action = "start"
	ActionToggle Action = "toggle"
	ActionDelete Action = "delete"
	ActionAudit  Action = "audit"
)

// Role is the coarse permission level carried in a token.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var grants = map[Role][]Action{
	RoleViewer:   {ActionRead},
	RoleOperator: {ActionRead, ActionCreate, ActionStart, ActionToggle},
	RoleAdmin:    {ActionRead, ActionCreate, ActionStart, ActionToggle, ActionDelete, ActionAudit},
}

// ErrUnauthorized is returned when a token is missing or invalid.
var ErrUnauthorized = eris.New("unauthorized")

// Caller identifies the principal behind a request.
type Caller struct {
	Subject string
	Role    Role
}

// Claims is the token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Gate authenticates tokens and answers IsAllowed. A gate built with an
// empty secret is open: every request is treated as an admin.
type Gate struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewGate creates a gate for the given HMAC secret and expected issuer.
func NewGate(secret, issuer string) *Gate {
	return &Gate{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Enabled reports whether tokens are checked.
func (g *Gate) Enabled() bool {
	return len(g.secret) > 0
}

// Authenticate validates a raw token and returns its caller.
func (g *Gate) Authenticate(raw string) (Caller, error) {
	if !g.Enabled() {
		return Caller{Subject: "anonymous", Role: RoleAdmin}, nil
	}
	if raw == "" {
		return Caller{}, eris.Wrap(ErrUnauthorized, "auth: missing token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return Caller{}, eris.Wrap(ErrUnauthorized, "auth: invalid token")
	}

	role := Role(claims.Role)
	if _, ok := grants[role]; !ok {
		return Caller{}, eris.Wrapf(ErrUnauthorized, "auth: unknown role %q", claims.Role)
	}
	return Caller{Subject: claims.Subject, Role: role}, nil
}

// IsAllowed reports whether caller may perform action.
func (g *Gate) IsAllowed(caller Caller, action Action) bool {
	if !g.Enabled() {
		return true
	}
	for _, a := range grants[caller.Role] {
		if a == action {
			return true
		}
	}
	return false
}

// Sign issues a token for subject with the given role and lifetime.
func (g *Gate) Sign(subject string, role Role, ttl time.Duration) (string, error) {
	if !g.Enabled() {
		return "", eris.New("auth: no secret configured")
	}
	if _, ok := grants[role]; !ok {
		return "", eris.Errorf("auth: unknown role %q", role)
	}
	now := g.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", eris.Wrap(err, "auth: sign")
	}
	return signed, nil
}

type callerKey struct{}

// WithCaller stores caller in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller set by Middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Middleware authenticates the bearer token and stores the caller on the
// request context. Browsers cannot set headers on WebSocket upgrades, so a
// "token" query parameter is accepted as well.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := g.Authenticate(bearerToken(r))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

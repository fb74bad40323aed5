package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/viraj-mahida/betting-contract/core/types"
)

// DefaultAdminScope guards operator methods when no scope is configured.
const DefaultAdminScope = "market:admin"

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	// AdminScope is required for operator methods such as account_mint.
	// NewServer substitutes DefaultAdminScope when it is empty.
	AdminScope string
	ClockSkew  time.Duration
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Identity types.Identity
	Scopes   []string
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil || scope == "" {
		return false
	}
	for _, granted := range p.Scopes {
		if granted == scope {
			return true
		}
	}
	return false
}

// Authenticator verifies HMAC-signed JWTs whose subject is the caller's
// base58 identity.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
}

// NewAuthenticator returns an authenticator for cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// Authenticate resolves the principal behind the request's bearer token.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if a == nil || len(a.secret) == 0 {
		return nil, errors.New("authentication not configured")
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errors.New("missing Authorization header")
	}
	tokenString := extractBearer(header)
	if tokenString == "" {
		return nil, errors.New("Authorization header must use Bearer scheme")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	identity, err := types.ParseIdentity(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	if identity.IsZero() {
		return nil, errors.New("invalid subject: empty identity")
	}
	return &Principal{Identity: identity, Scopes: splitScopes(claims.Scope)}, nil
}

// Claims are the JWT claims accepted by the server. Scope is a space
// separated list.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func splitScopes(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// TokenRequest describes a token minted by IssueToken.
type TokenRequest struct {
	Subject  types.Identity
	Scopes   []string
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      time.Time
}

// IssueToken signs an HS256 token for req with secret. It backs the CLI
// token command and tests.
func IssueToken(secret string, req TokenRequest) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("hmac secret required")
	}
	if req.Subject.IsZero() {
		return "", errors.New("subject identity required")
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		Scope: strings.Join(req.Scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject.String(),
			Issuer:    req.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Package auth verifies the platform's bearer tokens. The same verifier
// guards the REST routes and the WebSocket handshake.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/yoocall/internal/utils"
)

// Identity is the authenticated principal behind a request or connection.
type Identity struct {
	UserID string
	Role   string
}

type platformClaims struct {
	jwt.RegisteredClaims
	// The top-level "role" claim is the session kind ("authenticated" /
	// "anon") and is ignored; the platform role lives in app_metadata.
	AppMetadata map[string]any `json:"app_metadata"`
}

type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier checks HS256 tokens signed with secret. issuer and audience
// are only enforced when non-empty.
func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

func (v *Verifier) Verify(raw string) (*Identity, error) {
	const op = "Auth.Verify"

	if len(v.secret) == 0 {
		return nil, utils.E(utils.CodeInternal, op, "jwt secret is not set", nil)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, utils.E(utils.CodeUnauthorized, op, "missing bearer token", nil)
	}

	claims := &platformClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || tok == nil || !tok.Valid {
		return nil, utils.E(utils.CodeUnauthorized, op, "invalid token", err)
	}

	if claims.Subject == "" {
		return nil, utils.E(utils.CodeUnauthorized, op, "missing subject", nil)
	}

	role := "user"
	if r, ok := claims.AppMetadata["role"].(string); ok && r != "" {
		role = r
	}
	return &Identity{UserID: claims.Subject, Role: role}, nil
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token query parameter browsers use for WebSockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

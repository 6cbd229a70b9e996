package auth

import (
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
)

// bearerClaims is the minimal claim set the bearer-token provider
// verifies (spec §4.4: "signer secret, issuer, audience, lifetime
// policy"). Permissions ride as a custom claim alongside the registered
// ones.
type bearerClaims struct {
	jwt.Claims
	Permissions []string `json:"permissions"`
}

// tryBearerToken verifies the "Authorization: Bearer <token>" header
// against the configured HMAC signer secret, issuer, and audience.
func (g *Gate) tryBearerToken(headers map[string]string, sourceAddress string) (*Context, bool) {
	raw := headers["Authorization"]
	const prefix = "Bearer "
	if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
		return nil, false
	}
	tokenStr := raw[len(prefix):]

	token, err := jwt.ParseSigned(tokenStr)
	if err != nil {
		return nil, false
	}

	var claims bearerClaims
	if err := token.Claims([]byte(g.cfg.BearerSignerSecret), &claims); err != nil {
		return nil, false
	}

	expected := jwt.Expected{Time: time.Now()}
	if g.cfg.BearerIssuer != "" {
		expected.Issuer = g.cfg.BearerIssuer
	}
	if g.cfg.BearerAudience != "" {
		expected.Audience = jwt.Audience{g.cfg.BearerAudience}
	}
	if err := claims.Claims.Validate(expected); err != nil {
		return nil, false
	}

	perms := make([]Permission, 0, len(claims.Permissions))
	for _, p := range claims.Permissions {
		perms = append(perms, parsePermission(p))
	}

	return &Context{
		UserID:        claims.Subject,
		Permissions:   perms,
		RateLimitKey:  claims.Subject,
		SourceAddress: sourceAddress,
		Authenticated: true,
	}, true
}

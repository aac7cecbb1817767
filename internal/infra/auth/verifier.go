package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Verifier struct {
	cfg     *AuthConfig
	keyfunc jwt.Keyfunc
	opts    []jwt.ParserOption
}

// NewVerifier loads the JWKS when configured; the keyfunc refreshes it in
// the background until ctx is done.
func NewVerifier(ctx context.Context, cfg *AuthConfig) (*Verifier, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(10 * time.Second), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	switch {
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %v", err)
		}
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}))
		return &Verifier{cfg: cfg, keyfunc: jwks.Keyfunc, opts: opts}, nil
	case cfg.HMACSecret != "":
		secret := []byte(cfg.HMACSecret)
		opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		return &Verifier{cfg: cfg, keyfunc: func(*jwt.Token) (any, error) { return secret, nil }, opts: opts}, nil
	}
	return nil, errors.New("either AUTH_JWKS_URL or AUTH_HMAC_SECRET must be set")
}

func (v *Verifier) Verify(tokenString string) (entity.Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc, v.opts...)
	if err != nil {
		return entity.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return entity.Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	principal := entity.Principal{
		UserID:   sub,
		Username: stringClaim(claims, v.cfg.UsernameClaim),
	}
	if principal.Username == "" {
		principal.Username = stringClaim(claims, "email")
	}
	for _, r := range listClaim(lookup(claims, v.cfg.RolesClaim)) {
		principal.Roles = append(principal.Roles, consts.Role(strings.ToLower(r)))
	}
	return principal, nil
}

// lookup resolves dotted paths such as realm_access.roles.
func lookup(claims jwt.MapClaims, path string) any {
	var cur any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func stringClaim(claims jwt.MapClaims, path string) string {
	s, _ := lookup(claims, path).(string)
	return s
}

func listClaim(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	}
	return nil
}

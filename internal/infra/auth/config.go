package auth

import (
	"os"
	"strings"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/pkg/env"
)

type AuthConfig struct {
	// JWKSURL takes precedence over HMACSecret when both are set.
	JWKSURL         string
	HMACSecret      string
	Issuer          string
	Audience        string
	RolesClaim      string
	UsernameClaim   string
	PrivilegedRoles []consts.Role
}

func NewAuthConfig() *AuthConfig {
	var roles []consts.Role
	for _, r := range env.GetEnvList("AUTH_PRIVILEGED_ROLES", "admin,supervisor") {
		roles = append(roles, consts.Role(strings.ToLower(r)))
	}
	return &AuthConfig{
		JWKSURL:         os.Getenv("AUTH_JWKS_URL"),
		HMACSecret:      os.Getenv("AUTH_HMAC_SECRET"),
		Issuer:          os.Getenv("AUTH_ISSUER"),
		Audience:        os.Getenv("AUTH_AUDIENCE"),
		RolesClaim:      env.GetEnv("AUTH_ROLES_CLAIM", "roles"),
		UsernameClaim:   env.GetEnv("AUTH_USERNAME_CLAIM", "preferred_username"),
		PrivilegedRoles: roles,
	}
}

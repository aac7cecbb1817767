package credentials

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	hashCost            = 12
	adminPasswordLength = 16
	testPasswordLength  = 12
	maxUsernameLength   = 40
)

const (
	upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower   = "abcdefghijklmnopqrstuvwxyz"
	digits  = "0123456789"
	special = "!@#$%^&*"
)

type Issuer struct {
	users interfaces.UserRepo
	cost  int
	now   func() time.Time
}

func NewIssuer(users interfaces.UserRepo) *Issuer {
	return &Issuer{users: users, cost: hashCost, now: time.Now}
}

func (i *Issuer) IssueCredentials(ctx context.Context, req interfaces.CredentialRequest) (interfaces.Credentials, error) {
	adminPassword, err := GeneratePassword(adminPasswordLength)
	if err != nil {
		return interfaces.Credentials{}, err
	}
	testPassword, err := GeneratePassword(testPasswordLength)
	if err != nil {
		return interfaces.Credentials{}, err
	}
	adminHash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), i.cost)
	if err != nil {
		return interfaces.Credentials{}, fmt.Errorf("failed to hash admin password: %w", err)
	}
	testHash, err := bcrypt.GenerateFromPassword([]byte(testPassword), i.cost)
	if err != nil {
		return interfaces.Credentials{}, fmt.Errorf("failed to hash test password: %w", err)
	}

	creds := interfaces.Credentials{
		AdminUsername:          username("admin.", req.SiteSlug),
		AdminPasswordHash:      string(adminHash),
		AdminPasswordPlaintext: adminPassword,
		TestUsername:           username("test_", req.SiteSlug),
		TestUserEmail:          TestUserEmail(req.SiteSlug, req.AdminEmail),
		TestUserPasswordHash:   string(testHash),
		TestPasswordPlaintext:  testPassword,
	}

	now := i.now().UTC()
	err = i.users.InsertUsers(ctx, []entity.User{
		{
			ID:           uuid.New(),
			TenantID:     req.TenantID,
			Username:     creds.AdminUsername,
			Email:        req.AdminEmail,
			PasswordHash: creds.AdminPasswordHash,
			Role:         consts.RoleAdmin,
			CreatedAt:    now,
		},
		{
			ID:           uuid.New(),
			TenantID:     req.TenantID,
			Username:     creds.TestUsername,
			Email:        creds.TestUserEmail,
			PasswordHash: creds.TestUserPasswordHash,
			Role:         consts.RoleVolunteer,
			CreatedAt:    now,
		},
	})
	if err != nil {
		return interfaces.Credentials{}, fmt.Errorf("failed to create users for tenant %d: %w", req.TenantID, err)
	}

	slog.Info("credentials issued", "queueID", req.QueueID, "tenantID", req.TenantID, "admin", creds.AdminUsername)
	return creds, nil
}

// TestUserEmail lives at the admin's mail domain.
func TestUserEmail(slug, adminEmail string) string {
	domain := "localhost"
	if at := strings.LastIndex(adminEmail, "@"); at >= 0 && at < len(adminEmail)-1 {
		domain = adminEmail[at+1:]
	}
	return fmt.Sprintf("test_%s@%s", slug, domain)
}

func username(prefix, slug string) string {
	name := prefix + slug
	if len(name) > maxUsernameLength {
		name = strings.TrimRight(name[:maxUsernameLength], "-")
	}
	return name
}

// GeneratePassword returns a random password of length n with at least one
// character from every class.
func GeneratePassword(n int) (string, error) {
	classes := []string{upper, lower, digits, special}
	if n < len(classes) {
		return "", fmt.Errorf("password length %d is below %d", n, len(classes))
	}
	all := strings.Join(classes, "")

	out := make([]byte, 0, n)
	for _, class := range classes {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < n {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the class characters are not always in front
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to read random: %w", err)
	}
	return set[idx.Int64()], nil
}

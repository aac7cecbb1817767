package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGeneratePassword(t *testing.T) {
	for _, n := range []int{4, 12, 16, 32} {
		pw, err := GeneratePassword(n)
		require.NoError(t, err)
		require.Len(t, pw, n)
		require.True(t, strings.ContainsAny(pw, upper), pw)
		require.True(t, strings.ContainsAny(pw, lower), pw)
		require.True(t, strings.ContainsAny(pw, digits), pw)
		require.True(t, strings.ContainsAny(pw, special), pw)
	}

	_, err := GeneratePassword(3)
	require.Error(t, err)

	a, _ := GeneratePassword(16)
	b, _ := GeneratePassword(16)
	require.NotEqual(t, a, b)
}

func TestTestUserEmail(t *testing.T) {
	require.Equal(t, "test_saint-nicholas@stnicholas.org", TestUserEmail("saint-nicholas", "office@stnicholas.org"))
	require.Equal(t, "test_saint-nicholas@localhost", TestUserEmail("saint-nicholas", "broken"))
}

func TestUsernameIsTruncated(t *testing.T) {
	name := username("admin.", strings.Repeat("a", 30)+"-"+strings.Repeat("b", 30))
	require.LessOrEqual(t, len(name), maxUsernameLength)
	require.True(t, strings.HasPrefix(name, "admin.aaaa"))
}

func TestIssueCredentials(t *testing.T) {
	store := memstore.New()
	issuer := NewIssuer(store)
	// keep the test quick; production uses cost 12
	issuer.cost = bcrypt.MinCost

	creds, err := issuer.IssueCredentials(context.Background(), interfaces.CredentialRequest{
		QueueID:    uuid.New(),
		TenantID:   1,
		TenantName: "Saint Nicholas",
		AdminEmail: "office@stnicholas.org",
		SiteSlug:   "saint-nicholas",
	})
	require.NoError(t, err)
	require.Equal(t, "admin.saint-nicholas", creds.AdminUsername)
	require.Equal(t, "test_saint-nicholas", creds.TestUsername)
	require.Equal(t, "test_saint-nicholas@stnicholas.org", creds.TestUserEmail)
	require.Len(t, creds.AdminPasswordPlaintext, adminPasswordLength)
	require.Len(t, creds.TestPasswordPlaintext, testPasswordLength)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(creds.AdminPasswordHash), []byte(creds.AdminPasswordPlaintext)))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(creds.TestUserPasswordHash), []byte(creds.TestPasswordPlaintext)))

	users := store.Users()
	require.Len(t, users, 2)
	require.Equal(t, consts.RoleAdmin, users[0].Role)
	require.Equal(t, "office@stnicholas.org", users[0].Email)
	require.Equal(t, consts.RoleVolunteer, users[1].Role)
	require.Equal(t, int64(1), users[1].TenantID)
	for _, u := range users {
		require.NotContains(t, u.PasswordHash, creds.AdminPasswordPlaintext)
	}
}

func TestIssueCredentialsDuplicateUser(t *testing.T) {
	store := memstore.New()
	issuer := NewIssuer(store)
	issuer.cost = bcrypt.MinCost
	req := interfaces.CredentialRequest{
		QueueID:    uuid.New(),
		TenantID:   1,
		AdminEmail: "office@stnicholas.org",
		SiteSlug:   "saint-nicholas",
	}

	_, err := issuer.IssueCredentials(context.Background(), req)
	require.NoError(t, err)

	_, err = issuer.IssueCredentials(context.Background(), req)
	var conflict errs.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.False(t, errs.IsRetryable(err))
	require.Len(t, store.Users(), 2)
}

func TestIssueCredentialsSameAdminForTwoChurches(t *testing.T) {
	store := memstore.New()
	issuer := NewIssuer(store)
	issuer.cost = bcrypt.MinCost

	for i, slug := range []string{"saint-mark", "saint-luke"} {
		_, err := issuer.IssueCredentials(context.Background(), interfaces.CredentialRequest{
			QueueID:    uuid.New(),
			TenantID:   int64(i + 1),
			AdminEmail: "dean@diocese.org",
			SiteSlug:   slug,
		})
		require.NoError(t, err)
	}
	require.Len(t, store.Users(), 4)
}

func TestIssueCredentialsAgainForChurchResetsItsAdmin(t *testing.T) {
	store := memstore.New()
	issuer := NewIssuer(store)
	issuer.cost = bcrypt.MinCost
	req := interfaces.CredentialRequest{
		QueueID:    uuid.New(),
		TenantID:   1,
		AdminEmail: "office@stnicholas.org",
		SiteSlug:   "saint-nicholas",
	}
	_, err := issuer.IssueCredentials(context.Background(), req)
	require.NoError(t, err)

	// resubmitted after a cancel: new queue entry, new slug
	req.QueueID = uuid.New()
	req.SiteSlug = "saint-nicholas-1"
	creds, err := issuer.IssueCredentials(context.Background(), req)
	require.NoError(t, err)

	users := store.Users()
	require.Len(t, users, 3)
	require.Equal(t, "admin.saint-nicholas-1", users[0].Username)
	require.Equal(t, "office@stnicholas.org", users[0].Email)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(users[0].PasswordHash), []byte(creds.AdminPasswordPlaintext)))
}

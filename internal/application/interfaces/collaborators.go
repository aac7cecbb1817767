package interfaces

import (
	"context"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/google/uuid"
)

type SiteRequest struct {
	QueueID    uuid.UUID
	SiteSlug   string
	Language   consts.Language
	DomainName string
	Tenant     entity.TenantSnapshot
}

type SiteResult struct {
	SiteURL        string
	SitePath       string
	CertificateARN string
}

type SiteProvisioner interface {
	ProvisionSite(ctx context.Context, req SiteRequest) (SiteResult, error)
}

type SiteTestRequest struct {
	SiteURL  string
	Language consts.Language
}

type SiteTestResult struct {
	Passed  bool
	Metrics map[string]any
}

type SiteTester interface {
	TestSite(ctx context.Context, req SiteTestRequest) (SiteTestResult, error)
}

type CredentialRequest struct {
	QueueID    uuid.UUID
	TenantID   int64
	TenantName string
	AdminEmail string
	SiteSlug   string
}

// Credentials carries plaintext passwords for the notification step only.
type Credentials struct {
	AdminUsername          string
	AdminPasswordHash      string
	AdminPasswordPlaintext string
	TestUsername           string
	TestUserEmail          string
	TestUserPasswordHash   string
	TestPasswordPlaintext  string
}

type CredentialIssuer interface {
	IssueCredentials(ctx context.Context, req CredentialRequest) (Credentials, error)
}

type Notification struct {
	QueueID   uuid.UUID
	Template  consts.Template
	Recipient string
	Context   map[string]any
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RunCanceller stops an in-flight orchestrator run of this process.
type RunCanceller interface {
	CancelRun(queueID uuid.UUID) bool
}

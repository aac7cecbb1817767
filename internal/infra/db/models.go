package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Church struct {
	ID               int64      `db:"id"`
	Name             string     `db:"name"`
	Location         string     `db:"location"`
	ContactEmail     string     `db:"contact_email"`
	ProvisionStatus  *string    `db:"provision_status"`
	ProvisionQueueID *uuid.UUID `db:"provision_queue_id"`
	SiteSlug         *string    `db:"site_slug"`
	SiteURL          *string    `db:"site_url"`
	ProvisionedAt    *time.Time `db:"provisioned_at"`
}

type User struct {
	ID           uuid.UUID `db:"id"`
	TenantID     int64     `db:"tenant_id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

type QueueEntry struct {
	ID                   uuid.UUID       `db:"id"`
	TenantID             int64           `db:"tenant_id"`
	LanguagePreference   string          `db:"language_preference"`
	DomainName           string          `db:"domain_name"`
	AdminEmail           string          `db:"admin_email"`
	SiteSlug             string          `db:"site_slug"`
	Status               string          `db:"status"`
	Stage                string          `db:"stage"`
	ApprovedBy           *string         `db:"approved_by"`
	ApprovedAt           *time.Time      `db:"approved_at"`
	ApprovalNotes        *string         `db:"approval_notes"`
	ProvisionedAt        *time.Time      `db:"provisioned_at"`
	AdminPasswordHash    *string         `db:"admin_password_hash"`
	TestUserEmail        *string         `db:"test_user_email"`
	TestUserPasswordHash *string         `db:"test_user_password_hash"`
	Context              json.RawMessage `db:"context"`
	ErrorLog             json.RawMessage `db:"error_log"`
	LeaseOwner           *string         `db:"lease_owner"`
	LeaseExpiresAt       *time.Time      `db:"lease_expires_at"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

// QueueListRow is a queue entry joined with its church and approver.
type QueueListRow struct {
	QueueEntry
	ChurchName         string  `db:"church_name"`
	ChurchLocation     string  `db:"church_location"`
	ContactEmail       string  `db:"contact_email"`
	ApprovedByUsername *string `db:"approved_by_username"`
}

type StageLog struct {
	ID           uuid.UUID       `db:"id"`
	QueueID      uuid.UUID       `db:"queue_id"`
	Stage        string          `db:"stage"`
	Status       string          `db:"status"`
	StartedAt    *time.Time      `db:"started_at"`
	CompletedAt  *time.Time      `db:"completed_at"`
	DurationMs   *int64          `db:"duration_ms"`
	LogData      json.RawMessage `db:"log_data"`
	ErrorMessage *string         `db:"error_message"`
	Attempts     int             `db:"attempts"`
	CreatedAt    time.Time       `db:"created_at"`
}

type Outbox struct {
	ID             int64           `db:"id"`
	Event          string          `db:"event"`
	Status         int             `db:"status"`
	Payload        json.RawMessage `db:"payload"`
	Attempts       int             `db:"attempts"`
	LastError      *string         `db:"last_error"`
	LeaseExpiresAt *time.Time      `db:"lease_expires_at"`
	NextRunAt      time.Time       `db:"next_run_at"`
	CreatedAt      time.Time       `db:"created_at"`
}

package entity

import (
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/google/uuid"
)

// Tenant is the church record owned by the tenant registry.
type Tenant struct {
	ID               int64
	Name             string
	Location         string
	ContactEmail     string
	ProvisionStatus  consts.TenantProvisionStatus
	ProvisionQueueID *uuid.UUID
	SiteSlug         string
	SiteURL          string
	ProvisionedAt    *time.Time
}

func (t Tenant) Snapshot() TenantSnapshot {
	return TenantSnapshot{
		ID:           t.ID,
		Name:         t.Name,
		Location:     t.Location,
		ContactEmail: t.ContactEmail,
	}
}

type User struct {
	ID           uuid.UUID
	TenantID     int64
	Username     string
	Email        string
	PasswordHash string
	Role         consts.Role
	CreatedAt    time.Time
}

// Principal is the authenticated caller of the admin API.
type Principal struct {
	UserID   string
	Username string
	Roles    []consts.Role
}

func (p Principal) HasAnyRole(roles ...consts.Role) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (p Principal) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	return p.UserID
}

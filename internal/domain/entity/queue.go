package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[consts.QueueStatus][]consts.QueueStatus{
	consts.StatusPending:      {consts.StatusApproved, consts.StatusCancelled},
	consts.StatusApproved:     {consts.StatusProvisioning, consts.StatusCancelled},
	consts.StatusProvisioning: {consts.StatusProvisioned, consts.StatusFailed, consts.StatusCancelled},
}

func CanTransition(from, to consts.QueueStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type QueueEntry struct {
	ID                   uuid.UUID          `json:"id"`
	TenantID             int64              `json:"tenantId"`
	LanguagePreference   consts.Language    `json:"languagePreference"`
	DomainName           string             `json:"domainName,omitempty"`
	AdminEmail           string             `json:"adminEmail"`
	SiteSlug             string             `json:"siteSlug"`
	Status               consts.QueueStatus `json:"status"`
	Stage                consts.Stage       `json:"stage"`
	ApprovedBy           string             `json:"approvedBy,omitempty"`
	ApprovedAt           *time.Time         `json:"approvedAt,omitempty"`
	ApprovalNotes        string             `json:"approvalNotes,omitempty"`
	ProvisionedAt        *time.Time         `json:"provisionedAt,omitempty"`
	AdminPasswordHash    string             `json:"-"`
	TestUserEmail        string             `json:"testUserEmail,omitempty"`
	TestUserPasswordHash string             `json:"-"`
	Context              ProvisionContext   `json:"context"`
	ErrorLog             []ErrorEvent       `json:"errorLog"`
	LeaseOwner           string             `json:"-"`
	LeaseExpiresAt       *time.Time         `json:"-"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

func NewQueueEntry(tenant Tenant, language consts.Language, domainName, adminEmail string, request RequestContext) *QueueEntry {
	now := request.RequestedAt
	return &QueueEntry{
		ID:                 uuid.New(),
		TenantID:           tenant.ID,
		LanguagePreference: language,
		DomainName:         domainName,
		AdminEmail:         adminEmail,
		Status:             consts.StatusPending,
		Stage:              consts.StagePendingReview,
		Context:            ProvisionContext{Request: request},
		ErrorLog:           []ErrorEvent{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (e *QueueEntry) TransitionTo(status consts.QueueStatus) error {
	if !CanTransition(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, status)
	}
	e.Status = status
	return nil
}

type Approval struct {
	ApprovedBy   string
	ApproverName string
	Notes        string
	At           time.Time
}

func (e *QueueEntry) Approve(a Approval) error {
	if err := e.TransitionTo(consts.StatusApproved); err != nil {
		return err
	}
	at := a.At
	e.Stage = consts.StageApproval
	e.ApprovedBy = a.ApprovedBy
	e.ApprovedAt = &at
	e.ApprovalNotes = a.Notes
	e.Context.Approval = &ApprovalContext{
		ApprovedBy:   a.ApprovedBy,
		ApproverName: a.ApproverName,
		ApprovedAt:   at,
		Notes:        a.Notes,
	}
	e.UpdatedAt = at
	return nil
}

const DefaultCancelReason = "No reason provided"

type Cancellation struct {
	CancelledBy   string
	CancellerName string
	Reason        string
	At            time.Time
}

func (c Cancellation) Message() string {
	reason := c.Reason
	if reason == "" {
		reason = DefaultCancelReason
	}
	name := c.CancellerName
	if name == "" {
		name = c.CancelledBy
	}
	return fmt.Sprintf("Cancelled by %s: %s", name, reason)
}

func (e *QueueEntry) Cancel(c Cancellation) error {
	if err := e.TransitionTo(consts.StatusCancelled); err != nil {
		return err
	}
	e.ErrorLog = append(e.ErrorLog, ErrorEvent{
		At:      c.At,
		Stage:   e.Stage,
		Kind:    consts.ErrorKindCancelled,
		Message: c.Message(),
	})
	e.LeaseOwner = ""
	e.LeaseExpiresAt = nil
	e.UpdatedAt = c.At
	return nil
}

type ErrorEvent struct {
	At      time.Time        `json:"at"`
	Stage   consts.Stage     `json:"stage"`
	Kind    consts.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Lease identifies the orchestrator run that currently owns an entry.
type Lease struct {
	QueueID uuid.UUID
	Owner   string
	TTL     time.Duration
}

func (l Lease) ExpiresAt(now time.Time) time.Time {
	return now.Add(l.TTL)
}

type CredentialHashes struct {
	AdminPasswordHash    string
	TestUserEmail        string
	TestUserPasswordHash string
}

// EntryPatch carries stage outputs written together with a completed stage log.
type EntryPatch struct {
	Context     *ProvisionContext
	Credentials *CredentialHashes
	Errors      []ErrorEvent
}

type QueueFilter struct {
	Status   consts.QueueStatus
	Stage    consts.Stage
	Language consts.Language
	Limit    int
	Offset   int
}

type QueueListItem struct {
	QueueEntry
	ChurchName         string `json:"churchName"`
	ChurchLocation     string `json:"churchLocation"`
	ContactEmail       string `json:"contactEmail"`
	ApprovedByUsername string `json:"approvedByUsername,omitempty"`
}

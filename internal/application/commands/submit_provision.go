package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/slug"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/metrics"
)

var hostnameRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

const notifyTimeout = 10 * time.Second

type SubmitProvision struct {
	store    interfaces.QueueStore
	notifier interfaces.Notifier
}

func NewSubmitProvision(store interfaces.QueueStore, notifier interfaces.Notifier) *SubmitProvision {
	return &SubmitProvision{store: store, notifier: notifier}
}

func (c *SubmitProvision) Execute(ctx context.Context, principal entity.Principal, req dto.SubmitRequest) (*dto.SubmitResponse, error) {
	language, domainName, err := validateSubmit(req)
	if err != nil {
		return nil, err
	}

	tenant, err := c.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	adminEmail := strings.TrimSpace(req.AdminEmail)
	if adminEmail == "" {
		adminEmail = tenant.ContactEmail
	}
	if err = validateEmail(adminEmail); err != nil {
		return nil, err
	}

	now := time.Now()
	entry := entity.NewQueueEntry(*tenant, language, domainName, adminEmail, entity.RequestContext{
		RequestedBy: principal.UserID,
		RequestedAt: now,
		Tenant:      tenant.Snapshot(),
	})
	logs := entity.NewSubmissionLogs(entry.ID, principal.UserID, map[string]any{
		"tenantId":           req.TenantID,
		"languagePreference": language,
		"domainName":         domainName,
		"adminEmail":         adminEmail,
	}, now)

	if err = c.store.Submit(ctx, entry, slug.Normalize(tenant.Name), logs); err != nil {
		return nil, fmt.Errorf("error submitting provision request, %w", err)
	}
	metrics.RecordTransition(string(consts.StatusPending))
	slog.Info("provision request submitted", "queueID", entry.ID, "tenantID", tenant.ID, "slug", entry.SiteSlug)

	c.notifyPending(ctx, entry, tenant)

	return &dto.SubmitResponse{
		QueueID:  entry.ID,
		SiteSlug: entry.SiteSlug,
		Status:   entry.Status,
		Stage:    entry.Stage,
	}, nil
}

// notifyPending never fails the submission, the entry is already committed.
func (c *SubmitProvision) notifyPending(ctx context.Context, entry *entity.QueueEntry, tenant *entity.Tenant) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := c.notifier.Notify(notifyCtx, interfaces.Notification{
		QueueID:   entry.ID,
		Template:  consts.TemplateApprovalPending,
		Recipient: entry.AdminEmail,
		Context: map[string]any{
			"churchName": tenant.Name,
			"siteSlug":   entry.SiteSlug,
			"language":   string(entry.LanguagePreference),
			"queueId":    entry.ID.String(),
		},
	})
	if err != nil {
		notifyErr := errs.NotificationError{Template: consts.TemplateApprovalPending, Err: err}
		slog.Error("failed to send pending approval email", "queueID", entry.ID, "err", notifyErr)
	}
}

func validateSubmit(req dto.SubmitRequest) (consts.Language, string, error) {
	if req.TenantID <= 0 {
		return "", "", errs.Invalid("tenantId", "is required")
	}

	language := consts.Language(strings.ToLower(strings.TrimSpace(req.LanguagePreference)))
	if language == "" {
		language = consts.LanguageEnglish
	}
	if !language.Valid() {
		return "", "", errs.Invalid("languagePreference", "must be one of %v", consts.Languages)
	}

	domainName := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(req.DomainName)), ".")
	if domainName != "" && !hostnameRegexp.MatchString(domainName) {
		return "", "", errs.Invalid("domainName", "%q is not a valid hostname", req.DomainName)
	}
	return language, domainName, nil
}

func validateEmail(email string) error {
	if email == "" {
		return errs.Invalid("adminEmail", "is required when the church has no contact email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return errs.Invalid("adminEmail", "must be a valid email address")
	}
	return nil
}

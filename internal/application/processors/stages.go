package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
)

func (o *Orchestrator) execute(ctx context.Context, stage consts.Stage, state *runState) (stageOutcome, int, error) {
	switch stage {
	case consts.StageProvisionSite:
		return o.attempt(ctx, stage, func(ctx context.Context) (stageOutcome, error) {
			return o.provisionSite(ctx, state)
		})
	case consts.StageTestSite:
		return o.attempt(ctx, stage, func(ctx context.Context) (stageOutcome, error) {
			return o.testSite(ctx, state)
		})
	case consts.StageCreateCredentials:
		return o.attempt(ctx, stage, func(ctx context.Context) (stageOutcome, error) {
			return o.createCredentials(ctx, state)
		})
	case consts.StageNotifyChurch:
		return o.notifyChurch(ctx, state)
	}
	return stageOutcome{}, 0, fmt.Errorf("stage %s is not executable", stage)
}

func (o *Orchestrator) provisionSite(ctx context.Context, state *runState) (stageOutcome, error) {
	res, err := o.provisioner.ProvisionSite(ctx, interfaces.SiteRequest{
		QueueID:    state.entry.ID,
		SiteSlug:   state.entry.SiteSlug,
		Language:   state.entry.LanguagePreference,
		DomainName: state.entry.DomainName,
		Tenant:     state.context.Request.Tenant,
	})
	if err != nil {
		return stageOutcome{}, err
	}

	pc := state.context
	pc.Site = &entity.SiteContext{
		SiteURL:        res.SiteURL,
		SitePath:       res.SitePath,
		CertificateARN: res.CertificateARN,
		CreatedAt:      o.now(),
	}
	data := map[string]any{
		"siteUrl":  res.SiteURL,
		"sitePath": res.SitePath,
	}
	if res.CertificateARN != "" {
		data["certificateArn"] = res.CertificateARN
	}
	return stageOutcome{Context: pc, LogData: data}, nil
}

func (o *Orchestrator) testSite(ctx context.Context, state *runState) (stageOutcome, error) {
	if state.context.Site == nil {
		return stageOutcome{}, errors.New("no site url recorded by provision_site")
	}
	res, err := o.tester.TestSite(ctx, interfaces.SiteTestRequest{
		SiteURL:  state.context.Site.SiteURL,
		Language: state.entry.LanguagePreference,
	})
	if err != nil {
		return stageOutcome{}, err
	}

	data := map[string]any{
		"passed":  res.Passed,
		"metrics": res.Metrics,
	}
	score := res.Metrics["score"]
	if !res.Passed {
		return stageOutcome{LogData: data}, testFailedError{score: score}
	}

	pc := state.context
	pc.Test = &entity.TestContext{Passed: true, TestedAt: o.now()}
	if s, ok := score.(int); ok {
		pc.Test.Score = s
	}
	return stageOutcome{Context: pc, LogData: data}, nil
}

func (o *Orchestrator) createCredentials(ctx context.Context, state *runState) (stageOutcome, error) {
	creds, err := o.issuer.IssueCredentials(ctx, interfaces.CredentialRequest{
		QueueID:    state.entry.ID,
		TenantID:   state.entry.TenantID,
		TenantName: state.context.Request.Tenant.Name,
		AdminEmail: state.entry.AdminEmail,
		SiteSlug:   state.entry.SiteSlug,
	})
	if err != nil {
		return stageOutcome{}, err
	}

	pc := state.context
	pc.Credentials = &entity.CredentialsContext{
		AdminUsername: creds.AdminUsername,
		TestUsername:  creds.TestUsername,
		TestUserEmail: creds.TestUserEmail,
		IssuedAt:      o.now(),
	}
	return stageOutcome{
		Context: pc,
		Credentials: &entity.CredentialHashes{
			AdminPasswordHash:    creds.AdminPasswordHash,
			TestUserEmail:        creds.TestUserEmail,
			TestUserPasswordHash: creds.TestUserPasswordHash,
		},
		Secrets: &creds,
		LogData: map[string]any{
			"adminUsername": creds.AdminUsername,
			"testUsername":  creds.TestUsername,
			"testUserEmail": creds.TestUserEmail,
		},
	}, nil
}

// notifyChurch is best effort: a delivery failure is recorded on the stage
// and in the error log but the stage still completes. Only a cancelled run
// is reported as an error.
func (o *Orchestrator) notifyChurch(ctx context.Context, state *runState) (stageOutcome, int, error) {
	notification := interfaces.Notification{
		QueueID:   state.entry.ID,
		Template:  consts.TemplateProvisionCompleted,
		Recipient: state.entry.AdminEmail,
		Context:   o.completedMailContext(state),
	}
	_, attempts, err := o.attempt(ctx, consts.StageNotifyChurch, func(ctx context.Context) (stageOutcome, error) {
		return stageOutcome{}, o.notifier.Notify(ctx, notification)
	})
	if err != nil && context.Cause(ctx) != nil {
		return stageOutcome{}, attempts, err
	}

	now := o.now()
	pc := state.context
	pc.Notification = &entity.NotificationContext{Delivered: err == nil, At: now}
	outcome := stageOutcome{
		Context: pc,
		LogData: map[string]any{
			"delivered":           err == nil,
			"template":            notification.Template,
			"recipient":           notification.Recipient,
			"credentialsIncluded": state.secrets != nil,
		},
	}
	if err != nil {
		notifyErr := errs.NotificationError{Template: notification.Template, Err: err}
		slog.Error("failed to notify church", "queueID", state.entry.ID, "err", notifyErr)
		pc.Notification.Error = err.Error()
		outcome.LogData["error"] = err.Error()
		outcome.Errors = []entity.ErrorEvent{{
			At:      now,
			Stage:   consts.StageNotifyChurch,
			Kind:    consts.ErrorKindNotification,
			Message: notifyErr.Error(),
		}}
	}
	return outcome, attempts, nil
}

func (o *Orchestrator) completedMailContext(state *runState) map[string]any {
	data := map[string]any{
		"churchName": state.context.Request.Tenant.Name,
		"language":   string(state.entry.LanguagePreference),
		"adminEmail": state.entry.AdminEmail,
		"siteSlug":   state.entry.SiteSlug,
	}
	if state.context.Site != nil {
		data["siteUrl"] = state.context.Site.SiteURL
	}
	if c := state.context.Credentials; c != nil {
		data["adminUsername"] = c.AdminUsername
		data["testUsername"] = c.TestUsername
		data["testUserEmail"] = c.TestUserEmail
	}
	// a resumed run no longer has the plaintext passwords
	if s := state.secrets; s != nil {
		data["adminPassword"] = s.AdminPasswordPlaintext
		data["testPassword"] = s.TestPasswordPlaintext
	}
	return data
}

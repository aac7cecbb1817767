package db

import (
	"encoding/json"
	"fmt"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
)

func MapChurchToTenant(c Church) *entity.Tenant {
	return &entity.Tenant{
		ID:               c.ID,
		Name:             c.Name,
		Location:         c.Location,
		ContactEmail:     c.ContactEmail,
		ProvisionStatus:  consts.TenantProvisionStatus(deref(c.ProvisionStatus)),
		ProvisionQueueID: c.ProvisionQueueID,
		SiteSlug:         deref(c.SiteSlug),
		SiteURL:          deref(c.SiteURL),
		ProvisionedAt:    c.ProvisionedAt,
	}
}

func MapUserToModel(u entity.User) User {
	return User{
		ID:           u.ID,
		TenantID:     u.TenantID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func MarshalContext(pc entity.ProvisionContext) (json.RawMessage, error) {
	raw, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("err marshalling context, %w", err)
	}
	return raw, nil
}

func MapQueueEntryToModel(e *entity.QueueEntry) (QueueEntry, error) {
	pc, err := MarshalContext(e.Context)
	if err != nil {
		return QueueEntry{}, err
	}
	errorLog, err := MapErrorEvents(e.ErrorLog)
	if err != nil {
		return QueueEntry{}, err
	}
	return QueueEntry{
		ID:                   e.ID,
		TenantID:             e.TenantID,
		LanguagePreference:   string(e.LanguagePreference),
		DomainName:           e.DomainName,
		AdminEmail:           e.AdminEmail,
		SiteSlug:             e.SiteSlug,
		Status:               string(e.Status),
		Stage:                string(e.Stage),
		ApprovedBy:           ref(e.ApprovedBy),
		ApprovedAt:           e.ApprovedAt,
		ApprovalNotes:        ref(e.ApprovalNotes),
		ProvisionedAt:        e.ProvisionedAt,
		AdminPasswordHash:    ref(e.AdminPasswordHash),
		TestUserEmail:        ref(e.TestUserEmail),
		TestUserPasswordHash: ref(e.TestUserPasswordHash),
		Context:              pc,
		ErrorLog:             errorLog,
		LeaseOwner:           ref(e.LeaseOwner),
		LeaseExpiresAt:       e.LeaseExpiresAt,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}, nil
}

func MapModelToQueueEntry(m QueueEntry) (*entity.QueueEntry, error) {
	e := &entity.QueueEntry{
		ID:                   m.ID,
		TenantID:             m.TenantID,
		LanguagePreference:   consts.Language(m.LanguagePreference),
		DomainName:           m.DomainName,
		AdminEmail:           m.AdminEmail,
		SiteSlug:             m.SiteSlug,
		Status:               consts.QueueStatus(m.Status),
		Stage:                consts.Stage(m.Stage),
		ApprovedBy:           deref(m.ApprovedBy),
		ApprovedAt:           m.ApprovedAt,
		ApprovalNotes:        deref(m.ApprovalNotes),
		ProvisionedAt:        m.ProvisionedAt,
		AdminPasswordHash:    deref(m.AdminPasswordHash),
		TestUserEmail:        deref(m.TestUserEmail),
		TestUserPasswordHash: deref(m.TestUserPasswordHash),
		LeaseOwner:           deref(m.LeaseOwner),
		LeaseExpiresAt:       m.LeaseExpiresAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		ErrorLog:             []entity.ErrorEvent{},
	}
	if len(m.Context) > 0 {
		if err := json.Unmarshal(m.Context, &e.Context); err != nil {
			return nil, fmt.Errorf("err unmarshalling context of %s, %w", m.ID, err)
		}
	}
	if len(m.ErrorLog) > 0 {
		if err := json.Unmarshal(m.ErrorLog, &e.ErrorLog); err != nil {
			return nil, fmt.Errorf("err unmarshalling error log of %s, %w", m.ID, err)
		}
	}
	return e, nil
}

func MapErrorEvents(events []entity.ErrorEvent) (json.RawMessage, error) {
	if events == nil {
		events = []entity.ErrorEvent{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("err marshalling error log, %w", err)
	}
	return raw, nil
}

func MapStageLogToModel(l entity.StageLog) (StageLog, error) {
	data := l.LogData
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return StageLog{}, fmt.Errorf("err marshalling log data of %s, %w", l.Stage, err)
	}
	return StageLog{
		ID:           l.ID,
		QueueID:      l.QueueID,
		Stage:        string(l.Stage),
		Status:       string(l.Status),
		StartedAt:    l.StartedAt,
		CompletedAt:  l.CompletedAt,
		DurationMs:   l.DurationMs,
		LogData:      raw,
		ErrorMessage: ref(l.ErrorMessage),
		Attempts:     l.Attempts,
		CreatedAt:    l.CreatedAt,
	}, nil
}

func MapModelToStageLog(m StageLog) (entity.StageLog, error) {
	l := entity.StageLog{
		ID:           m.ID,
		QueueID:      m.QueueID,
		Stage:        consts.Stage(m.Stage),
		Status:       consts.StageStatus(m.Status),
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		DurationMs:   m.DurationMs,
		ErrorMessage: deref(m.ErrorMessage),
		Attempts:     m.Attempts,
		CreatedAt:    m.CreatedAt,
	}
	if len(m.LogData) > 0 {
		if err := json.Unmarshal(m.LogData, &l.LogData); err != nil {
			return entity.StageLog{}, fmt.Errorf("err unmarshalling log data of %s, %w", m.ID, err)
		}
	}
	return l, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

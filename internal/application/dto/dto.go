package dto

import (
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/google/uuid"
)

type SubmitRequest struct {
	TenantID           int64  `json:"tenantId"`
	LanguagePreference string `json:"languagePreference"`
	DomainName         string `json:"domainName"`
	AdminEmail         string `json:"adminEmail"`
}

type SubmitResponse struct {
	QueueID  uuid.UUID          `json:"queueId"`
	SiteSlug string             `json:"siteSlug"`
	Status   consts.QueueStatus `json:"status"`
	Stage    consts.Stage       `json:"stage"`
}

type ApproveRequest struct {
	ApprovalNotes string `json:"approvalNotes"`
}

type ApproveResponse struct {
	QueueID uuid.UUID          `json:"queueId"`
	Status  consts.QueueStatus `json:"status"`
	Stage   consts.Stage       `json:"stage"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CancelResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	QueueID uuid.UUID          `json:"queueId"`
	Status  consts.QueueStatus `json:"status"`
}

// ListQueueParams holds raw query parameters; "all" or empty means no filter.
type ListQueueParams struct {
	Status   string `query:"status"`
	Stage    string `query:"stage"`
	Language string `query:"language"`
	Limit    string `query:"limit"`
	Offset   string `query:"offset"`
}

type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

type ListQueueResponse struct {
	Data       []entity.QueueListItem `json:"data"`
	Pagination Pagination             `json:"pagination"`
}

type StatusResponse struct {
	Queue  entity.QueueEntry `json:"queue"`
	Stages []entity.StageLog `json:"stages"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

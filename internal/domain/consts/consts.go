package consts

type QueueStatus string

const (
	StatusPending      QueueStatus = "pending"
	StatusApproved     QueueStatus = "approved"
	StatusProvisioning QueueStatus = "provisioning"
	StatusProvisioned  QueueStatus = "provisioned"
	StatusFailed       QueueStatus = "failed"
	StatusCancelled    QueueStatus = "cancelled"
)

var QueueStatuses = []QueueStatus{
	StatusPending, StatusApproved, StatusProvisioning, StatusProvisioned, StatusFailed, StatusCancelled,
}

var ActiveStatuses = []QueueStatus{StatusPending, StatusApproved, StatusProvisioning}

func (s QueueStatus) IsTerminal() bool {
	return s == StatusProvisioned || s == StatusFailed || s == StatusCancelled
}

func (s QueueStatus) IsActive() bool {
	return s == StatusPending || s == StatusApproved || s == StatusProvisioning
}

func (s QueueStatus) Valid() bool {
	for _, status := range QueueStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type Stage string

const (
	StageSubmission        Stage = "submission"
	StagePendingReview     Stage = "pending_review"
	StageApproval          Stage = "approval"
	StageProvisionSite     Stage = "provision_site"
	StageTestSite          Stage = "test_site"
	StageCreateCredentials Stage = "create_credentials"
	StageNotifyChurch      Stage = "notify_church"
	StageCompleted         Stage = "completed"
)

// Stages is the fixed execution order.
var Stages = []Stage{
	StageSubmission, StagePendingReview, StageApproval, StageProvisionSite,
	StageTestSite, StageCreateCredentials, StageNotifyChurch, StageCompleted,
}

// PipelineStages are driven by the orchestrator after approval.
var PipelineStages = []Stage{StageProvisionSite, StageTestSite, StageCreateCredentials, StageNotifyChurch}

func (s Stage) Index() int {
	for i, stage := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool {
	return s.Index() >= 0
}

type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
)

type ErrorKind string

const (
	ErrorKindCollaborator ErrorKind = "collaborator"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindCancelled    ErrorKind = "cancelled"
	ErrorKindAbandoned    ErrorKind = "abandoned"
	ErrorKindTestFailed   ErrorKind = "test_failed"
	ErrorKindNotification ErrorKind = "notification"
	ErrorKindLeaseLost    ErrorKind = "lease_lost"
)

type Language string

const (
	LanguageEnglish  Language = "en"
	LanguageGreek    Language = "gr"
	LanguageRussian  Language = "ru"
	LanguageRomanian Language = "ro"
)

var Languages = []Language{LanguageEnglish, LanguageGreek, LanguageRussian, LanguageRomanian}

func (l Language) Valid() bool {
	for _, lang := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// TenantProvisionStatus is mirrored onto the tenant registry record.
type TenantProvisionStatus string

const (
	TenantProvisionPending     TenantProvisionStatus = "pending"
	TenantProvisionProvisioned TenantProvisionStatus = "provisioned"
	TenantProvisionFailed      TenantProvisionStatus = "failed"
	TenantProvisionManual      TenantProvisionStatus = "manual"
)

type Template string

const (
	TemplateApprovalPending    Template = "approval_pending"
	TemplateProvisionCompleted Template = "provision_completed"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleVolunteer  Role = "volunteer"
)

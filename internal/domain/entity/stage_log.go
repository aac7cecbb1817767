package entity

import (
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/google/uuid"
)

type StageLog struct {
	ID           uuid.UUID          `json:"id"`
	QueueID      uuid.UUID          `json:"queueId"`
	Stage        consts.Stage       `json:"stage"`
	Status       consts.StageStatus `json:"status"`
	StartedAt    *time.Time         `json:"startedAt,omitempty"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	DurationMs   *int64             `json:"durationMs,omitempty"`
	LogData      map[string]any     `json:"logData,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	Attempts     int                `json:"attempts"`
	CreatedAt    time.Time          `json:"createdAt"`
}

func NewStageLog(queueID uuid.UUID, stage consts.Stage, status consts.StageStatus, now time.Time) StageLog {
	started := now
	return StageLog{
		ID:        uuid.New(),
		QueueID:   queueID,
		Stage:     stage,
		Status:    status,
		StartedAt: &started,
		CreatedAt: now,
	}
}

func (l *StageLog) close(status consts.StageStatus, at time.Time, data map[string]any) {
	completed := at
	l.Status = status
	l.CompletedAt = &completed
	if l.StartedAt != nil {
		duration := at.Sub(*l.StartedAt).Milliseconds()
		l.DurationMs = &duration
	}
	if data != nil {
		l.LogData = data
	}
}

func (l *StageLog) Complete(at time.Time, data map[string]any) {
	l.close(consts.StageStatusCompleted, at, data)
}

func (l *StageLog) Fail(at time.Time, message string, data map[string]any) {
	l.close(consts.StageStatusFailed, at, data)
	l.ErrorMessage = message
}

func (l StageLog) IsOpen() bool {
	return l.Status == consts.StageStatusPending || l.Status == consts.StageStatusInProgress
}

// NewSubmissionLogs returns the completed submission log and the open
// pending_review log written when an entry is created.
func NewSubmissionLogs(queueID uuid.UUID, submittedBy string, request map[string]any, now time.Time) []StageLog {
	submission := NewStageLog(queueID, consts.StageSubmission, consts.StageStatusInProgress, now)
	submission.Complete(now, map[string]any{
		"submittedBy": submittedBy,
		"request":     request,
	})
	review := NewStageLog(queueID, consts.StagePendingReview, consts.StageStatusPending, now)
	return []StageLog{submission, review}
}

func approvalData(a Approval) map[string]any {
	return map[string]any{
		"approvedBy":    a.ApprovedBy,
		"approverName":  a.ApproverName,
		"approvalNotes": a.Notes,
	}
}

// CloseReview completes the pending_review log on approval.
func (l *StageLog) CloseReview(a Approval) {
	l.Complete(a.At, approvalData(a))
}

func NewApprovalLog(queueID uuid.UUID, a Approval) StageLog {
	log := NewStageLog(queueID, consts.StageApproval, consts.StageStatusInProgress, a.At)
	log.Complete(a.At, approvalData(a))
	return log
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/events"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/metrics"
	"github.com/google/uuid"
)

type ApproveProvision struct {
	store      interfaces.QueueStore
	privileged []consts.Role
}

func NewApproveProvision(store interfaces.QueueStore, privileged []consts.Role) *ApproveProvision {
	return &ApproveProvision{store: store, privileged: privileged}
}

// Execute approves a pending entry and enqueues its pipeline run. It returns
// as soon as the approval is committed.
func (c *ApproveProvision) Execute(ctx context.Context, principal entity.Principal, queueID uuid.UUID, req dto.ApproveRequest) (*dto.ApproveResponse, error) {
	if !principal.HasAnyRole(c.privileged...) {
		return nil, errs.PermissionsError{Err: errors.New("approving provision requests requires a privileged role")}
	}

	now := time.Now()
	approval := entity.Approval{
		ApprovedBy:   principal.UserID,
		ApproverName: principal.DisplayName(),
		Notes:        req.ApprovalNotes,
		At:           now,
	}
	event := events.ProvisionApproved{
		QueueID:    queueID,
		ApprovedBy: principal.UserID,
		CreatedAt:  now,
	}

	entry, err := c.store.Approve(ctx, queueID, approval, event)
	if err != nil {
		return nil, fmt.Errorf("error approving %s, %w", queueID, err)
	}
	metrics.RecordTransition(string(consts.StatusApproved))
	slog.Info("provision request approved", "queueID", queueID, "approvedBy", principal.UserID)

	return &dto.ApproveResponse{
		QueueID: entry.ID,
		Status:  entry.Status,
		Stage:   entry.Stage,
	}, nil
}

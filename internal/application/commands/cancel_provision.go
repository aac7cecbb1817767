package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/metrics"
	"github.com/google/uuid"
)

type CancelProvision struct {
	store      interfaces.QueueStore
	runs       interfaces.RunCanceller
	privileged []consts.Role
}

func NewCancelProvision(store interfaces.QueueStore, runs interfaces.RunCanceller, privileged []consts.Role) *CancelProvision {
	return &CancelProvision{store: store, runs: runs, privileged: privileged}
}

func (c *CancelProvision) Execute(ctx context.Context, principal entity.Principal, queueID uuid.UUID, req dto.CancelRequest) (*dto.CancelResponse, error) {
	if !principal.HasAnyRole(c.privileged...) {
		return nil, errs.PermissionsError{Err: errors.New("cancelling provision requests requires a privileged role")}
	}

	cancellation := entity.Cancellation{
		CancelledBy:   principal.UserID,
		CancellerName: principal.DisplayName(),
		Reason:        strings.TrimSpace(req.Reason),
		At:            time.Now(),
	}
	entry, err := c.store.Cancel(ctx, queueID, cancellation)
	if err != nil {
		return nil, fmt.Errorf("error cancelling %s, %w", queueID, err)
	}
	metrics.RecordTransition(string(consts.StatusCancelled))

	// runs in other processes notice the status between stages
	interrupted := c.runs.CancelRun(queueID)
	slog.Info("provision request cancelled", "queueID", queueID, "cancelledBy", principal.UserID, "interruptedRun", interrupted)

	return &dto.CancelResponse{
		Success: true,
		Message: "Provisioning cancelled successfully",
		QueueID: entry.ID,
		Status:  entry.Status,
	}, nil
}

package application

import (
	"context"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/commands"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/events"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/query"
)

// Handlers serve the admin API.
type Handlers struct {
	SubmitProvision  *commands.SubmitProvision
	ApproveProvision *commands.ApproveProvision
	CancelProvision  *commands.CancelProvision
	ListQueue        *query.ListQueue
	GetStatus        *query.GetStatus
}

type ProvisionApprovedHandler interface {
	Handle(ctx context.Context, event events.ProvisionApproved) error
}

// Processors consume outbox events.
type Processors struct {
	ProvisionApproved ProvisionApprovedHandler
}

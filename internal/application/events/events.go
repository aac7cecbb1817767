package events

import (
	"time"

	"github.com/google/uuid"
)

// ProvisionApproved asks a worker to drive the pipeline of an approved entry.
type ProvisionApproved struct {
	QueueID    uuid.UUID
	ApprovedBy string
	CreatedAt  time.Time
}

func (e ProvisionApproved) GetType() string {
	return "ProvisionApproved"
}

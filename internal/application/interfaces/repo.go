package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	shared "github.com/Builder-Lawyers/church-provisioner/pkg/interfaces"
	"github.com/google/uuid"
)

// QueueStore persists queue entries, their stage logs and the tenant
// back-reference. Every method is atomic.
type QueueStore interface {
	GetTenant(ctx context.Context, tenantID int64) (*entity.Tenant, error)
	// Submit allocates a unique slug from slugBase, inserts the entry with
	// its initial stage logs and points the tenant record at it.
	Submit(ctx context.Context, entry *entity.QueueEntry, slugBase string, logs []entity.StageLog) error
	// Approve moves a pending entry to approved and enqueues event in the same transaction.
	Approve(ctx context.Context, queueID uuid.UUID, approval entity.Approval, event shared.Event) (*entity.QueueEntry, error)
	Cancel(ctx context.Context, queueID uuid.UUID, cancellation entity.Cancellation) (*entity.QueueEntry, error)
	GetEntry(ctx context.Context, queueID uuid.UUID) (*entity.QueueEntry, error)
	ListEntries(ctx context.Context, filter entity.QueueFilter) ([]entity.QueueListItem, int, error)
	ListStageLogs(ctx context.Context, queueID uuid.UUID) ([]entity.StageLog, error)
}

// RunStore holds the writes of an orchestrator run. Entry writes are
// conditional on the lease and return errs.ErrLeaseLost when it no longer holds.
type RunStore interface {
	// Claim moves approved to provisioning, or takes over a provisioning
	// entry whose lease expired. claimed is false when the entry is not runnable.
	Claim(ctx context.Context, lease entity.Lease) (entry *entity.QueueEntry, claimed bool, err error)
	StartStage(ctx context.Context, lease entity.Lease, log entity.StageLog) error
	// ExtendLease renews the lease of a running entry.
	ExtendLease(ctx context.Context, lease entity.Lease) error
	CompleteStage(ctx context.Context, lease entity.Lease, log entity.StageLog, patch entity.EntryPatch) error
	// FailStage closes log (if any) as failed and fails the entry.
	FailStage(ctx context.Context, lease entity.Lease, log *entity.StageLog, event entity.ErrorEvent) error
	// CloseStage closes an open log without touching the entry.
	CloseStage(ctx context.Context, log entity.StageLog) error
	CompleteRun(ctx context.Context, lease entity.Lease, log entity.StageLog) error
}

type OutboxMessage struct {
	ID        int64
	Event     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// Outbox is the durable task queue feeding the worker pool. Delivery is at
// least once: a claimed message whose lease expires is handed out again.
type Outbox interface {
	ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]OutboxMessage, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, lastErr string, nextRunAt time.Time) error
	MarkFailed(ctx context.Context, id int64, lastErr string) error
}

type UserRepo interface {
	InsertUsers(ctx context.Context, users []entity.User) error
}

type ProvisionStore interface {
	QueueStore
	RunStore
}

package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	shared "github.com/Builder-Lawyers/church-provisioner/pkg/interfaces"
	"github.com/jackc/pgx/v5"
)

type EventRepo struct {
	tx pgx.Tx
}

func NewEventRepo(tx pgx.Tx) *EventRepo {
	return &EventRepo{tx: tx}
}

func (e *EventRepo) InsertEvent(ctx context.Context, event shared.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("err marshalling event payload, %v", err)
	}
	now := time.Now()
	outbox := db.Outbox{
		Event:     event.GetType(),
		Status:    int(consts.NotProcessed),
		Payload:   json.RawMessage(payload),
		NextRunAt: now,
		CreatedAt: now,
	}
	_, err = e.tx.Exec(ctx, "INSERT INTO provisioning.outbox (event, status, payload, next_run_at, created_at) VALUES ($1,$2,$3,$4,$5)",
		outbox.Event, outbox.Status, outbox.Payload, outbox.NextRunAt, outbox.CreatedAt)
	if err != nil {
		return fmt.Errorf("err inserting a new event, %v", err)
	}

	return nil
}

// ClaimReady locks up to limit due events, skipping rows held by other
// pollers, and leases them until leaseUntil.
func (e *EventRepo) ClaimReady(ctx context.Context, limit int, now, leaseUntil time.Time) ([]db.Outbox, error) {
	rows, err := e.tx.Query(ctx, `SELECT id FROM provisioning.outbox
		WHERE (status = $1 AND next_run_at <= $3) OR (status = $2 AND lease_expires_at <= $3)
		ORDER BY next_run_at, id
		LIMIT $4
		FOR NO KEY UPDATE SKIP LOCKED`, consts.NotProcessed, consts.Processing, now, limit)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	rows, err = e.tx.Query(ctx, `UPDATE provisioning.outbox SET status = $1, attempts = attempts + 1, lease_expires_at = $2
		WHERE id = ANY($3)
		RETURNING id, event, status, payload, attempts, last_error, lease_expires_at, next_run_at, created_at`,
		consts.Processing, leaseUntil, ids)
	if err != nil {
		return nil, fmt.Errorf("err setting events status to processing, %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.Outbox, error) {
		var m db.Outbox
		err := row.Scan(&m.ID, &m.Event, &m.Status, &m.Payload, &m.Attempts, &m.LastError, &m.LeaseExpiresAt,
			&m.NextRunAt, &m.CreatedAt)
		return m, err
	})
}

// SetStatus records the outcome of a delivery. A non-nil nextRunAt
// schedules another attempt.
func (e *EventRepo) SetStatus(ctx context.Context, id int64, status consts.OutboxStatus, lastErr *string, nextRunAt *time.Time) (bool, error) {
	tag, err := e.tx.Exec(ctx, `UPDATE provisioning.outbox SET status = $2, last_error = COALESCE($3, last_error),
			next_run_at = COALESCE($4, next_run_at), lease_expires_at = NULL
		WHERE id = $1`, id, status, lastErr, nextRunAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

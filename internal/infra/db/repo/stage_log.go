package repo

import (
	"context"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type StageLogRepo struct {
	tx pgx.Tx
}

func NewStageLogRepo(tx pgx.Tx) *StageLogRepo {
	return &StageLogRepo{tx: tx}
}

func (r *StageLogRepo) Insert(ctx context.Context, m db.StageLog) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO provisioning.provision_stage_logs (id, queue_id, stage, status, started_at,
			completed_at, duration_ms, log_data, error_message, attempts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.QueueID, m.Stage, m.Status, m.StartedAt, m.CompletedAt, m.DurationMs, m.LogData, m.ErrorMessage,
		m.Attempts, m.CreatedAt)
	return err
}

// Close writes the final state of a log that is still open. It reports
// false when the log was already closed.
func (r *StageLogRepo) Close(ctx context.Context, m db.StageLog) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE provisioning.provision_stage_logs SET status = $2, completed_at = $3, duration_ms = $4,
			log_data = $5, error_message = $6, attempts = $7
		WHERE id = $1 AND status IN ('pending', 'in_progress')`,
		m.ID, m.Status, m.CompletedAt, m.DurationMs, m.LogData, m.ErrorMessage, m.Attempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailOpen closes every open log of queueID as failed with message.
func (r *StageLogRepo) FailOpen(ctx context.Context, queueID uuid.UUID, message string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE provisioning.provision_stage_logs SET status = 'failed', completed_at = $3,
			duration_ms = CASE WHEN started_at IS NULL THEN NULL ELSE (EXTRACT(EPOCH FROM ($3 - started_at)) * 1000)::bigint END,
			error_message = $2
		WHERE queue_id = $1 AND status IN ('pending', 'in_progress')`, queueID, message, at)
	return err
}

func (r *StageLogRepo) ListByQueue(ctx context.Context, queueID uuid.UUID) ([]db.StageLog, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, queue_id, stage, status, started_at, completed_at, duration_ms, log_data,
			error_message, attempts, created_at
		FROM provisioning.provision_stage_logs WHERE queue_id = $1 ORDER BY created_at, seq`, queueID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.StageLog, error) {
		var m db.StageLog
		err := row.Scan(&m.ID, &m.QueueID, &m.Stage, &m.Status, &m.StartedAt, &m.CompletedAt, &m.DurationMs,
			&m.LogData, &m.ErrorMessage, &m.Attempts, &m.CreatedAt)
		return m, err
	})
}

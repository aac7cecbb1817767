package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const queueColumns = `q.id, q.tenant_id, q.language_preference, q.domain_name, q.admin_email, q.site_slug, q.status, q.stage,
	q.approved_by, q.approved_at, q.approval_notes, q.provisioned_at, q.admin_password_hash, q.test_user_email,
	q.test_user_password_hash, q.context, q.error_log, q.lease_owner, q.lease_expires_at, q.created_at, q.updated_at`

func queueTargets(m *db.QueueEntry) []any {
	return []any{&m.ID, &m.TenantID, &m.LanguagePreference, &m.DomainName, &m.AdminEmail, &m.SiteSlug, &m.Status, &m.Stage,
		&m.ApprovedBy, &m.ApprovedAt, &m.ApprovalNotes, &m.ProvisionedAt, &m.AdminPasswordHash, &m.TestUserEmail,
		&m.TestUserPasswordHash, &m.Context, &m.ErrorLog, &m.LeaseOwner, &m.LeaseExpiresAt, &m.CreatedAt, &m.UpdatedAt}
}

type QueueRepo struct {
	tx pgx.Tx
}

func NewQueueRepo(tx pgx.Tx) *QueueRepo {
	return &QueueRepo{tx: tx}
}

func (r *QueueRepo) Insert(ctx context.Context, m db.QueueEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO provisioning.provision_queue (id, tenant_id, language_preference, domain_name, admin_email,
			site_slug, status, stage, context, error_log, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.TenantID, m.LanguagePreference, m.DomainName, m.AdminEmail, m.SiteSlug, m.Status, m.Stage,
		m.Context, m.ErrorLog, m.CreatedAt, m.UpdatedAt)
	return err
}

// Get loads an entry; lock takes a row lock until the transaction ends.
func (r *QueueRepo) Get(ctx context.Context, id uuid.UUID, lock bool) (db.QueueEntry, error) {
	query := "SELECT " + queueColumns + " FROM provisioning.provision_queue q WHERE q.id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	var m db.QueueEntry
	err := r.tx.QueryRow(ctx, query, id).Scan(queueTargets(&m)...)
	return m, err
}

// Update writes the review fields of an entry loaded with Get(lock).
func (r *QueueRepo) Update(ctx context.Context, m db.QueueEntry) error {
	_, err := r.tx.Exec(ctx, `UPDATE provisioning.provision_queue SET status = $2, stage = $3, approved_by = $4, approved_at = $5,
			approval_notes = $6, context = $7, error_log = $8, lease_owner = $9, lease_expires_at = $10, updated_at = $11
		WHERE id = $1`,
		m.ID, m.Status, m.Stage, m.ApprovedBy, m.ApprovedAt, m.ApprovalNotes, m.Context, m.ErrorLog,
		m.LeaseOwner, m.LeaseExpiresAt, m.UpdatedAt)
	return err
}

// TakenSlugs returns base and every base-N slug already allocated.
func (r *QueueRepo) TakenSlugs(ctx context.Context, base, likePattern string) ([]string, error) {
	rows, err := r.tx.Query(ctx, `SELECT site_slug FROM provisioning.provision_queue
		WHERE site_slug = $1 OR site_slug LIKE $2`, base, likePattern)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Claim moves an approved entry, or a provisioning entry with an expired
// lease, to provisioning under owner. ok is false when no row qualified.
func (r *QueueRepo) Claim(ctx context.Context, id uuid.UUID, owner string, expires, now time.Time) (db.QueueEntry, bool, error) {
	var m db.QueueEntry
	err := r.tx.QueryRow(ctx, `UPDATE provisioning.provision_queue q
		SET status = 'provisioning', lease_owner = $2, lease_expires_at = $3, updated_at = $4
		WHERE q.id = $1 AND (q.status = 'approved'
			OR (q.status = 'provisioning' AND (q.lease_expires_at IS NULL OR q.lease_expires_at <= $4)))
		RETURNING `+queueColumns, id, owner, expires, now).Scan(queueTargets(&m)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, false, nil
	}
	return m, err == nil, err
}

const leased = "id = $1 AND status = 'provisioning' AND lease_owner = $2"

// StartStage points the entry at stage and extends the lease.
func (r *QueueRepo) StartStage(ctx context.Context, lease entity.Lease, stage consts.Stage, now time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE provisioning.provision_queue SET stage = $3, lease_expires_at = $4, updated_at = $5
		WHERE `+leased, lease.QueueID, lease.Owner, string(stage), lease.ExpiresAt(now), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExtendLease pushes the lease expiry forward while the owner still holds it.
func (r *QueueRepo) ExtendLease(ctx context.Context, lease entity.Lease, now time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE provisioning.provision_queue SET lease_expires_at = $3, updated_at = $4
		WHERE `+leased, lease.QueueID, lease.Owner, lease.ExpiresAt(now), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyPatch stores a completed stage's output. Nil hash arguments keep the stored value.
func (r *QueueRepo) ApplyPatch(ctx context.Context, lease entity.Lease, pc []byte, creds *entity.CredentialHashes, errorEvents []byte, now time.Time) (bool, error) {
	var adminHash, testEmail, testHash *string
	if creds != nil {
		adminHash, testEmail, testHash = &creds.AdminPasswordHash, &creds.TestUserEmail, &creds.TestUserPasswordHash
	}
	tag, err := r.tx.Exec(ctx, `UPDATE provisioning.provision_queue SET
			context = COALESCE($3::jsonb, context),
			admin_password_hash = COALESCE($4, admin_password_hash),
			test_user_email = COALESCE($5, test_user_email),
			test_user_password_hash = COALESCE($6, test_user_password_hash),
			error_log = error_log || $7::jsonb,
			updated_at = $8
		WHERE `+leased, lease.QueueID, lease.Owner, pc, adminHash, testEmail, testHash, errorEvents, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Fail marks the entry failed, appends event and releases the lease.
func (r *QueueRepo) Fail(ctx context.Context, lease entity.Lease, errorEvents []byte, now time.Time) (int64, bool, error) {
	var tenantID int64
	err := r.tx.QueryRow(ctx, `UPDATE provisioning.provision_queue SET status = 'failed', error_log = error_log || $3::jsonb,
			lease_owner = NULL, lease_expires_at = NULL, updated_at = $4
		WHERE `+leased+` RETURNING tenant_id`, lease.QueueID, lease.Owner, errorEvents, now).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return tenantID, err == nil, err
}

// Complete marks the entry provisioned and releases the lease.
func (r *QueueRepo) Complete(ctx context.Context, lease entity.Lease, at time.Time) (db.QueueEntry, bool, error) {
	var m db.QueueEntry
	err := r.tx.QueryRow(ctx, `UPDATE provisioning.provision_queue q SET status = 'provisioned', stage = 'completed',
			provisioned_at = $3, lease_owner = NULL, lease_expires_at = NULL, updated_at = $3
		WHERE q.id = $1 AND q.status = 'provisioning' AND q.lease_owner = $2
		RETURNING `+queueColumns,
		lease.QueueID, lease.Owner, at).Scan(queueTargets(&m)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, false, nil
	}
	return m, err == nil, err
}

// List returns one page of entries, newest first, and the number of matches.
func (r *QueueRepo) List(ctx context.Context, f entity.QueueFilter) ([]db.QueueListRow, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("q.status = $%d", string(f.Status))
	}
	if f.Stage != "" {
		add("q.stage = $%d", string(f.Stage))
	}
	if f.Language != "" {
		add("q.language_preference = $%d", string(f.Language))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.tx.QueryRow(ctx, "SELECT count(*) FROM provisioning.provision_queue q"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("err counting queue entries, %w", err)
	}

	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s, c.name, c.location, c.contact_email, u.username
		FROM provisioning.provision_queue q
		JOIN provisioning.churches c ON c.id = q.tenant_id
		LEFT JOIN provisioning.users u ON u.id::text = q.approved_by
		%s ORDER BY q.created_at DESC, q.id LIMIT $%d OFFSET $%d`, queueColumns, clause, len(args)-1, len(args))

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("err listing queue entries, %w", err)
	}
	defer rows.Close()

	var result []db.QueueListRow
	for rows.Next() {
		var row db.QueueListRow
		targets := append(queueTargets(&row.QueueEntry), &row.ChurchName, &row.ChurchLocation, &row.ContactEmail, &row.ApprovedByUsername)
		if err = rows.Scan(targets...); err != nil {
			return nil, 0, err
		}
		result = append(result, row)
	}
	return result, total, rows.Err()
}

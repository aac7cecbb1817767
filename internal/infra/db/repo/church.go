package repo

import (
	"context"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ChurchRepo struct {
	tx pgx.Tx
}

func NewChurchRepo(tx pgx.Tx) *ChurchRepo {
	return &ChurchRepo{tx: tx}
}

// Get loads a church; lock serialises concurrent submissions for it.
func (r *ChurchRepo) Get(ctx context.Context, id int64, lock bool) (db.Church, error) {
	query := `SELECT id, name, location, contact_email, provision_status, provision_queue_id, site_slug, site_url, provisioned_at
		FROM provisioning.churches WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}
	var c db.Church
	err := r.tx.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Location, &c.ContactEmail, &c.ProvisionStatus,
		&c.ProvisionQueueID, &c.SiteSlug, &c.SiteURL, &c.ProvisionedAt)
	return c, err
}

func (r *ChurchRepo) MarkPending(ctx context.Context, id int64, queueID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, "UPDATE provisioning.churches SET provision_status = $2, provision_queue_id = $3 WHERE id = $1",
		id, string(consts.TenantProvisionPending), queueID)
	return err
}

// MarkFailed only touches a church still pointing at queueID.
func (r *ChurchRepo) MarkFailed(ctx context.Context, id int64, queueID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE provisioning.churches SET provision_status = $3
		WHERE id = $1 AND provision_queue_id = $2`, id, queueID, string(consts.TenantProvisionFailed))
	return err
}

// MarkManual detaches a cancelled request from its church.
func (r *ChurchRepo) MarkManual(ctx context.Context, id int64, queueID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE provisioning.churches SET provision_status = $3, provision_queue_id = NULL
		WHERE id = $1 AND provision_queue_id = $2`, id, queueID, string(consts.TenantProvisionManual))
	return err
}

func (r *ChurchRepo) MarkProvisioned(ctx context.Context, id int64, slug, siteURL string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE provisioning.churches SET provision_status = $2, site_slug = $3, site_url = $4,
			provisioned_at = $5 WHERE id = $1`,
		id, string(consts.TenantProvisionProvisioned), slug, siteURL, at)
	return err
}

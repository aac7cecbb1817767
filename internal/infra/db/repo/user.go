package repo

import (
	"context"
	"fmt"

	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	"github.com/jackc/pgx/v5"
)

type UserRepo struct {
	tx pgx.Tx
}

func NewUserRepo(tx pgx.Tx) *UserRepo {
	return &UserRepo{tx: tx}
}

// InsertUsers adds users to their tenants. A user whose email the tenant
// already has takes over that row with the new username, password and role.
func (r *UserRepo) InsertUsers(ctx context.Context, users []db.User) error {
	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(`INSERT INTO provisioning.users (id, tenant_id, username, email, password_hash, role, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT ON CONSTRAINT users_tenant_email_key DO UPDATE
			SET username = EXCLUDED.username, password_hash = EXCLUDED.password_hash, role = EXCLUDED.role`,
			u.ID, u.TenantID, u.Username, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	}
	results := r.tx.SendBatch(ctx, batch)
	for _, u := range users {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("err inserting user %s, %w", u.Username, err)
		}
	}
	return results.Close()
}

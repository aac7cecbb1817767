package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every embedded migration not yet recorded in
// public.schema_migrations, each in its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS public.schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("err creating schema_migrations, %w", err)
	}

	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		if err = apply(ctx, pool, name); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, name string) (err error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	// serialises concurrent migrators
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(7263011)"); err != nil {
		return err
	}
	var applied bool
	err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM public.schema_migrations WHERE version = $1)", name).Scan(&applied)
	if err != nil || applied {
		return err
	}

	sql, err := migrations.ReadFile(name)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("err applying %s, %w", name, err)
	}
	if _, err = tx.Exec(ctx, "INSERT INTO public.schema_migrations (version) VALUES ($1)", name); err != nil {
		return err
	}
	slog.Info("applied migration", "version", name)
	return nil
}

package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Builder-Lawyers/church-provisioner/pkg/interfaces"
)

var _ interfaces.UoW = (*UOW)(nil)

type UOW struct {
	pool *pgxpool.Pool
	ctx  context.Context
	tx   pgx.Tx
}

func (u *UOW) Begin(ctx context.Context) (pgx.Tx, error) {
	if u.tx != nil {
		return nil, fmt.Errorf("transaction is already started")
	}
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("can't begin tx, %w", err)
	}
	u.ctx = context.WithoutCancel(ctx)
	u.tx = tx
	return tx, nil
}

func (u *UOW) GetTx() pgx.Tx {
	return u.tx
}

func (u *UOW) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction is not started yet")
	}
	return u.tx.Commit(u.ctx)
}

func (u *UOW) Rollback() error {
	if u.tx == nil {
		return fmt.Errorf("transaction is not started yet")
	}
	err := u.tx.Rollback(u.ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Finalize commits when *err is nil and rolls back otherwise.
// A failed commit is reported through err.
func (u *UOW) Finalize(err *error) {
	if *err != nil {
		if rbErr := u.Rollback(); rbErr != nil {
			slog.Error("error rolling back tx", "err", rbErr)
		}
		return
	}
	if cmErr := u.Commit(); cmErr != nil {
		*err = fmt.Errorf("error committing tx, %w", cmErr)
	}
}

type UOWFactory struct {
	Pool *pgxpool.Pool
}

func (u *UOWFactory) GetUoW() *UOW {
	return &UOW{
		pool: u.Pool,
	}
}

func NewUoWFactory(pool *pgxpool.Pool) *UOWFactory {
	return &UOWFactory{
		Pool: pool,
	}
}

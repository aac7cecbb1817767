package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	dbs "github.com/Builder-Lawyers/church-provisioner/pkg/db"
	"github.com/jackc/pgx/v5"
)

type OutboxStore struct {
	uowFactory *dbs.UOWFactory
	now        func() time.Time
}

var _ interfaces.Outbox = (*OutboxStore)(nil)

func NewOutboxStore(uowFactory *dbs.UOWFactory) *OutboxStore {
	return &OutboxStore{uowFactory: uowFactory, now: time.Now}
}

func (o *OutboxStore) ClaimEvents(ctx context.Context, limit int, lease time.Duration) (msgs []interfaces.OutboxMessage, err error) {
	uow := o.uowFactory.GetUoW()
	tx, err := uow.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Finalize(&err)

	now := o.now()
	claimed, err := NewEventRepo(tx).ClaimReady(ctx, limit, now, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("err claiming events, %w", err)
	}
	msgs = make([]interfaces.OutboxMessage, 0, len(claimed))
	for _, m := range claimed {
		msgs = append(msgs, interfaces.OutboxMessage{
			ID:        m.ID,
			Event:     m.Event,
			Payload:   m.Payload,
			Attempts:  m.Attempts,
			CreatedAt: m.CreatedAt,
		})
	}
	return msgs, nil
}

func (o *OutboxStore) setStatus(ctx context.Context, id int64, status consts.OutboxStatus, lastErr *string, nextRunAt *time.Time) (err error) {
	uow := o.uowFactory.GetUoW()
	var tx pgx.Tx
	if tx, err = uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Finalize(&err)

	ok, err := NewEventRepo(tx).SetStatus(ctx, id, status, lastErr, nextRunAt)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("outbox event %d does not exist", id)
	}
	return nil
}

func (o *OutboxStore) MarkProcessed(ctx context.Context, id int64) error {
	return o.setStatus(ctx, id, consts.Processed, nil, nil)
}

func (o *OutboxStore) MarkRetry(ctx context.Context, id int64, lastErr string, nextRunAt time.Time) error {
	return o.setStatus(ctx, id, consts.NotProcessed, &lastErr, &nextRunAt)
}

func (o *OutboxStore) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	return o.setStatus(ctx, id, consts.InError, &lastErr, nil)
}

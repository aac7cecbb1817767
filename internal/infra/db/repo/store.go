package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/slug"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/db"
	dbs "github.com/Builder-Lawyers/church-provisioner/pkg/db"
	shared "github.com/Builder-Lawyers/church-provisioner/pkg/interfaces"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation      = "23505"
	siteSlugConstraint   = "provision_queue_site_slug_key"
	activeTenantIndex    = "provision_queue_active_tenant_idx"
	inProgressStageIndex = "provision_stage_logs_in_progress_idx"
	usernameConstraint   = "users_username_key"
	userEmailConstraint  = "users_tenant_email_key"
)

// Store implements the queue, run and user persistence on Postgres. Every
// method runs in its own unit of work.
type Store struct {
	uowFactory *dbs.UOWFactory
	now        func() time.Time
}

var (
	_ interfaces.QueueStore = (*Store)(nil)
	_ interfaces.RunStore   = (*Store)(nil)
	_ interfaces.UserRepo   = (*Store)(nil)
)

func NewStore(uowFactory *dbs.UOWFactory) *Store {
	return &Store{uowFactory: uowFactory, now: time.Now}
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	uow := s.uowFactory.GetUoW()
	tx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Finalize(&err)

	return fn(tx)
}

func constraintOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

func entryNotFound(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFoundError{Resource: "queue entry", ID: id.String()}
	}
	return err
}

func (s *Store) GetTenant(ctx context.Context, tenantID int64) (tenant *entity.Tenant, err error) {
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		c, err := NewChurchRepo(tx).Get(ctx, tenantID, false)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFoundError{Resource: "church", ID: strconv.FormatInt(tenantID, 10)}
		}
		if err != nil {
			return err
		}
		tenant = db.MapChurchToTenant(c)
		return nil
	})
	return tenant, err
}

func (s *Store) Submit(ctx context.Context, entry *entity.QueueEntry, slugBase string, logs []entity.StageLog) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		churches := NewChurchRepo(tx)
		if _, err := churches.Get(ctx, entry.TenantID, true); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.NotFoundError{Resource: "church", ID: strconv.FormatInt(entry.TenantID, 10)}
			}
			return err
		}

		if err := s.insertWithSlug(ctx, tx, entry, slugBase); err != nil {
			return err
		}

		stageLogs := NewStageLogRepo(tx)
		for _, l := range logs {
			m, err := db.MapStageLogToModel(l)
			if err != nil {
				return err
			}
			if err = stageLogs.Insert(ctx, m); err != nil {
				return fmt.Errorf("err inserting %s log, %w", l.Stage, err)
			}
		}
		return churches.MarkPending(ctx, entry.TenantID, entry.ID)
	})
}

// insertWithSlug tries slug candidates in savepoints until the unique
// index accepts one.
func (s *Store) insertWithSlug(ctx context.Context, tx pgx.Tx, entry *entity.QueueEntry, base string) error {
	taken, err := NewQueueRepo(tx).TakenSlugs(ctx, base, slug.LikePattern(base))
	if err != nil {
		return fmt.Errorf("err reading taken slugs, %w", err)
	}
	candidates := slug.NewSequence(base, taken)

	for {
		candidate, ok := candidates.Next()
		if !ok {
			return errs.Conflict("no free site slug for %q", base)
		}
		entry.SiteSlug = candidate
		m, err := db.MapQueueEntryToModel(entry)
		if err != nil {
			return err
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		err = NewQueueRepo(sp).Insert(ctx, m)
		if err == nil {
			return sp.Commit(ctx)
		}
		_ = sp.Rollback(ctx)

		switch constraintOf(err) {
		case siteSlugConstraint:
			continue
		case activeTenantIndex:
			return errs.Conflict("church %d already has an active provisioning request", entry.TenantID)
		default:
			return fmt.Errorf("err inserting queue entry, %w", err)
		}
	}
}

func (s *Store) Approve(ctx context.Context, queueID uuid.UUID, approval entity.Approval, event shared.Event) (entry *entity.QueueEntry, err error) {
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		queue := NewQueueRepo(tx)
		m, err := queue.Get(ctx, queueID, true)
		if err != nil {
			return entryNotFound(err, queueID)
		}
		entry, err = db.MapModelToQueueEntry(m)
		if err != nil {
			return err
		}
		if err = entry.Approve(approval); err != nil {
			return errs.ConflictError{Err: err}
		}
		if m, err = db.MapQueueEntryToModel(entry); err != nil {
			return err
		}
		if err = queue.Update(ctx, m); err != nil {
			return fmt.Errorf("err updating queue entry, %w", err)
		}

		stageLogs := NewStageLogRepo(tx)
		logs, err := stageLogs.ListByQueue(ctx, queueID)
		if err != nil {
			return err
		}
		for _, lm := range logs {
			if lm.Stage != string(consts.StagePendingReview) || lm.CompletedAt != nil {
				continue
			}
			l, err := db.MapModelToStageLog(lm)
			if err != nil {
				return err
			}
			l.CloseReview(approval)
			if lm, err = db.MapStageLogToModel(l); err != nil {
				return err
			}
			if _, err = stageLogs.Close(ctx, lm); err != nil {
				return err
			}
		}
		lm, err := db.MapStageLogToModel(entity.NewApprovalLog(queueID, approval))
		if err != nil {
			return err
		}
		if err = stageLogs.Insert(ctx, lm); err != nil {
			return fmt.Errorf("err inserting approval log, %w", err)
		}

		return NewEventRepo(tx).InsertEvent(ctx, event)
	})
	return entry, err
}

func (s *Store) Cancel(ctx context.Context, queueID uuid.UUID, c entity.Cancellation) (entry *entity.QueueEntry, err error) {
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		queue := NewQueueRepo(tx)
		m, err := queue.Get(ctx, queueID, true)
		if err != nil {
			return entryNotFound(err, queueID)
		}
		entry, err = db.MapModelToQueueEntry(m)
		if err != nil {
			return err
		}
		if err = entry.Cancel(c); err != nil {
			return errs.ConflictError{Err: err}
		}
		if m, err = db.MapQueueEntryToModel(entry); err != nil {
			return err
		}
		if err = queue.Update(ctx, m); err != nil {
			return fmt.Errorf("err updating queue entry, %w", err)
		}
		if err = NewStageLogRepo(tx).FailOpen(ctx, queueID, c.Message(), c.At); err != nil {
			return fmt.Errorf("err closing stage logs, %w", err)
		}
		return NewChurchRepo(tx).MarkManual(ctx, entry.TenantID, queueID)
	})
	return entry, err
}

func (s *Store) GetEntry(ctx context.Context, queueID uuid.UUID) (entry *entity.QueueEntry, err error) {
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		m, err := NewQueueRepo(tx).Get(ctx, queueID, false)
		if err != nil {
			return entryNotFound(err, queueID)
		}
		entry, err = db.MapModelToQueueEntry(m)
		return err
	})
	return entry, err
}

func (s *Store) ListEntries(ctx context.Context, filter entity.QueueFilter) (items []entity.QueueListItem, total int, err error) {
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		rows, count, err := NewQueueRepo(tx).List(ctx, filter)
		if err != nil {
			return err
		}
		total = count
		items = make([]entity.QueueListItem, 0, len(rows))
		for _, row := range rows {
			e, err := db.MapModelToQueueEntry(row.QueueEntry)
			if err != nil {
				return err
			}
			item := entity.QueueListItem{
				QueueEntry:     *e,
				ChurchName:     row.ChurchName,
				ChurchLocation: row.ChurchLocation,
				ContactEmail:   row.ContactEmail,
			}
			if row.ApprovedByUsername != nil {
				item.ApprovedByUsername = *row.ApprovedByUsername
			}
			items = append(items, item)
		}
		return nil
	})
	return items, total, err
}

func (s *Store) ListStageLogs(ctx context.Context, queueID uuid.UUID) (logs []entity.StageLog, err error) {
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := NewQueueRepo(tx).Get(ctx, queueID, false); err != nil {
			return entryNotFound(err, queueID)
		}
		models, err := NewStageLogRepo(tx).ListByQueue(ctx, queueID)
		if err != nil {
			return err
		}
		logs = make([]entity.StageLog, 0, len(models))
		for _, m := range models {
			l, err := db.MapModelToStageLog(m)
			if err != nil {
				return err
			}
			logs = append(logs, l)
		}
		return nil
	})
	return logs, err
}

func (s *Store) Claim(ctx context.Context, lease entity.Lease) (entry *entity.QueueEntry, claimed bool, err error) {
	now := s.now()
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		queue := NewQueueRepo(tx)
		m, ok, err := queue.Claim(ctx, lease.QueueID, lease.Owner, lease.ExpiresAt(now), now)
		if err != nil {
			return err
		}
		if !ok {
			if m, err = queue.Get(ctx, lease.QueueID, false); err != nil {
				return entryNotFound(err, lease.QueueID)
			}
			if m.Status == string(consts.StatusProvisioning) {
				return errs.ErrLeaseHeld
			}
		}
		claimed = ok
		entry, err = db.MapModelToQueueEntry(m)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entry, claimed, nil
}

func (s *Store) StartStage(ctx context.Context, lease entity.Lease, log entity.StageLog) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := NewQueueRepo(tx).StartStage(ctx, lease, log.Stage, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrLeaseLost
		}
		m, err := db.MapStageLogToModel(log)
		if err != nil {
			return err
		}
		err = NewStageLogRepo(tx).Insert(ctx, m)
		if constraintOf(err) == inProgressStageIndex {
			return errs.Conflict("another stage of %s is still in progress", lease.QueueID)
		}
		return err
	})
}

func (s *Store) ExtendLease(ctx context.Context, lease entity.Lease) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := NewQueueRepo(tx).ExtendLease(ctx, lease, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrLeaseLost
		}
		return nil
	})
}

func (s *Store) CompleteStage(ctx context.Context, lease entity.Lease, log entity.StageLog, patch entity.EntryPatch) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var pc []byte
		if patch.Context != nil {
			raw, err := db.MarshalContext(*patch.Context)
			if err != nil {
				return err
			}
			pc = raw
		}
		errorEvents, err := db.MapErrorEvents(patch.Errors)
		if err != nil {
			return err
		}
		ok, err := NewQueueRepo(tx).ApplyPatch(ctx, lease, pc, patch.Credentials, errorEvents, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrLeaseLost
		}
		return s.closeLog(ctx, tx, log, true)
	})
}

func (s *Store) closeLog(ctx context.Context, tx pgx.Tx, log entity.StageLog, mustBeOpen bool) error {
	m, err := db.MapStageLogToModel(log)
	if err != nil {
		return err
	}
	ok, err := NewStageLogRepo(tx).Close(ctx, m)
	if err != nil {
		return err
	}
	if !ok && mustBeOpen {
		return fmt.Errorf("stage log %s is not open", log.ID)
	}
	return nil
}

func (s *Store) FailStage(ctx context.Context, lease entity.Lease, log *entity.StageLog, event entity.ErrorEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		errorEvents, err := db.MapErrorEvents([]entity.ErrorEvent{event})
		if err != nil {
			return err
		}
		tenantID, ok, err := NewQueueRepo(tx).Fail(ctx, lease, errorEvents, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrLeaseLost
		}
		if log != nil {
			if err = s.closeLog(ctx, tx, *log, false); err != nil {
				return err
			}
		}
		return NewChurchRepo(tx).MarkFailed(ctx, tenantID, lease.QueueID)
	})
}

func (s *Store) CloseStage(ctx context.Context, log entity.StageLog) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return s.closeLog(ctx, tx, log, false)
	})
}

func (s *Store) CompleteRun(ctx context.Context, lease entity.Lease, log entity.StageLog) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		m, ok, err := NewQueueRepo(tx).Complete(ctx, lease, *log.CompletedAt)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrLeaseLost
		}
		lm, err := db.MapStageLogToModel(log)
		if err != nil {
			return err
		}
		if err = NewStageLogRepo(tx).Insert(ctx, lm); err != nil {
			return fmt.Errorf("err inserting completed log, %w", err)
		}

		entry, err := db.MapModelToQueueEntry(m)
		if err != nil {
			return err
		}
		var siteURL string
		if entry.Context.Site != nil {
			siteURL = entry.Context.Site.SiteURL
		}
		return NewChurchRepo(tx).MarkProvisioned(ctx, entry.TenantID, entry.SiteSlug, siteURL, *log.CompletedAt)
	})
}

func (s *Store) InsertUsers(ctx context.Context, users []entity.User) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		models := make([]db.User, 0, len(users))
		for _, u := range users {
			models = append(models, db.MapUserToModel(u))
		}
		err := NewUserRepo(tx).InsertUsers(ctx, models)
		switch constraintOf(err) {
		case usernameConstraint, userEmailConstraint:
			return errs.ConflictError{Err: err}
		}
		return err
	})
}

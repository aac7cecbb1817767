package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	domain "github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/slug"
	shared "github.com/Builder-Lawyers/church-provisioner/pkg/interfaces"
	"github.com/google/uuid"
)

type outboxRow struct {
	msg            interfaces.OutboxMessage
	status         consts.OutboxStatus
	lastError      string
	leaseExpiresAt time.Time
	nextRunAt      time.Time
}

// Store keeps every table of the provisioning schema in memory behind one
// mutex. It backs the application tests and single-process demos.
type Store struct {
	mu        sync.Mutex
	tenants   map[int64]*entity.Tenant
	usernames map[string]string
	users     []entity.User
	entries   map[uuid.UUID]*entity.QueueEntry
	logs      map[uuid.UUID][]entity.StageLog
	outbox    []*outboxRow
	nextID    int64
	now       func() time.Time
}

var (
	_ interfaces.QueueStore = (*Store)(nil)
	_ interfaces.RunStore   = (*Store)(nil)
	_ interfaces.Outbox     = (*Store)(nil)
	_ interfaces.UserRepo   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		tenants:   make(map[int64]*entity.Tenant),
		usernames: make(map[string]string),
		entries:   make(map[uuid.UUID]*entity.QueueEntry),
		logs:      make(map[uuid.UUID][]entity.StageLog),
		now:       time.Now,
	}
}

func (s *Store) SeedTenant(t entity.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = &t
}

// SeedUser registers a display name for an approver id.
func (s *Store) SeedUser(id, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usernames[id] = username
}

func (s *Store) Users() []entity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.users)
}

func (s *Store) GetTenant(_ context.Context, tenantID int64) (*entity.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, errs.NotFoundError{Resource: "church", ID: strconv.FormatInt(tenantID, 10)}
	}
	cp := *t
	return &cp, nil
}

func (s *Store) Submit(_ context.Context, entry *entity.QueueEntry, slugBase string, logs []entity.StageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.tenants[entry.TenantID]
	if !ok {
		return errs.NotFoundError{Resource: "church", ID: strconv.FormatInt(entry.TenantID, 10)}
	}
	taken := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.TenantID == entry.TenantID && e.Status.IsActive() {
			return errs.Conflict("church %d already has an active provisioning request %s", e.TenantID, e.ID)
		}
		taken = append(taken, e.SiteSlug)
	}
	candidate, ok := slug.NewSequence(slugBase, taken).Next()
	if !ok {
		return errs.Conflict("no free site slug for %q", slugBase)
	}
	entry.SiteSlug = candidate

	s.entries[entry.ID] = copyEntry(entry)
	for _, l := range logs {
		s.logs[entry.ID] = append(s.logs[entry.ID], copyLog(l))
	}
	id := entry.ID
	tenant.ProvisionStatus = domain.TenantProvisionPending
	tenant.ProvisionQueueID = &id
	return nil
}

func (s *Store) Approve(_ context.Context, queueID uuid.UUID, approval entity.Approval, event shared.Event) (*entity.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[queueID]
	if !ok {
		return nil, notFound(queueID)
	}
	entry := copyEntry(stored)
	if err := entry.Approve(approval); err != nil {
		return nil, errs.ConflictError{Err: err}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("err marshalling event payload, %w", err)
	}

	logs := s.logs[queueID]
	for i := range logs {
		if logs[i].Stage == domain.StagePendingReview && logs[i].IsOpen() {
			logs[i].CloseReview(approval)
		}
	}
	s.logs[queueID] = append(logs, entity.NewApprovalLog(queueID, approval))
	s.enqueue(event.GetType(), payload)
	s.entries[queueID] = entry
	return copyEntry(entry), nil
}

func (s *Store) Cancel(_ context.Context, queueID uuid.UUID, c entity.Cancellation) (*entity.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[queueID]
	if !ok {
		return nil, notFound(queueID)
	}
	entry := copyEntry(stored)
	if err := entry.Cancel(c); err != nil {
		return nil, errs.ConflictError{Err: err}
	}
	logs := s.logs[queueID]
	for i := range logs {
		if logs[i].IsOpen() {
			logs[i].Fail(c.At, c.Message(), nil)
		}
	}
	if tenant, ok := s.tenants[entry.TenantID]; ok && tenant.ProvisionQueueID != nil && *tenant.ProvisionQueueID == queueID {
		tenant.ProvisionStatus = domain.TenantProvisionManual
		tenant.ProvisionQueueID = nil
	}
	s.entries[queueID] = entry
	return copyEntry(entry), nil
}

func (s *Store) GetEntry(_ context.Context, queueID uuid.UUID) (*entity.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[queueID]
	if !ok {
		return nil, notFound(queueID)
	}
	return copyEntry(e), nil
}

func (s *Store) ListEntries(_ context.Context, f entity.QueueFilter) ([]entity.QueueListItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*entity.QueueEntry
	for _, e := range s.entries {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Stage != "" && e.Stage != f.Stage {
			continue
		}
		if f.Language != "" && e.LanguagePreference != f.Language {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	items := make([]entity.QueueListItem, 0, end-start)
	for _, e := range matched[start:end] {
		item := entity.QueueListItem{QueueEntry: *copyEntry(e)}
		if t, ok := s.tenants[e.TenantID]; ok {
			item.ChurchName = t.Name
			item.ChurchLocation = t.Location
			item.ContactEmail = t.ContactEmail
		}
		item.ApprovedByUsername = s.usernames[e.ApprovedBy]
		items = append(items, item)
	}
	return items, total, nil
}

func (s *Store) ListStageLogs(_ context.Context, queueID uuid.UUID) ([]entity.StageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[queueID]; !ok {
		return nil, notFound(queueID)
	}
	logs := make([]entity.StageLog, 0, len(s.logs[queueID]))
	for _, l := range s.logs[queueID] {
		logs = append(logs, copyLog(l))
	}
	return logs, nil
}

func (s *Store) Claim(_ context.Context, lease entity.Lease) (*entity.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[lease.QueueID]
	if !ok {
		return nil, false, notFound(lease.QueueID)
	}
	now := s.now()
	switch {
	case e.Status == domain.StatusApproved:
		e.Status = domain.StatusProvisioning
	case e.Status == domain.StatusProvisioning:
		if e.LeaseExpiresAt != nil && e.LeaseExpiresAt.After(now) {
			return nil, false, errs.ErrLeaseHeld
		}
	default:
		return copyEntry(e), false, nil
	}
	expires := lease.ExpiresAt(now)
	e.LeaseOwner = lease.Owner
	e.LeaseExpiresAt = &expires
	e.UpdatedAt = now
	return copyEntry(e), true, nil
}

func (s *Store) leased(lease entity.Lease) (*entity.QueueEntry, error) {
	e, ok := s.entries[lease.QueueID]
	if !ok || e.Status != domain.StatusProvisioning || e.LeaseOwner != lease.Owner {
		return nil, errs.ErrLeaseLost
	}
	return e, nil
}

func (s *Store) StartStage(_ context.Context, lease entity.Lease, log entity.StageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.leased(lease)
	if err != nil {
		return err
	}
	for _, l := range s.logs[lease.QueueID] {
		if l.Status == domain.StageStatusInProgress {
			return errs.Conflict("stage %s is still in progress", l.Stage)
		}
	}
	now := s.now()
	expires := lease.ExpiresAt(now)
	e.Stage = log.Stage
	e.LeaseExpiresAt = &expires
	e.UpdatedAt = now
	s.logs[lease.QueueID] = append(s.logs[lease.QueueID], copyLog(log))
	return nil
}

func (s *Store) ExtendLease(_ context.Context, lease entity.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.leased(lease)
	if err != nil {
		return err
	}
	now := s.now()
	expires := lease.ExpiresAt(now)
	e.LeaseExpiresAt = &expires
	e.UpdatedAt = now
	return nil
}

func (s *Store) replaceOpenLog(log entity.StageLog) bool {
	logs := s.logs[log.QueueID]
	for i := range logs {
		if logs[i].ID == log.ID && logs[i].IsOpen() {
			logs[i] = copyLog(log)
			return true
		}
	}
	return false
}

func (s *Store) CompleteStage(_ context.Context, lease entity.Lease, log entity.StageLog, patch entity.EntryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.leased(lease)
	if err != nil {
		return err
	}
	if !s.replaceOpenLog(log) {
		return fmt.Errorf("stage log %s is not open", log.ID)
	}
	if patch.Context != nil {
		e.Context = *patch.Context
	}
	if patch.Credentials != nil {
		e.AdminPasswordHash = patch.Credentials.AdminPasswordHash
		e.TestUserEmail = patch.Credentials.TestUserEmail
		e.TestUserPasswordHash = patch.Credentials.TestUserPasswordHash
	}
	e.ErrorLog = append(e.ErrorLog, patch.Errors...)
	e.UpdatedAt = s.now()
	return nil
}

func (s *Store) FailStage(_ context.Context, lease entity.Lease, log *entity.StageLog, event entity.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.leased(lease)
	if err != nil {
		return err
	}
	if log != nil {
		s.replaceOpenLog(*log)
	}
	e.Status = domain.StatusFailed
	e.ErrorLog = append(e.ErrorLog, event)
	e.LeaseOwner = ""
	e.LeaseExpiresAt = nil
	e.UpdatedAt = s.now()
	if tenant, ok := s.tenants[e.TenantID]; ok {
		tenant.ProvisionStatus = domain.TenantProvisionFailed
	}
	return nil
}

func (s *Store) CloseStage(_ context.Context, log entity.StageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceOpenLog(log)
	return nil
}

func (s *Store) CompleteRun(_ context.Context, lease entity.Lease, log entity.StageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.leased(lease)
	if err != nil {
		return err
	}
	at := *log.CompletedAt
	s.logs[lease.QueueID] = append(s.logs[lease.QueueID], copyLog(log))
	e.Status = domain.StatusProvisioned
	e.Stage = domain.StageCompleted
	e.ProvisionedAt = &at
	e.LeaseOwner = ""
	e.LeaseExpiresAt = nil
	e.UpdatedAt = at
	if tenant, ok := s.tenants[e.TenantID]; ok {
		tenant.ProvisionStatus = domain.TenantProvisionProvisioned
		tenant.SiteSlug = e.SiteSlug
		if e.Context.Site != nil {
			tenant.SiteURL = e.Context.Site.SiteURL
		}
		tenant.ProvisionedAt = &at
	}
	return nil
}

func (s *Store) InsertUsers(_ context.Context, users []entity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		for _, existing := range s.users {
			if existing.Username == u.Username {
				return errs.Conflict("user %s already exists", u.Username)
			}
		}
	}
	for _, u := range users {
		if i := slices.IndexFunc(s.users, func(e entity.User) bool {
			return e.TenantID == u.TenantID && e.Email == u.Email
		}); i >= 0 {
			s.users[i].Username = u.Username
			s.users[i].PasswordHash = u.PasswordHash
			s.users[i].Role = u.Role
			s.usernames[s.users[i].ID.String()] = u.Username
			continue
		}
		s.users = append(s.users, u)
		s.usernames[u.ID.String()] = u.Username
	}
	return nil
}

func (s *Store) enqueue(event string, payload []byte) {
	s.nextID++
	now := s.now()
	s.outbox = append(s.outbox, &outboxRow{
		msg: interfaces.OutboxMessage{
			ID:        s.nextID,
			Event:     event,
			Payload:   payload,
			CreatedAt: now,
		},
		status:    consts.NotProcessed,
		nextRunAt: now,
	})
}

// SeedEvent enqueues a raw outbox event and returns its id.
func (s *Store) SeedEvent(event string, payload []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueue(event, payload)
	return s.nextID
}

func (s *Store) ClaimEvents(_ context.Context, limit int, lease time.Duration) ([]interfaces.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var claimed []interfaces.OutboxMessage
	for _, row := range s.outbox {
		if len(claimed) >= limit {
			break
		}
		ready := row.status == consts.NotProcessed && !row.nextRunAt.After(now)
		expired := row.status == consts.Processing && row.leaseExpiresAt.Before(now)
		if !ready && !expired {
			continue
		}
		row.status = consts.Processing
		row.leaseExpiresAt = now.Add(lease)
		row.msg.Attempts++
		claimed = append(claimed, row.msg)
	}
	return claimed, nil
}

func (s *Store) row(id int64) (*outboxRow, error) {
	for _, row := range s.outbox {
		if row.msg.ID == id {
			return row, nil
		}
	}
	return nil, errs.NotFoundError{Resource: "outbox event", ID: strconv.FormatInt(id, 10)}
}

func (s *Store) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.row(id)
	if err != nil {
		return err
	}
	row.status = consts.Processed
	return nil
}

func (s *Store) MarkRetry(_ context.Context, id int64, lastErr string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.row(id)
	if err != nil {
		return err
	}
	row.status = consts.NotProcessed
	row.lastError = lastErr
	row.nextRunAt = nextRunAt
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.row(id)
	if err != nil {
		return err
	}
	row.status = consts.InError
	row.lastError = lastErr
	return nil
}

// ForceStatus overwrites the status of an entry as another worker would, for tests.
func (s *Store) ForceStatus(queueID uuid.UUID, status domain.QueueStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[queueID]; ok {
		e.Status = status
	}
}

// OutboxStatus reports the delivery state of an event, for tests.
func (s *Store) OutboxStatus(id int64) (consts.OutboxStatus, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.row(id)
	if err != nil {
		return 0, "", err
	}
	return row.status, row.lastError, nil
}

func notFound(queueID uuid.UUID) error {
	return errs.NotFoundError{Resource: "queue entry", ID: queueID.String()}
}

func copyEntry(e *entity.QueueEntry) *entity.QueueEntry {
	cp := *e
	cp.ErrorLog = append([]entity.ErrorEvent{}, e.ErrorLog...)
	return &cp
}

func copyLog(l entity.StageLog) entity.StageLog {
	if l.LogData != nil {
		data := make(map[string]any, len(l.LogData))
		for k, v := range l.LogData {
			data[k] = v
		}
		l.LogData = data
	}
	return l
}

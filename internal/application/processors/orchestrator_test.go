package processors_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/commands"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/processors"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/config"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	admin      = entity.Principal{UserID: "admin-1", Username: "root", Roles: []consts.Role{consts.RoleAdmin}}
	privileged = []consts.Role{consts.RoleAdmin, consts.RoleSupervisor}
)

type fixture struct {
	store       *memstore.Store
	runs        *processors.RunRegistry
	provisioner *fakeProvisioner
	tester      *fakeTester
	issuer      *fakeIssuer
	notifier    *fakeNotifier
	cfg         *config.ProvisionConfig
}

func newFixture() *fixture {
	store := memstore.New()
	store.SeedTenant(entity.Tenant{ID: 1, Name: "Saint Nicholas", Location: "Chicago", ContactEmail: "office@stnicholas.org"})
	return &fixture{
		store:       store,
		runs:        processors.NewRunRegistry(),
		provisioner: &fakeProvisioner{},
		tester:      &fakeTester{},
		issuer:      &fakeIssuer{},
		notifier:    &fakeNotifier{},
		cfg: &config.ProvisionConfig{
			WorkerID:       "test-worker",
			StageTimeout:   time.Second,
			LeaseTTL:       time.Minute,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}
}

func (f *fixture) orchestrator() *processors.Orchestrator {
	return processors.NewOrchestrator(f.cfg, f.store, f.runs, f.provisioner, f.tester, f.issuer, f.notifier)
}

func (f *fixture) submit(t *testing.T) uuid.UUID {
	t.Helper()
	res, err := commands.NewSubmitProvision(f.store, f.notifier).Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 1})
	require.NoError(t, err)
	return res.QueueID
}

func (f *fixture) approved(t *testing.T) uuid.UUID {
	t.Helper()
	id := f.submit(t)
	_, err := commands.NewApproveProvision(f.store, privileged).Execute(context.Background(), admin, id, dto.ApproveRequest{})
	require.NoError(t, err)
	return id
}

func (f *fixture) logs(t *testing.T, id uuid.UUID) []entity.StageLog {
	t.Helper()
	logs, err := f.store.ListStageLogs(context.Background(), id)
	require.NoError(t, err)
	return logs
}

func (f *fixture) entry(t *testing.T, id uuid.UUID) *entity.QueueEntry {
	t.Helper()
	entry, err := f.store.GetEntry(context.Background(), id)
	require.NoError(t, err)
	return entry
}

func logsOf(logs []entity.StageLog, stage consts.Stage) []entity.StageLog {
	var out []entity.StageLog
	for _, l := range logs {
		if l.Stage == stage {
			out = append(out, l)
		}
	}
	return out
}

func Test_Run_Given_ApprovedEntry_When_AllStagesSucceed_Then_EntryIsProvisioned(t *testing.T) {
	f := newFixture()
	id := f.approved(t)

	err := f.orchestrator().Run(context.Background(), id)
	require.NoError(t, err)

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusProvisioned, entry.Status)
	require.Equal(t, consts.StageCompleted, entry.Stage)
	require.NotNil(t, entry.ProvisionedAt)
	require.NotNil(t, entry.Context.Site)
	require.Equal(t, "https://orthodoxmetrics.com/churches/saint-nicholas", entry.Context.Site.SiteURL)
	require.Equal(t, "$2a$12$adminhash", entry.AdminPasswordHash)
	require.Equal(t, "test_saint-nicholas@stnicholas.org", entry.TestUserEmail)
	require.Empty(t, entry.ErrorLog)
	require.Empty(t, entry.LeaseOwner)

	logs := f.logs(t, id)
	var stages []consts.Stage
	var last time.Time
	for _, l := range logs {
		stages = append(stages, l.Stage)
		require.Equal(t, consts.StageStatusCompleted, l.Status, "stage %s", l.Stage)
		require.NotNil(t, l.CompletedAt)
		require.False(t, l.CompletedAt.Before(last), "stage %s completed out of order", l.Stage)
		last = *l.CompletedAt
	}
	require.Equal(t, consts.Stages, stages)

	mails := f.notifier.Sent(consts.TemplateProvisionCompleted)
	require.Len(t, mails, 1)
	require.Equal(t, "office@stnicholas.org", mails[0].Recipient)
	require.Equal(t, "Adm1n!Password#1", mails[0].Context["adminPassword"])

	tenant, err := f.store.GetTenant(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, consts.TenantProvisionProvisioned, tenant.ProvisionStatus)
	require.Equal(t, "saint-nicholas", tenant.SiteSlug)
	require.Equal(t, entry.Context.Site.SiteURL, tenant.SiteURL)
}

func Test_Run_Given_EntryNotApproved_When_Invoked_Then_NothingHappens(t *testing.T) {
	f := newFixture()
	id := f.submit(t)

	err := f.orchestrator().Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, consts.StatusPending, f.entry(t, id).Status)
	require.Len(t, f.logs(t, id), 2)
	require.Zero(t, f.provisioner.Calls())

	require.NoError(t, f.orchestrator().Run(context.Background(), uuid.New()))
}

func Test_Run_Given_ProvisionedEntry_When_InvokedAgain_Then_StagesAreNotRepeated(t *testing.T) {
	f := newFixture()
	id := f.approved(t)
	orch := f.orchestrator()

	require.NoError(t, orch.Run(context.Background(), id))
	logCount := len(f.logs(t, id))

	require.NoError(t, orch.Run(context.Background(), id))
	require.Equal(t, 1, f.provisioner.Calls())
	require.Len(t, f.logs(t, id), logCount)
}

func Test_Run_Given_SiteTestFails_When_Run_Then_PipelineStopsAfterTestSite(t *testing.T) {
	f := newFixture()
	f.tester.failing = true
	id := f.approved(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusFailed, entry.Status)
	require.Len(t, entry.ErrorLog, 1)
	require.Equal(t, consts.ErrorKindTestFailed, entry.ErrorLog[0].Kind)
	require.Equal(t, consts.StageTestSite, entry.ErrorLog[0].Stage)

	logs := f.logs(t, id)
	tests := logsOf(logs, consts.StageTestSite)
	require.Len(t, tests, 1)
	require.Equal(t, consts.StageStatusFailed, tests[0].Status)
	require.Equal(t, 3, tests[0].Attempts)
	require.NotEmpty(t, tests[0].ErrorMessage)
	require.Equal(t, false, tests[0].LogData["passed"])
	require.Empty(t, logsOf(logs, consts.StageCreateCredentials))
	require.Empty(t, logsOf(logs, consts.StageNotifyChurch))
	require.Zero(t, f.issuer.Calls())

	tenant, err := f.store.GetTenant(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, consts.TenantProvisionFailed, tenant.ProvisionStatus)
}

func Test_Run_Given_TransientTesterError_When_Run_Then_TestSiteIsRetried(t *testing.T) {
	f := newFixture()
	f.tester.errs = []error{errors.New("connection refused")}
	id := f.approved(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	require.Equal(t, consts.StatusProvisioned, f.entry(t, id).Status)
	tests := logsOf(f.logs(t, id), consts.StageTestSite)
	require.Len(t, tests, 1)
	require.Equal(t, 2, tests[0].Attempts)
}

func Test_Run_Given_ProvisionerError_When_NotRetryable_Then_FailsAfterOneAttempt(t *testing.T) {
	f := newFixture()
	f.provisioner.errs = []error{errors.New("bucket policy denied")}
	id := f.approved(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusFailed, entry.Status)
	require.Equal(t, 1, f.provisioner.Calls())
	require.Equal(t, consts.ErrorKindCollaborator, entry.ErrorLog[0].Kind)
	require.Empty(t, logsOf(f.logs(t, id), consts.StageTestSite))
}

func Test_Run_Given_ProvisionerError_When_Retryable_Then_StageIsRepeated(t *testing.T) {
	f := newFixture()
	f.provisioner.errs = []error{errs.RetryableError{Err: errors.New("throttled")}}
	id := f.approved(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	require.Equal(t, consts.StatusProvisioned, f.entry(t, id).Status)
	require.Equal(t, 2, f.provisioner.Calls())
	require.Equal(t, 2, logsOf(f.logs(t, id), consts.StageProvisionSite)[0].Attempts)
}

func Test_Run_Given_NotifierFails_When_Run_Then_EntryIsStillProvisioned(t *testing.T) {
	f := newFixture()
	f.notifier.failWith = map[consts.Template]error{consts.TemplateProvisionCompleted: errors.New("smtp: 554 rejected")}
	id := f.approved(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusProvisioned, entry.Status)
	require.Len(t, entry.ErrorLog, 1)
	require.Equal(t, consts.ErrorKindNotification, entry.ErrorLog[0].Kind)
	require.NotNil(t, entry.Context.Notification)
	require.False(t, entry.Context.Notification.Delivered)

	notify := logsOf(f.logs(t, id), consts.StageNotifyChurch)
	require.Len(t, notify, 1)
	require.Equal(t, consts.StageStatusCompleted, notify[0].Status)
	require.Equal(t, false, notify[0].LogData["delivered"])
	require.Contains(t, notify[0].LogData["error"], "554 rejected")
}

func Test_Run_Given_SlowProvisioner_When_StageTimesOut_Then_FailureKindIsTimeout(t *testing.T) {
	f := newFixture()
	f.cfg.StageTimeout = 30 * time.Millisecond
	f.provisioner.block = true
	id := f.approved(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusFailed, entry.Status)
	require.Equal(t, consts.ErrorKindTimeout, entry.ErrorLog[0].Kind)
	site := logsOf(f.logs(t, id), consts.StageProvisionSite)
	require.Len(t, site, 1)
	require.Equal(t, consts.StageStatusFailed, site[0].Status)
	require.Equal(t, consts.ErrorKindTimeout, site[0].LogData["kind"])
	require.Equal(t, 1, site[0].Attempts)
}

func Test_Run_Given_InFlightRun_When_Cancelled_Then_RunStopsWithoutFurtherStages(t *testing.T) {
	f := newFixture()
	f.cfg.StageTimeout = 5 * time.Second
	f.provisioner.block = true
	f.provisioner.started = make(chan struct{}, 1)
	id := f.approved(t)

	done := make(chan error, 1)
	go func() { done <- f.orchestrator().Run(context.Background(), id) }()

	select {
	case <-f.provisioner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provisioner was never called")
	}

	cancel := commands.NewCancelProvision(f.store, f.runs, privileged)
	res, err := cancel.Execute(context.Background(), admin, id, dto.CancelRequest{Reason: "duplicate request"})
	require.NoError(t, err)
	require.Equal(t, consts.StatusCancelled, res.Status)

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusCancelled, entry.Status)
	require.Nil(t, entry.ProvisionedAt)
	require.Equal(t, "Cancelled by root: duplicate request", entry.ErrorLog[len(entry.ErrorLog)-1].Message)

	logs := f.logs(t, id)
	site := logsOf(logs, consts.StageProvisionSite)
	require.Len(t, site, 1)
	require.Equal(t, consts.StageStatusFailed, site[0].Status)
	require.Empty(t, logsOf(logs, consts.StageTestSite))
	require.Empty(t, logsOf(logs, consts.StageCompleted))
	require.Zero(t, f.runs.Active())

	tenant, err := f.store.GetTenant(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, consts.TenantProvisionManual, tenant.ProvisionStatus)
	require.Nil(t, tenant.ProvisionQueueID)
}

func Test_Run_Given_ConcurrentDeliveries_When_Run_Then_OnlyOneRunDrivesTheEntry(t *testing.T) {
	f := newFixture()
	id := f.approved(t)
	orch := f.orchestrator()

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orch.Run(context.Background(), id)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, f.provisioner.Calls())
	require.Equal(t, consts.StatusProvisioned, f.entry(t, id).Status)
	require.Len(t, logsOf(f.logs(t, id), consts.StageProvisionSite), 1)
	for _, err := range results {
		if err != nil {
			require.True(t, errs.IsRetryable(err))
		}
	}
}

// crash leaves the entry as a dead worker would: provisioning, an expired
// lease and the given stage still in progress.
func (f *fixture) crash(t *testing.T, id uuid.UUID, completed []consts.Stage, interrupted consts.Stage) {
	t.Helper()
	ctx := context.Background()
	lease := entity.Lease{QueueID: id, Owner: "dead-worker", TTL: time.Millisecond}
	entry, claimed, err := f.store.Claim(ctx, lease)
	require.NoError(t, err)
	require.True(t, claimed)

	pc := entry.Context
	for _, stage := range completed {
		log := entity.NewStageLog(id, stage, consts.StageStatusInProgress, time.Now())
		require.NoError(t, f.store.StartStage(ctx, lease, log))
		if stage == consts.StageProvisionSite {
			pc.Site = &entity.SiteContext{SiteURL: "https://orthodoxmetrics.com/churches/saint-nicholas", SitePath: "churches/saint-nicholas"}
		}
		log.Complete(time.Now(), nil)
		require.NoError(t, f.store.CompleteStage(ctx, lease, log, entity.EntryPatch{Context: &pc}))
	}
	require.NoError(t, f.store.StartStage(ctx, lease, entity.NewStageLog(id, interrupted, consts.StageStatusInProgress, time.Now())))
	time.Sleep(5 * time.Millisecond)
}

func Test_Run_Given_CrashDuringTestSite_When_Resumed_Then_PipelineContinues(t *testing.T) {
	f := newFixture()
	id := f.approved(t)
	f.crash(t, id, []consts.Stage{consts.StageProvisionSite}, consts.StageTestSite)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	require.Equal(t, consts.StatusProvisioned, f.entry(t, id).Status)
	require.Zero(t, f.provisioner.Calls())

	tests := logsOf(f.logs(t, id), consts.StageTestSite)
	require.Len(t, tests, 2)
	require.Equal(t, consts.StageStatusFailed, tests[0].Status)
	require.Equal(t, consts.ErrorKindAbandoned, tests[0].LogData["kind"])
	require.Equal(t, consts.StageStatusCompleted, tests[1].Status)
}

func Test_Run_Given_CrashDuringProvisionSite_When_Resumed_Then_EntryFails(t *testing.T) {
	f := newFixture()
	id := f.approved(t)
	f.crash(t, id, nil, consts.StageProvisionSite)

	require.NoError(t, f.orchestrator().Run(context.Background(), id))

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusFailed, entry.Status)
	require.Equal(t, consts.ErrorKindAbandoned, entry.ErrorLog[0].Kind)
	require.Zero(t, f.provisioner.Calls())

	site := logsOf(f.logs(t, id), consts.StageProvisionSite)
	require.Len(t, site, 1)
	require.Equal(t, consts.StageStatusFailed, site[0].Status)
}

func Test_Run_Given_LiveLease_When_AnotherRunStarts_Then_ItIsRetryable(t *testing.T) {
	f := newFixture()
	id := f.approved(t)
	_, claimed, err := f.store.Claim(context.Background(), entity.Lease{QueueID: id, Owner: "other", TTL: time.Hour})
	require.NoError(t, err)
	require.True(t, claimed)

	err = f.orchestrator().Run(context.Background(), id)
	require.True(t, errs.IsRetryable(err))
	require.True(t, errors.Is(err, errs.ErrLeaseHeld))
	require.Zero(t, f.provisioner.Calls())
}

func Test_Run_Given_StageLongerThanLeaseTTL_When_Redelivered_Then_SecondRunFindsLeaseHeld(t *testing.T) {
	f := newFixture()
	f.cfg.LeaseTTL = 60 * time.Millisecond
	f.cfg.StageTimeout = 2 * time.Second
	f.tester.delay = 300 * time.Millisecond
	id := f.approved(t)
	orch := f.orchestrator()

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background(), id) }()

	// well past the TTL, the first run is still inside test_site
	time.Sleep(150 * time.Millisecond)
	err := orch.Run(context.Background(), id)
	require.True(t, errs.IsRetryable(err))
	require.ErrorIs(t, err, errs.ErrLeaseHeld)

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("first run did not finish")
	}
	require.Equal(t, 1, f.tester.Calls())
	require.EqualValues(t, 1, f.tester.peak.Load())
	require.Equal(t, consts.StatusProvisioned, f.entry(t, id).Status)
}

func Test_Run_Given_LeaseTakenOver_When_HeartbeatFails_Then_CollaboratorIsInterrupted(t *testing.T) {
	f := newFixture()
	f.cfg.LeaseTTL = 30 * time.Millisecond
	f.cfg.StageTimeout = 5 * time.Second
	f.provisioner.block = true
	f.provisioner.started = make(chan struct{}, 1)
	id := f.approved(t)

	done := make(chan error, 1)
	go func() { done <- f.orchestrator().Run(context.Background(), id) }()
	select {
	case <-f.provisioner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provisioner was never called")
	}

	// a failed entry refuses every lease renewal
	f.store.ForceStatus(id, consts.StatusFailed)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run kept going without its lease")
	}
	site := logsOf(f.logs(t, id), consts.StageProvisionSite)
	require.Len(t, site, 1)
	require.Equal(t, consts.StageStatusFailed, site[0].Status)
	require.Equal(t, consts.ErrorKindLeaseLost, site[0].LogData["kind"])
}

func Test_Run_Given_WorkerShutdown_When_StageInFlight_Then_StageFinishesAndRunResumesLater(t *testing.T) {
	f := newFixture()
	f.cfg.StageTimeout = 5 * time.Second
	f.provisioner.hold = make(chan struct{})
	f.provisioner.started = make(chan struct{}, 1)
	id := f.approved(t)

	ctx, shutdown := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orchestrator().Run(ctx, id) }()
	select {
	case <-f.provisioner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provisioner was never called")
	}

	shutdown()
	select {
	case <-done:
		t.Fatal("run returned while the site was still being provisioned")
	case <-time.After(30 * time.Millisecond):
	}
	close(f.provisioner.hold)

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after shutdown")
	}
	require.True(t, errs.IsRetryable(err))
	require.ErrorIs(t, err, context.Canceled)

	entry := f.entry(t, id)
	require.Equal(t, consts.StatusProvisioning, entry.Status)
	require.Empty(t, entry.ErrorLog)
	logs := f.logs(t, id)
	site := logsOf(logs, consts.StageProvisionSite)
	require.Len(t, site, 1)
	require.Equal(t, consts.StageStatusCompleted, site[0].Status)
	require.Empty(t, logsOf(logs, consts.StageTestSite))

	// the redelivered event resumes without waiting for the lease to expire
	require.NoError(t, f.orchestrator().Run(context.Background(), id))
	require.Equal(t, consts.StatusProvisioned, f.entry(t, id).Status)
	require.Equal(t, 1, f.provisioner.Calls())
	require.Len(t, logsOf(f.logs(t, id), consts.StageProvisionSite), 1)
}

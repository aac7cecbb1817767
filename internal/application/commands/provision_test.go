package commands_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/commands"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	privileged = []consts.Role{consts.RoleAdmin, consts.RoleSupervisor}
	admin      = entity.Principal{UserID: "u-admin", Username: "father.john", Roles: []consts.Role{consts.RoleAdmin}}
	volunteer  = entity.Principal{UserID: "u-vol", Username: "maria", Roles: []consts.Role{consts.RoleVolunteer}}
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []interfaces.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg interfaces.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type noRuns struct{ cancelled []uuid.UUID }

func (r *noRuns) CancelRun(id uuid.UUID) bool {
	r.cancelled = append(r.cancelled, id)
	return false
}

func newStore() *memstore.Store {
	store := memstore.New()
	store.SeedTenant(entity.Tenant{ID: 1, Name: "Saint Nicholas", Location: "Chicago", ContactEmail: "office@stnicholas.org"})
	store.SeedTenant(entity.Tenant{ID: 2, Name: "Saint Nicholas", Location: "Boston", ContactEmail: "info@stnick-boston.org"})
	store.SeedTenant(entity.Tenant{ID: 3, Name: "Holy Trinity"})
	return store
}

func Test_SubmitProvision_Given_ValidRequest_When_Executed_Then_EntryIsPending(t *testing.T) {
	store := newStore()
	notifier := &recordingNotifier{}
	cmd := commands.NewSubmitProvision(store, notifier)

	res, err := cmd.Execute(context.Background(), volunteer, dto.SubmitRequest{TenantID: 1, LanguagePreference: "GR"})
	require.NoError(t, err)
	require.Equal(t, "saint-nicholas", res.SiteSlug)
	require.Equal(t, consts.StatusPending, res.Status)
	require.Equal(t, consts.StagePendingReview, res.Stage)

	entry, err := store.GetEntry(context.Background(), res.QueueID)
	require.NoError(t, err)
	require.Equal(t, consts.LanguageGreek, entry.LanguagePreference)
	require.Equal(t, "office@stnicholas.org", entry.AdminEmail)
	require.Equal(t, "Saint Nicholas", entry.Context.Request.Tenant.Name)
	require.Equal(t, "u-vol", entry.Context.Request.RequestedBy)

	logs, err := store.ListStageLogs(context.Background(), res.QueueID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, consts.StageSubmission, logs[0].Stage)
	require.Equal(t, consts.StageStatusCompleted, logs[0].Status)
	require.Equal(t, consts.StagePendingReview, logs[1].Stage)
	require.Equal(t, consts.StageStatusPending, logs[1].Status)

	require.Len(t, notifier.sent, 1)
	require.Equal(t, consts.TemplateApprovalPending, notifier.sent[0].Template)
	require.Equal(t, "office@stnicholas.org", notifier.sent[0].Recipient)

	tenant, err := store.GetTenant(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, consts.TenantProvisionPending, tenant.ProvisionStatus)
	require.Equal(t, res.QueueID, *tenant.ProvisionQueueID)
}

func Test_SubmitProvision_Given_SameChurchName_When_Submitted_Then_SlugGetsSuffix(t *testing.T) {
	store := newStore()
	cmd := commands.NewSubmitProvision(store, &recordingNotifier{})

	first, err := cmd.Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 1})
	require.NoError(t, err)
	second, err := cmd.Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 2})
	require.NoError(t, err)

	require.Equal(t, "saint-nicholas", first.SiteSlug)
	require.Equal(t, "saint-nicholas-1", second.SiteSlug)
}

func Test_SubmitProvision_Given_ActiveEntry_When_Resubmitted_Then_Conflict(t *testing.T) {
	store := newStore()
	cmd := commands.NewSubmitProvision(store, &recordingNotifier{})

	_, err := cmd.Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 1})
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 1})
	var conflict errs.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func Test_SubmitProvision_Given_NotifierFails_When_Submitted_Then_SubmissionSucceeds(t *testing.T) {
	store := newStore()
	cmd := commands.NewSubmitProvision(store, &recordingNotifier{err: errors.New("smtp down")})

	res, err := cmd.Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 1})
	require.NoError(t, err)
	require.Equal(t, consts.StatusPending, res.Status)
}

func Test_SubmitProvision_Given_InvalidInput_When_Submitted_Then_ValidationError(t *testing.T) {
	tests := []struct {
		name  string
		req   dto.SubmitRequest
		field string
	}{
		{name: "missing tenant", req: dto.SubmitRequest{}, field: "tenantId"},
		{name: "unknown language", req: dto.SubmitRequest{TenantID: 1, LanguagePreference: "de"}, field: "languagePreference"},
		{name: "bad domain", req: dto.SubmitRequest{TenantID: 1, DomainName: "not a domain"}, field: "domainName"},
		{name: "bad email", req: dto.SubmitRequest{TenantID: 1, AdminEmail: "office@localhost"}, field: "adminEmail"},
		{name: "no email at all", req: dto.SubmitRequest{TenantID: 3}, field: "adminEmail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := commands.NewSubmitProvision(newStore(), &recordingNotifier{})
			_, err := cmd.Execute(context.Background(), admin, tt.req)
			var invalid errs.ValidationError
			require.ErrorAs(t, err, &invalid)
			require.Equal(t, tt.field, invalid.Field)
		})
	}
}

func Test_SubmitProvision_Given_UnknownTenant_When_Submitted_Then_NotFound(t *testing.T) {
	cmd := commands.NewSubmitProvision(newStore(), &recordingNotifier{})
	_, err := cmd.Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 42})
	var notFound errs.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func submitted(t *testing.T, store *memstore.Store) uuid.UUID {
	t.Helper()
	res, err := commands.NewSubmitProvision(store, &recordingNotifier{}).Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 1})
	require.NoError(t, err)
	return res.QueueID
}

func Test_ApproveProvision_Given_PendingEntry_When_Approved_Then_RunIsEnqueued(t *testing.T) {
	store := newStore()
	id := submitted(t, store)
	cmd := commands.NewApproveProvision(store, privileged)

	res, err := cmd.Execute(context.Background(), admin, id, dto.ApproveRequest{ApprovalNotes: "parish council ok"})
	require.NoError(t, err)
	require.Equal(t, consts.StatusApproved, res.Status)
	require.Equal(t, consts.StageApproval, res.Stage)

	entry, err := store.GetEntry(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "u-admin", entry.ApprovedBy)
	require.Equal(t, "parish council ok", entry.ApprovalNotes)
	require.NotNil(t, entry.ApprovedAt)
	require.Equal(t, "father.john", entry.Context.Approval.ApproverName)

	logs, err := store.ListStageLogs(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, consts.StageStatusCompleted, logs[1].Status)
	require.Equal(t, consts.StageApproval, logs[2].Stage)
	require.Equal(t, "parish council ok", logs[2].LogData["approvalNotes"])

	msgs, err := store.ClaimEvents(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "ProvisionApproved", msgs[0].Event)
	require.Contains(t, string(msgs[0].Payload), id.String())
}

func Test_ApproveProvision_Given_NonPrivilegedCaller_When_Approving_Then_Forbidden(t *testing.T) {
	store := newStore()
	id := submitted(t, store)

	_, err := commands.NewApproveProvision(store, privileged).Execute(context.Background(), volunteer, id, dto.ApproveRequest{})
	var perm errs.PermissionsError
	require.ErrorAs(t, err, &perm)

	entry, err := store.GetEntry(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, consts.StatusPending, entry.Status)
}

func Test_ApproveProvision_Given_AlreadyApproved_When_ApprovedAgain_Then_Conflict(t *testing.T) {
	store := newStore()
	id := submitted(t, store)
	cmd := commands.NewApproveProvision(store, privileged)

	_, err := cmd.Execute(context.Background(), admin, id, dto.ApproveRequest{})
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background(), admin, id, dto.ApproveRequest{})
	var conflict errs.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = cmd.Execute(context.Background(), admin, uuid.New(), dto.ApproveRequest{})
	var notFound errs.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func Test_CancelProvision_Given_PendingEntry_When_Cancelled_Then_LogsAreClosed(t *testing.T) {
	store := newStore()
	id := submitted(t, store)
	runs := &noRuns{}

	res, err := commands.NewCancelProvision(store, runs, privileged).Execute(context.Background(), admin, id, dto.CancelRequest{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "Provisioning cancelled successfully", res.Message)
	require.Equal(t, consts.StatusCancelled, res.Status)
	require.Equal(t, []uuid.UUID{id}, runs.cancelled)

	entry, err := store.GetEntry(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Cancelled by father.john: No reason provided", entry.ErrorLog[0].Message)
	require.Equal(t, consts.ErrorKindCancelled, entry.ErrorLog[0].Kind)

	logs, err := store.ListStageLogs(context.Background(), id)
	require.NoError(t, err)
	for _, l := range logs {
		require.False(t, l.IsOpen(), "stage %s left open", l.Stage)
	}

	_, err = commands.NewApproveProvision(store, privileged).Execute(context.Background(), admin, id, dto.ApproveRequest{})
	var conflict errs.ConflictError
	require.ErrorAs(t, err, &conflict)

	// a cancelled church may be submitted again
	_, err = commands.NewSubmitProvision(store, &recordingNotifier{}).Execute(context.Background(), admin, dto.SubmitRequest{TenantID: 1})
	require.NoError(t, err)
}

func Test_CancelProvision_Given_TerminalEntry_When_Cancelled_Then_Conflict(t *testing.T) {
	store := newStore()
	id := submitted(t, store)
	cmd := commands.NewCancelProvision(store, &noRuns{}, privileged)

	_, err := cmd.Execute(context.Background(), admin, id, dto.CancelRequest{Reason: "duplicate"})
	require.NoError(t, err)

	_, err = cmd.Execute(context.Background(), admin, id, dto.CancelRequest{Reason: "again"})
	var conflict errs.ConflictError
	require.ErrorAs(t, err, &conflict)

	_, err = cmd.Execute(context.Background(), volunteer, id, dto.CancelRequest{})
	var perm errs.PermissionsError
	require.ErrorAs(t, err, &perm)
}

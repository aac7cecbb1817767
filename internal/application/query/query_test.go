package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/query"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/slug"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	privileged = []consts.Role{consts.RoleAdmin, consts.RoleSupervisor}
	supervisor = entity.Principal{UserID: "u-sup", Username: "anna", Roles: []consts.Role{consts.RoleSupervisor}}
)

var nextTenantID int64

func seed(t *testing.T, store *memstore.Store, n int, language consts.Language) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	base := time.Now().Add(-time.Hour)
	for i := range n {
		nextTenantID++
		tenant := entity.Tenant{ID: nextTenantID, Name: "Church", ContactEmail: "a@b.org"}
		store.SeedTenant(tenant)
		entry := entity.NewQueueEntry(tenant, language, "", tenant.ContactEmail, entity.RequestContext{
			RequestedAt: base.Add(time.Duration(i) * time.Minute),
			Tenant:      tenant.Snapshot(),
		})
		logs := entity.NewSubmissionLogs(entry.ID, "seed", nil, entry.CreatedAt)
		require.NoError(t, store.Submit(context.Background(), entry, slug.Normalize(tenant.Name), logs))
		ids = append(ids, entry.ID)
	}
	return ids
}

func Test_ListQueue_Given_Entries_When_Paginated_Then_NewestFirst(t *testing.T) {
	store := memstore.New()
	ids := seed(t, store, 5, consts.LanguageEnglish)
	q := query.NewListQueue(store, privileged)

	res, err := q.Query(context.Background(), supervisor, dto.ListQueueParams{Limit: "2", Offset: "1"})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	require.Equal(t, ids[3], res.Data[0].ID)
	require.Equal(t, ids[2], res.Data[1].ID)
	require.Equal(t, dto.Pagination{Total: 5, Limit: 2, Offset: 1, HasMore: true}, res.Pagination)
	require.Equal(t, "Church", res.Data[0].ChurchName)

	res, err = q.Query(context.Background(), supervisor, dto.ListQueueParams{Offset: "4"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	require.False(t, res.Pagination.HasMore)
	require.Equal(t, query.DefaultLimit, res.Pagination.Limit)
}

func Test_ListQueue_Given_Filters_When_Queried_Then_OnlyMatchingEntries(t *testing.T) {
	store := memstore.New()
	seed(t, store, 2, consts.LanguageEnglish)
	seed(t, store, 3, consts.LanguageRomanian)
	q := query.NewListQueue(store, privileged)

	res, err := q.Query(context.Background(), supervisor, dto.ListQueueParams{Language: "ro", Status: "all"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Pagination.Total)
	for _, item := range res.Data {
		require.Equal(t, consts.LanguageRomanian, item.LanguagePreference)
	}

	res, err = q.Query(context.Background(), supervisor, dto.ListQueueParams{Status: "provisioned"})
	require.NoError(t, err)
	require.Empty(t, res.Data)
	require.NotNil(t, res.Data)

	res, err = q.Query(context.Background(), supervisor, dto.ListQueueParams{Limit: "1000"})
	require.NoError(t, err)
	require.Equal(t, query.MaxLimit, res.Pagination.Limit)
}

func Test_ListQueue_Given_BadParams_When_Queried_Then_ValidationError(t *testing.T) {
	q := query.NewListQueue(memstore.New(), privileged)
	for _, params := range []dto.ListQueueParams{
		{Status: "archived"},
		{Stage: "deploy"},
		{Language: "fr"},
		{Limit: "0"},
		{Limit: "ten"},
		{Offset: "-1"},
	} {
		_, err := q.Query(context.Background(), supervisor, params)
		var invalid errs.ValidationError
		require.ErrorAs(t, err, &invalid, "params %+v", params)
	}

	_, err := q.Query(context.Background(), entity.Principal{UserID: "x"}, dto.ListQueueParams{})
	var perm errs.PermissionsError
	require.ErrorAs(t, err, &perm)
}

func Test_GetStatus_Given_Entry_When_Queried_Then_StagesInOrder(t *testing.T) {
	store := memstore.New()
	ids := seed(t, store, 1, consts.LanguageRussian)

	res, err := query.NewGetStatus(store).Query(context.Background(), ids[0])
	require.NoError(t, err)
	require.Equal(t, ids[0], res.Queue.ID)
	require.Len(t, res.Stages, 2)
	require.Equal(t, consts.StageSubmission, res.Stages[0].Stage)
	require.Equal(t, consts.StagePendingReview, res.Stages[1].Stage)

	_, err = query.NewGetStatus(store).Query(context.Background(), uuid.New())
	var notFound errs.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

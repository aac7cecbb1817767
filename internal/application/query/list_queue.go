package query

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type ListQueue struct {
	store      interfaces.QueueStore
	privileged []consts.Role
}

func NewListQueue(store interfaces.QueueStore, privileged []consts.Role) *ListQueue {
	return &ListQueue{store: store, privileged: privileged}
}

func (q *ListQueue) Query(ctx context.Context, principal entity.Principal, params dto.ListQueueParams) (*dto.ListQueueResponse, error) {
	if !principal.HasAnyRole(q.privileged...) {
		return nil, errs.PermissionsError{Err: errors.New("listing the provision queue requires a privileged role")}
	}
	filter, err := parseFilter(params)
	if err != nil {
		return nil, err
	}

	items, total, err := q.store.ListEntries(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []entity.QueueListItem{}
	}

	return &dto.ListQueueResponse{
		Data: items,
		Pagination: dto.Pagination{
			Total:   total,
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			HasMore: filter.Offset+len(items) < total,
		},
	}, nil
}

func parseFilter(params dto.ListQueueParams) (entity.QueueFilter, error) {
	filter := entity.QueueFilter{Limit: DefaultLimit}

	if v := normalizeFilter(params.Status); v != "" {
		filter.Status = consts.QueueStatus(v)
		if !filter.Status.Valid() {
			return filter, errs.Invalid("status", "unknown status %q", params.Status)
		}
	}
	if v := normalizeFilter(params.Stage); v != "" {
		filter.Stage = consts.Stage(v)
		if !filter.Stage.Valid() {
			return filter, errs.Invalid("stage", "unknown stage %q", params.Stage)
		}
	}
	if v := normalizeFilter(params.Language); v != "" {
		filter.Language = consts.Language(v)
		if !filter.Language.Valid() {
			return filter, errs.Invalid("language", "unknown language %q", params.Language)
		}
	}

	if params.Limit != "" {
		limit, err := strconv.Atoi(params.Limit)
		if err != nil || limit < 1 {
			return filter, errs.Invalid("limit", "must be a positive integer")
		}
		filter.Limit = min(limit, MaxLimit)
	}
	if params.Offset != "" {
		offset, err := strconv.Atoi(params.Offset)
		if err != nil || offset < 0 {
			return filter, errs.Invalid("offset", "must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

func normalizeFilter(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "all" {
		return ""
	}
	return v
}

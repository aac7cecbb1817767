package query

import (
	"context"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/dto"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/google/uuid"
)

type GetStatus struct {
	store interfaces.QueueStore
}

func NewGetStatus(store interfaces.QueueStore) *GetStatus {
	return &GetStatus{store: store}
}

func (q *GetStatus) Query(ctx context.Context, queueID uuid.UUID) (*dto.StatusResponse, error) {
	entry, err := q.store.GetEntry(ctx, queueID)
	if err != nil {
		return nil, err
	}
	stages, err := q.store.ListStageLogs(ctx, queueID)
	if err != nil {
		return nil, err
	}
	return &dto.StatusResponse{
		Queue:  *entry,
		Stages: stages,
	}, nil
}

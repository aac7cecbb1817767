package processors

import (
	"context"
	"sync"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/google/uuid"
)

// RunRegistry tracks the cancel functions of the runs executing in this process.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]context.CancelCauseFunc
}

var _ interfaces.RunCanceller = (*RunRegistry)(nil)

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[uuid.UUID]context.CancelCauseFunc)}
}

func (r *RunRegistry) register(queueID uuid.UUID, cancel context.CancelCauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[queueID] = cancel
}

func (r *RunRegistry) unregister(queueID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, queueID)
}

func (r *RunRegistry) CancelRun(queueID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.runs[queueID]
	r.mu.Unlock()
	if ok {
		cancel(errs.ErrRunCancelled)
	}
	return ok
}

func (r *RunRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

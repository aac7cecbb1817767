package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/events"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/entity"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/config"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/metrics"
	"github.com/google/uuid"
)

// Orchestrator drives the pipeline stages of one queue entry at a time.
// Runs are claimed through a lease so at most one orchestrator writes to an
// entry, and every write after the claim is conditional on that lease.
type Orchestrator struct {
	cfg         *config.ProvisionConfig
	store       interfaces.ProvisionStore
	provisioner interfaces.SiteProvisioner
	tester      interfaces.SiteTester
	issuer      interfaces.CredentialIssuer
	notifier    interfaces.Notifier
	runs        *RunRegistry
	policies    map[consts.Stage]StagePolicy
	now         func() time.Time
}

func NewOrchestrator(
	cfg *config.ProvisionConfig, store interfaces.ProvisionStore, runs *RunRegistry,
	provisioner interfaces.SiteProvisioner, tester interfaces.SiteTester,
	issuer interfaces.CredentialIssuer, notifier interfaces.Notifier,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		provisioner: provisioner,
		tester:      tester,
		issuer:      issuer,
		notifier:    notifier,
		runs:        runs,
		policies:    NewStagePolicies(cfg),
		now:         time.Now,
	}
}

// runState is what later stages need from earlier ones. Plaintext
// credentials live here only and are never persisted.
type runState struct {
	entry   *entity.QueueEntry
	context entity.ProvisionContext
	secrets *interfaces.Credentials
}

type stageOutcome struct {
	Context     entity.ProvisionContext
	Credentials *entity.CredentialHashes
	Secrets     *interfaces.Credentials
	Errors      []entity.ErrorEvent
	LogData     map[string]any
}

func (o *Orchestrator) Handle(ctx context.Context, event events.ProvisionApproved) error {
	return o.Run(ctx, event.QueueID)
}

// Run executes the remaining stages of queueID. A nil result means the entry
// needs no further delivery: it reached a terminal state, was not runnable,
// or is owned by someone else now. Errors are errs.RetryableError.
func (o *Orchestrator) Run(ctx context.Context, queueID uuid.UUID) error {
	lease := entity.Lease{
		QueueID: queueID,
		Owner:   fmt.Sprintf("%s/%s", o.cfg.WorkerID, uuid.NewString()),
		TTL:     o.cfg.LeaseTTL,
	}

	entry, claimed, err := o.store.Claim(ctx, lease)
	if err != nil {
		var notFound errs.NotFoundError
		if errors.As(err, &notFound) {
			slog.Warn("queue entry does not exist, skipping run", "queueID", queueID)
			return nil
		}
		return errs.RetryableError{Err: fmt.Errorf("claiming %s: %w", queueID, err)}
	}
	if !claimed {
		slog.Info("queue entry is not runnable, skipping", "queueID", queueID, "status", entry.Status)
		return nil
	}
	metrics.RecordTransition(string(consts.StatusProvisioning))
	slog.Info("claimed queue entry", "queueID", queueID, "owner", lease.Owner)

	// work ends only on operator cancellation or a lost lease. Shutdown of
	// ctx is honoured between stages so a collaborator call is never cut off.
	work, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	o.runs.register(queueID, cancel)
	stopHeartbeat := o.heartbeat(work, lease, cancel)
	defer func() {
		stopHeartbeat()
		o.runs.unregister(queueID)
		cancel(nil)
	}()

	return o.finish(queueID, o.run(ctx, work, lease, entry))
}

func (o *Orchestrator) run(ctx, work context.Context, lease entity.Lease, entry *entity.QueueEntry) error {
	logs, err := o.store.ListStageLogs(work, entry.ID)
	if err != nil {
		return err
	}
	state := &runState{entry: entry, context: entry.Context}

	start, err := o.resume(work, lease, logs)
	if err != nil {
		return err
	}

	for _, stage := range consts.PipelineStages[start:] {
		if err = o.checkpoint(ctx, work, lease); err != nil {
			return err
		}
		if err = o.runStage(work, lease, stage, state); err != nil {
			return err
		}
	}
	if err = o.checkpoint(ctx, work, lease); err != nil {
		return err
	}

	now := o.now()
	final := entity.NewStageLog(entry.ID, consts.StageCompleted, consts.StageStatusInProgress, now)
	data := map[string]any{"siteSlug": entry.SiteSlug}
	if state.context.Site != nil {
		data["siteUrl"] = state.context.Site.SiteURL
	}
	final.Complete(now, data)
	if err = o.store.CompleteRun(work, lease, final); err != nil {
		return err
	}
	metrics.RecordTransition(string(consts.StatusProvisioned))
	slog.Info("church provisioned", "queueID", entry.ID, "slug", entry.SiteSlug)
	return nil
}

// heartbeat renews the lease every third of its TTL until the returned stop
// is called. A lost lease cancels the run so its collaborators stop too.
func (o *Orchestrator) heartbeat(ctx context.Context, lease entity.Lease, cancel context.CancelCauseFunc) func() {
	beatCtx, halt := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(max(lease.TTL/3, time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-beatCtx.Done():
				return
			case <-t.C:
			}
			err := o.store.ExtendLease(beatCtx, lease)
			switch {
			case err == nil:
			case errors.Is(err, errs.ErrLeaseLost):
				cause := errs.ErrLeaseLost
				if entry, getErr := o.store.GetEntry(beatCtx, lease.QueueID); getErr == nil && entry.Status == consts.StatusCancelled {
					cause = errs.ErrRunCancelled
				}
				slog.Warn("lease renewal refused, stopping run", "queueID", lease.QueueID, "cause", cause)
				cancel(cause)
				return
			case beatCtx.Err() == nil:
				slog.Warn("error renewing lease", "queueID", lease.QueueID, "err", err)
			}
		}
	}()
	return func() {
		halt()
		<-done
	}
}

// resume returns the index of the first pipeline stage without a completed
// log. Logs left in progress by a crashed run are closed as abandoned; if
// such a stage is not resumable the entry fails instead.
func (o *Orchestrator) resume(ctx context.Context, lease entity.Lease, logs []entity.StageLog) (int, error) {
	completed := make(map[consts.Stage]bool)
	for _, l := range logs {
		if l.Status == consts.StageStatusCompleted {
			completed[l.Stage] = true
		}
	}
	start := 0
	for start < len(consts.PipelineStages) && completed[consts.PipelineStages[start]] {
		start++
	}

	for _, l := range logs {
		if l.Status != consts.StageStatusInProgress {
			continue
		}
		now := o.now()
		message := fmt.Sprintf("stage %s was interrupted by a previous run", l.Stage)
		l.Fail(now, message, map[string]any{"kind": consts.ErrorKindAbandoned})
		slog.Warn("closing abandoned stage", "queueID", lease.QueueID, "stage", l.Stage)

		if o.policies[l.Stage].Resumable {
			if err := o.store.CloseStage(ctx, l); err != nil {
				return 0, err
			}
			continue
		}
		stageErr := errs.StageExecutionError{
			Stage: l.Stage,
			Kind:  consts.ErrorKindAbandoned,
			Err:   errors.New(message + " and cannot be repeated safely, manual cleanup required"),
		}
		event := entity.ErrorEvent{At: now, Stage: l.Stage, Kind: consts.ErrorKindAbandoned, Message: stageErr.Err.Error()}
		if err := o.store.FailStage(ctx, lease, &l, event); err != nil {
			return 0, err
		}
		metrics.RecordTransition(string(consts.StatusFailed))
		return 0, stageErr
	}
	return start, nil
}

// checkpoint stops the run when it was cancelled in this process, the
// entry left provisioning elsewhere, or ctx ended because the worker is
// shutting down. On shutdown the lease is released so the redelivered event
// can resume at once.
func (o *Orchestrator) checkpoint(ctx, work context.Context, lease entity.Lease) error {
	if cause := context.Cause(work); cause != nil {
		return cause
	}
	if err := ctx.Err(); err != nil {
		release := entity.Lease{QueueID: lease.QueueID, Owner: lease.Owner}
		if relErr := o.store.ExtendLease(work, release); relErr != nil {
			slog.Warn("error releasing lease", "queueID", lease.QueueID, "err", relErr)
		}
		slog.Info("worker shutting down, run paused between stages", "queueID", lease.QueueID)
		return err
	}
	entry, err := o.store.GetEntry(work, lease.QueueID)
	if err != nil {
		return err
	}
	switch {
	case entry.Status == consts.StatusCancelled:
		return errs.ErrRunCancelled
	case entry.Status != consts.StatusProvisioning || entry.LeaseOwner != lease.Owner:
		return errs.ErrLeaseLost
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, lease entity.Lease, stage consts.Stage, state *runState) error {
	started := o.now()
	log := entity.NewStageLog(lease.QueueID, stage, consts.StageStatusInProgress, started)
	if err := o.store.StartStage(ctx, lease, log); err != nil {
		return err
	}
	slog.Info("stage started", "queueID", lease.QueueID, "stage", stage)

	outcome, attempts, err := o.execute(ctx, stage, state)
	finished := o.now()
	elapsed := finished.Sub(started).Seconds()
	log.Attempts = attempts

	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			if !errors.Is(cause, errs.ErrRunCancelled) {
				return o.lost(ctx, log, cause)
			}
			log.Fail(finished, "cancelled while running", map[string]any{"kind": consts.ErrorKindCancelled})
			metrics.RecordStage(string(stage), "cancelled", elapsed)
			slog.Info("stage cancelled", "queueID", lease.QueueID, "stage", stage)
			return errors.Join(errs.ErrRunCancelled, o.store.CloseStage(context.WithoutCancel(ctx), log))
		}

		kind := classify(err)
		stageErr := errs.StageExecutionError{Stage: stage, Kind: kind, Attempts: attempts, Err: err}
		data := outcome.LogData
		if data == nil {
			data = map[string]any{}
		}
		data["kind"] = kind
		log.Fail(finished, err.Error(), data)
		event := entity.ErrorEvent{At: finished, Stage: stage, Kind: kind, Message: err.Error()}
		if failErr := o.store.FailStage(ctx, lease, &log, event); failErr != nil {
			return o.lost(ctx, log, failErr)
		}
		metrics.RecordStage(string(stage), "failed", elapsed)
		metrics.RecordTransition(string(consts.StatusFailed))
		return stageErr
	}

	log.Complete(finished, outcome.LogData)
	patch := entity.EntryPatch{
		Context:     &outcome.Context,
		Credentials: outcome.Credentials,
		Errors:      outcome.Errors,
	}
	if err = o.store.CompleteStage(ctx, lease, log, patch); err != nil {
		return o.lost(ctx, log, err)
	}

	state.context = outcome.Context
	if outcome.Secrets != nil {
		state.secrets = outcome.Secrets
	}
	metrics.RecordStage(string(stage), "completed", elapsed)
	slog.Info("stage completed", "queueID", lease.QueueID, "stage", stage, "attempts", attempts, "durationMs", *log.DurationMs)
	return nil
}

// lost closes log when the lease is gone so no stage stays in progress.
func (o *Orchestrator) lost(ctx context.Context, log entity.StageLog, err error) error {
	if !errors.Is(err, errs.ErrLeaseLost) {
		return err
	}
	log.Fail(o.now(), "entry left provisioning while the stage was running", map[string]any{"kind": consts.ErrorKindLeaseLost})
	return errors.Join(err, o.store.CloseStage(context.WithoutCancel(ctx), log))
}

func (o *Orchestrator) finish(queueID uuid.UUID, err error) error {
	var stageErr errs.StageExecutionError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrRunCancelled):
		slog.Info("provisioning run cancelled", "queueID", queueID)
		return nil
	case errors.Is(err, errs.ErrLeaseLost):
		slog.Warn("provisioning run lost its lease", "queueID", queueID, "err", err)
		return nil
	case errors.As(err, &stageErr):
		slog.Error("provisioning failed", "queueID", queueID, "stage", stageErr.Stage, "kind", stageErr.Kind, "err", stageErr.Err)
		return nil
	default:
		slog.Error("provisioning run interrupted", "queueID", queueID, "err", err)
		return errs.RetryableError{Err: err}
	}
}

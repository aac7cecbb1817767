package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/config"
	"github.com/cenkalti/backoff/v4"
)

// StagePolicy bounds the attempts of one stage. Idempotent stages are
// retried on any failure; the others only when the collaborator returned
// errs.RetryableError. Resumable stages are re-run when a crashed run left
// them in progress.
type StagePolicy struct {
	MaxAttempts int
	Idempotent  bool
	Resumable   bool
}

func (p StagePolicy) retryable(err error) bool {
	if p.Idempotent {
		return true
	}
	return errs.IsRetryable(err)
}

func NewStagePolicies(cfg *config.ProvisionConfig) map[consts.Stage]StagePolicy {
	attempts := max(cfg.MaxAttempts, 1)
	return map[consts.Stage]StagePolicy{
		consts.StageProvisionSite:     {MaxAttempts: attempts},
		consts.StageTestSite:          {MaxAttempts: attempts, Idempotent: true, Resumable: true},
		consts.StageCreateCredentials: {MaxAttempts: attempts},
		consts.StageNotifyChurch:      {MaxAttempts: attempts, Resumable: true},
	}
}

type timeoutError struct {
	err error
}

func (t timeoutError) Error() string {
	return fmt.Sprintf("stage timed out: %v", t.err)
}

func (t timeoutError) Unwrap() error { return t.err }

type testFailedError struct {
	score any
}

func (t testFailedError) Error() string {
	return fmt.Sprintf("site checks did not pass (score %v)", t.score)
}

func classify(err error) consts.ErrorKind {
	var timeout timeoutError
	var testFailed testFailedError
	switch {
	case errors.As(err, &timeout):
		return consts.ErrorKindTimeout
	case errors.As(err, &testFailed):
		return consts.ErrorKindTestFailed
	default:
		return consts.ErrorKindCollaborator
	}
}

type attemptFunc func(ctx context.Context) (stageOutcome, error)

// attempt runs fn under the stage timeout until it succeeds, the policy
// gives up or ctx ends. The outcome of the last attempt is returned even on
// failure so its diagnostics reach the stage log.
func (o *Orchestrator) attempt(ctx context.Context, stage consts.Stage, fn attemptFunc) (stageOutcome, int, error) {
	policy := o.policies[stage]

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialBackoff
	b.MaxInterval = o.cfg.MaxBackoff
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	retries := uint64(max(policy.MaxAttempts, 1) - 1)
	bo := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	var (
		outcome  stageOutcome
		attempts int
		lastErr  error
	)
	op := func() error {
		attempts++
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()

		res, err := fn(stageCtx)
		outcome = res
		if err == nil {
			lastErr = nil
			return nil
		}
		if ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			err = timeoutError{err: err}
		}
		lastErr = err
		if ctx.Err() != nil || !policy.retryable(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("stage attempt failed", "stage", stage, "attempt", attempts, "err", err)
		return err
	}

	err := backoff.Retry(op, bo)
	if err != nil && lastErr != nil {
		// the backoff returns ctx.Err() when interrupted between attempts
		err = lastErr
	}
	return outcome, attempts, err
}

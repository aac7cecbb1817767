package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/events"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/metrics"
	"github.com/Builder-Lawyers/church-provisioner/pkg/env"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

type OutboxPoller struct {
	processors *application.Processors
	outbox     interfaces.Outbox
	cfg        *OutboxConfig
	now        func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}

	workers *errgroup.Group
	size    int
	busy    atomic.Int32
	freed   chan struct{}
}

type OutboxConfig struct {
	Limit    int
	Interval time.Duration
	Workers  int
	// Lease should outlast a whole provisioning run. A redelivery while
	// the run is going finds the entry leased and is retried later.
	Lease        time.Duration
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func NewOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		Limit:        env.GetEnvInt("SCHEDULER_LIMIT", 5),
		Interval:     env.GetEnvDuration("SCHEDULER_INTERVAL", 5*time.Second),
		Workers:      env.GetEnvInt("SCHEDULER_WORKERS", 4),
		Lease:        env.GetEnvDuration("SCHEDULER_LEASE", 15*time.Minute),
		MaxAttempts:  env.GetEnvInt("SCHEDULER_MAX_ATTEMPTS", 10),
		RetryInitial: env.GetEnvDuration("SCHEDULER_RETRY_INITIAL", 5*time.Second),
		RetryMax:     env.GetEnvDuration("SCHEDULER_RETRY_MAX", 5*time.Minute),
	}
}

func NewOutboxPoller(processors *application.Processors, outbox interfaces.Outbox, cfg *OutboxConfig) *OutboxPoller {
	ctx, cancel := context.WithCancel(context.Background())
	size := max(cfg.Workers, 1)
	workers := new(errgroup.Group)
	workers.SetLimit(size)
	return &OutboxPoller{
		processors: processors,
		outbox:     outbox,
		cfg:        cfg,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		workers:    workers,
		size:       size,
		freed:      make(chan struct{}, 1),
	}
}

// Start polls until Stop is called. It blocks and may be called once.
// Events are claimed only for idle workers, so a long run never holds back
// the events behind it.
func (o *OutboxPoller) Start() {
	if !o.started.CompareAndSwap(false, true) {
		return
	}
	defer close(o.done)
	ctx := o.ctx

	slog.Info("Starting outbox poller...", "workers", o.size, "interval", o.cfg.Interval)
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-o.freed:
		case <-ctx.Done():
			o.wait()
			return
		}
		// drain the table while workers are idle
		if full := o.pollTable(ctx); full {
			t.Reset(0)
		} else {
			t.Reset(o.cfg.Interval)
		}
	}
}

// Stop ends polling and waits for in-flight handlers to record their outcome.
// Handlers see a cancelled context; a provisioning run finishes its current
// stage first.
func (o *OutboxPoller) Stop() {
	slog.Info("Stopping poller")
	o.cancel()
	if o.started.Load() {
		<-o.done
	}
}

// pollTable claims up to one event per idle worker and hands them out
// without waiting for them. It reports whether every requested event came
// back, meaning more are probably waiting.
func (o *OutboxPoller) pollTable(ctx context.Context) bool {
	idle := o.size - int(o.busy.Load())
	if idle <= 0 {
		slog.Debug("all workers busy")
		return false
	}
	want := min(o.cfg.Limit, idle)
	msgs, err := o.outbox.ClaimEvents(ctx, want, o.cfg.Lease)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("error in poller", "err", err)
		}
		return false
	}
	if len(msgs) == 0 {
		slog.Debug("no events to process")
		return false
	}

	for _, msg := range msgs {
		o.busy.Add(1)
		o.workers.Go(func() error {
			defer o.release()
			if err := o.handleEvent(ctx, msg); err != nil {
				slog.Error("handler error", "event", msg.ID, "err", err)
			}
			return nil
		})
	}
	slog.Debug("dispatched events", "events", len(msgs), "busy", o.busy.Load())
	return len(msgs) == want
}

func (o *OutboxPoller) release() {
	o.busy.Add(-1)
	select {
	case o.freed <- struct{}{}:
	default:
	}
}

// wait blocks until every dispatched handler has returned.
func (o *OutboxPoller) wait() {
	_ = o.workers.Wait()
}

func (o *OutboxPoller) handleEvent(ctx context.Context, msg interfaces.OutboxMessage) error {
	slog.Info("Handling event", "event", msg.Event, "id", msg.ID, "attempt", msg.Attempts)

	var err error
	switch msg.Event {
	case events.ProvisionApproved{}.GetType():
		var event events.ProvisionApproved
		if err = json.Unmarshal(msg.Payload, &event); err != nil {
			err = fmt.Errorf("err unmarshalling %s payload, %w", msg.Event, err)
			break
		}
		err = o.processors.ProvisionApproved.Handle(ctx, event)
	default:
		err = fmt.Errorf("no processor for event %q", msg.Event)
	}

	// outcomes are recorded even when the poller is shutting down
	writeCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		metrics.RecordOutboxEvent(msg.Event, "processed")
		if err = o.outbox.MarkProcessed(writeCtx, msg.ID); err != nil {
			return err
		}
		slog.Info("processed event", "id", msg.ID)
		return nil
	case errs.IsRetryable(err) && msg.Attempts < o.cfg.MaxAttempts:
		next := o.now().Add(o.retryDelay(msg.Attempts))
		metrics.RecordOutboxEvent(msg.Event, "retry")
		slog.Warn("event will be retried", "id", msg.ID, "attempt", msg.Attempts, "nextRunAt", next, "err", err)
		return errors.Join(err, o.outbox.MarkRetry(writeCtx, msg.ID, err.Error(), next))
	default:
		metrics.RecordOutboxEvent(msg.Event, "failed")
		slog.Error("event failed permanently", "id", msg.ID, "attempt", msg.Attempts, "err", err)
		return errors.Join(err, o.outbox.MarkFailed(writeCtx, msg.ID, err.Error()))
	}
}

// retryDelay is the exponential backoff interval after the given attempt.
func (o *OutboxPoller) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInitial
	b.MaxInterval = o.cfg.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

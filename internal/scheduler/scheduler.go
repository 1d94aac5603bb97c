package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobInvoiceDue  = "invoice_due"
	JobInvoiceSync = "invoice_sync"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log             *zap.Logger
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Clock           clock.Clock
	Config          Config `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.InvoiceSvc == nil || p.SubscriptionSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		// The next tick resumes where this one stopped.
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobInvoiceDue, s.InvoiceDueJob},
		{JobInvoiceSync, s.InvoiceSyncJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// InvoiceDueJob generates invoices for every subscription whose period has
// ended. A subscription several periods behind is invoiced once per pass
// until it catches up.
func (s *Scheduler) InvoiceDueJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobInvoiceDue, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	skip := make(map[snowflake.ID]struct{})
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		due, err := s.subscriptionSvc.ListDue(ctx, s.clock.Now(), s.cfg.BatchSize+len(skip))
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.invoice_due.list_failed", JobInvoiceDue, "", err)
			return errors.Join(jobErr, err)
		}

		progressed := false
		for _, sub := range due {
			if _, ok := skip[sub.ID]; ok {
				continue
			}
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}

			result, err := s.invoiceSvc.Generate(ctx, sub.ID.String())
			switch {
			case err == nil && result.Existing:
				// Another worker closed this period between list and generate.
				schedMetrics.IncBatchItem(JobInvoiceDue, obsmetrics.BatchResultSkipped)
				skip[sub.ID] = struct{}{}
			case err == nil:
				schedMetrics.IncBatchItem(JobInvoiceDue, obsmetrics.BatchResultSucceeded)
				run.AddProcessed(1)
				progressed = true
			case errors.Is(err, invoicedomain.ErrGenerationInFlight):
				schedMetrics.IncBatchItem(JobInvoiceDue, obsmetrics.BatchResultSkipped)
				skip[sub.ID] = struct{}{}
			default:
				schedMetrics.IncBatchItem(JobInvoiceDue, obsmetrics.BatchResultFailed)
				skip[sub.ID] = struct{}{}
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.invoice_due.generate_failed", JobInvoiceDue, sub.TenantID, err,
					zap.String("subscription_id", sub.ID.String()),
				)
			}
		}
		if !progressed {
			return jobErr
		}
	}
}

// InvoiceSyncJob retries processor pushes that have not succeeded yet.
func (s *Scheduler) InvoiceSyncJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobInvoiceSync, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	result, err := s.invoiceSvc.SyncPending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.invoice_sync.failed", JobInvoiceSync, "", err)
		return err
	}
	run.AddProcessed(result.Synced)
	for i := 0; i < result.Synced; i++ {
		schedMetrics.IncBatchItem(JobInvoiceSync, obsmetrics.BatchResultSucceeded)
	}
	for i := 0; i < result.Failed; i++ {
		run.IncError()
		schedMetrics.IncBatchItem(JobInvoiceSync, obsmetrics.BatchResultFailed)
	}
	return nil
}

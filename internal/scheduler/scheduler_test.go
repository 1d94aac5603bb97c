package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/creditledger/internal/clock"
	invoicedomain "github.com/smallbiznis/creditledger/internal/invoice/domain"
	obscontext "github.com/smallbiznis/creditledger/internal/observability/context"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// -- Mocks --

type invoiceServiceMock struct {
	invoicedomain.Service
	mock.Mock
}

func (m *invoiceServiceMock) Generate(ctx context.Context, subscriptionID string) (*invoicedomain.GenerateResult, error) {
	args := m.Called(ctx, subscriptionID)
	res, _ := args.Get(0).(*invoicedomain.GenerateResult)
	return res, args.Error(1)
}

func (m *invoiceServiceMock) SyncPending(ctx context.Context, limit int) (invoicedomain.SyncResult, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(invoicedomain.SyncResult), args.Error(1)
}

type subscriptionServiceMock struct {
	subscriptiondomain.Service
	mock.Mock
}

func (m *subscriptionServiceMock) ListDue(ctx context.Context, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	args := m.Called(ctx, now, limit)
	res, _ := args.Get(0).([]subscriptiondomain.Subscription)
	return res, args.Error(1)
}

func due(ids ...int64) []subscriptiondomain.Subscription {
	out := make([]subscriptiondomain.Subscription, 0, len(ids))
	for _, id := range ids {
		sid := snowflake.ID(id)
		out = append(out, subscriptiondomain.Subscription{ID: sid, TenantID: "tenant-" + sid.String()})
	}
	return out
}

func generated(id int64) *invoicedomain.GenerateResult {
	return &invoicedomain.GenerateResult{Invoice: invoicedomain.Invoice{SubscriptionID: snowflake.ID(id)}}
}

func newTestScheduler(t *testing.T, invoices *invoiceServiceMock, subs *subscriptionServiceMock, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:             zap.NewNop(),
		InvoiceSvc:      invoices,
		SubscriptionSvc: subs,
		Clock:           clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
		Config:          cfg,
	})
	require.NoError(t, err)
	return s
}

func TestInvoiceDueJobCatchesUpAndIsolatesFailures(t *testing.T) {
	invoices := &invoiceServiceMock{}
	subs := &subscriptionServiceMock{}

	// Subscription 1 is three periods behind; 3 fails and is skipped for the
	// rest of the pass.
	subs.On("ListDue", mock.Anything, mock.Anything, 2).Return(due(1, 2), nil).Once()
	subs.On("ListDue", mock.Anything, mock.Anything, 2).Return(due(1, 3), nil).Once()
	subs.On("ListDue", mock.Anything, mock.Anything, 3).Return(due(1, 3), nil).Once()
	subs.On("ListDue", mock.Anything, mock.Anything, 3).Return(due(3), nil).Once()
	invoices.On("Generate", mock.Anything, "1").Return(generated(1), nil).Times(3)
	invoices.On("Generate", mock.Anything, "2").Return(generated(2), nil).Once()
	invoices.On("Generate", mock.Anything, "3").Return(nil, errors.New("plan lookup failed")).Once()

	s := newTestScheduler(t, invoices, subs, Config{BatchSize: 2})
	err := s.InvoiceDueJob(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan lookup failed")

	invoices.AssertExpectations(t)
	subs.AssertExpectations(t)
	invoices.AssertNumberOfCalls(t, "Generate", 5)
}

func TestInvoiceDueJobSkipsInFlightGeneration(t *testing.T) {
	invoices := &invoiceServiceMock{}
	subs := &subscriptionServiceMock{}
	subs.On("ListDue", mock.Anything, mock.Anything, 25).Return(due(7), nil).Once()
	invoices.On("Generate", mock.Anything, "7").Return(nil, invoicedomain.ErrGenerationInFlight).Once()

	s := newTestScheduler(t, invoices, subs, Config{})
	require.NoError(t, s.InvoiceDueJob(context.Background()))

	invoices.AssertExpectations(t)
	subs.AssertExpectations(t)
}

func TestInvoiceDueJobSkipsAlreadyInvoiced(t *testing.T) {
	invoices := &invoiceServiceMock{}
	subs := &subscriptionServiceMock{}
	subs.On("ListDue", mock.Anything, mock.Anything, 25).Return(due(8), nil).Once()
	invoices.On("Generate", mock.Anything, "8").
		Return(&invoicedomain.GenerateResult{Invoice: invoicedomain.Invoice{SubscriptionID: 8}, Existing: true}, nil).Once()

	s := newTestScheduler(t, invoices, subs, Config{})
	require.NoError(t, s.InvoiceDueJob(context.Background()))

	invoices.AssertExpectations(t)
	subs.AssertExpectations(t)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	tests := []struct {
		name    string
		jobs    []string
		setup   func(*invoiceServiceMock, *subscriptionServiceMock)
		wantErr string
	}{
		{
			name: "invoice due only",
			jobs: []string{"invoice_due"},
			setup: func(invoices *invoiceServiceMock, subs *subscriptionServiceMock) {
				subs.On("ListDue", mock.Anything, mock.Anything, 25).Return(due(1), nil).Once()
				subs.On("ListDue", mock.Anything, mock.Anything, 25).Return(nil, nil).Once()
				invoices.On("Generate", mock.Anything, "1").Return(generated(1), nil).Once()
			},
		},
		{
			name: "invoice sync only",
			jobs: []string{" INVOICE_SYNC "},
			setup: func(invoices *invoiceServiceMock, _ *subscriptionServiceMock) {
				invoices.On("SyncPending", mock.Anything, 25).
					Return(invoicedomain.SyncResult{}, errors.New("sync down")).Once()
			},
			wantErr: "invoice_sync: sync down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoices := &invoiceServiceMock{}
			subs := &subscriptionServiceMock{}
			tt.setup(invoices, subs)

			s := newTestScheduler(t, invoices, subs, Config{EnabledJobs: tt.jobs})
			err := s.RunOnce(context.Background())
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}

			invoices.AssertExpectations(t)
			subs.AssertExpectations(t)
		})
	}
}

func TestInvoiceSyncJobCountsFailures(t *testing.T) {
	invoices := &invoiceServiceMock{}
	invoices.On("SyncPending", mock.Anything, 25).
		Return(invoicedomain.SyncResult{Attempted: 3, Synced: 2, Failed: 1}, nil).Once()

	s := newTestScheduler(t, invoices, &subscriptionServiceMock{}, Config{})
	ctx, run, owner := s.ensureJobRun(context.Background(), JobInvoiceSync, 10)
	require.True(t, owner)
	require.NoError(t, s.InvoiceSyncJob(ctx))
	assert.Equal(t, 2, run.processedCount)
	assert.Equal(t, 1, run.errorCount)
	invoices.AssertExpectations(t)
}

func TestJobRunIDsAreSortable(t *testing.T) {
	s := newTestScheduler(t, &invoiceServiceMock{}, &subscriptionServiceMock{}, Config{})

	ctx, first, owner := s.ensureJobRun(context.Background(), JobInvoiceDue, 10)
	require.True(t, owner)
	_, err := ulid.ParseStrict(first.runID)
	require.NoError(t, err)
	assert.Equal(t, first.runID, obscontext.RequestIDFromContext(ctx))

	_, nested, owner := s.ensureJobRun(ctx, JobInvoiceSync, 10)
	assert.False(t, owner)
	assert.Same(t, first, nested)

	_, second, _ := s.ensureJobRun(context.Background(), JobInvoiceDue, 10)
	assert.NotEqual(t, first.runID, second.runID)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "creditledger",
		Environment: "test",
	})

	s := &Scheduler{log: zap.NewNop(), clock: clock.NewFakeClock(time.Time{})}
	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "creditledger",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "creditledger_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "creditledger",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "creditledger_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

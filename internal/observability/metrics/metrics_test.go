package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsTenantLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tenant_id", "123"),
		attribute.String("event_type", "optimizer_job"),
		attribute.String("subscription_id", "456"),
		attribute.String("result", "created"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("event_type"), attrs[0].Key)
	assert.Equal(t, attribute.Key("result"), attrs[1].Key)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUsageTracked(context.Background(), "optimizer_job", 500)
		m.RecordInvoice(context.Background(), "created")
	})
}

func TestNewRegistersCounters(t *testing.T) {
	m, err := New(Config{ServiceName: "creditledger"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotNil(t, m.usageTracked)
	assert.NotNil(t, m.rateLimitDenied)
}

package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelgate/backend/internal/domain"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg, reg)

	m.RecordAllocation(ResultSuccess)
	m.RecordAllocation(ResultSuccess)
	m.RecordAllocation(ResultExhausted)
	m.RecordKeyUsage(ResultInactive)
	m.RecordIngest(3, 1, 2)
	m.RecordActivityLogFailure()
	m.UpdatePoolStats(domain.NewPoolStats(10, 4))
	m.RecordHTTPRequest("GET", "/health", "200", 5*time.Millisecond)

	assert.Equal(t, 2.0, value(t, m.BarcodeAllocations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, value(t, m.BarcodeAllocations.WithLabelValues(ResultExhausted)))
	assert.Equal(t, 1.0, value(t, m.KeyUsages.WithLabelValues(ResultInactive)))
	assert.Equal(t, 3.0, value(t, m.BarcodesIngested.WithLabelValues(OutcomeInserted)))
	assert.Equal(t, 2.0, value(t, m.BarcodesIngested.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, value(t, m.ActivityLogFailures))
	assert.Equal(t, 6.0, value(t, m.PoolAvailable))
	assert.Equal(t, 4.0, value(t, m.PoolUsed))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "labelgate_http_requests_total")
	assert.Contains(t, names, "labelgate_barcode_pool_available")
}

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAllocation(ResultSuccess)
		m.RecordKeyUsage(ResultSuccess)
		m.RecordIngest(1, 1, 1)
		m.UpdatePoolStats(domain.PoolStats{})
		m.RecordPanic()
	})
	assert.NotNil(t, m.HTTPHandler())
}

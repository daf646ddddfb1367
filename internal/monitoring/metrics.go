package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labelgate/backend/internal/domain"
)

// 业务计数器的 result / outcome 标签取值
const (
	ResultSuccess   = "success"
	ResultExhausted = "exhausted"
	ResultInactive  = "inactive"
	ResultNotFound  = "not_found"
	ResultNoPending = "no_pending"
	ResultError     = "error"

	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Metrics 监控指标
//
// 所有方法允许 nil 接收者，未启用监控时调用方无需判空。
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 条码池指标
	BarcodeAllocations *prometheus.CounterVec
	BarcodesIngested   *prometheus.CounterVec
	PoolAvailable      prometheus.Gauge
	PoolUsed           prometheus.Gauge

	// 密钥与使用记录指标
	KeyUsages           *prometheus.CounterVec
	ActivityLogFailures prometheus.Counter

	// 系统指标
	DatabaseConnections prometheus.Gauge
	RateLimitBlocks     *prometheus.CounterVec
	PanicsTotal         prometheus.Counter
}

// NewMetrics 创建监控指标并注册到默认注册表
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 创建监控指标并注册到指定注册表
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labelgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		BarcodeAllocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelgate_barcode_allocations_total",
				Help: "Barcode allocation attempts by result",
			},
			[]string{"result"},
		),

		BarcodesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelgate_barcodes_ingested_total",
				Help: "Ingested barcode lines by outcome",
			},
			[]string{"outcome"},
		),

		PoolAvailable: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "labelgate_barcode_pool_available",
				Help: "Number of unused barcodes",
			},
		),

		PoolUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "labelgate_barcode_pool_used",
				Help: "Number of allocated barcodes",
			},
		),

		KeyUsages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelgate_key_usages_total",
				Help: "Access key usage attempts by result",
			},
			[]string{"result"},
		),

		ActivityLogFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "labelgate_activity_log_failures_total",
				Help: "Usage log writes that failed after the usage was committed",
			},
		),

		DatabaseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "labelgate_db_open_connections",
				Help: "Number of open database connections",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelgate_rate_limit_blocks_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "labelgate_panics_total",
				Help: "Recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAllocation 记录条码分配结果
func (m *Metrics) RecordAllocation(result string) {
	if m == nil {
		return
	}
	m.BarcodeAllocations.WithLabelValues(result).Inc()
}

// RecordIngest 记录导入结果
func (m *Metrics) RecordIngest(inserted, duplicates, rejected int) {
	if m == nil {
		return
	}
	m.BarcodesIngested.WithLabelValues(OutcomeInserted).Add(float64(inserted))
	m.BarcodesIngested.WithLabelValues(OutcomeDuplicate).Add(float64(duplicates))
	m.BarcodesIngested.WithLabelValues(OutcomeRejected).Add(float64(rejected))
}

// RecordKeyUsage 记录密钥使用结果
func (m *Metrics) RecordKeyUsage(result string) {
	if m == nil {
		return
	}
	m.KeyUsages.WithLabelValues(result).Inc()
}

// RecordActivityLogFailure 记录使用日志写入失败
func (m *Metrics) RecordActivityLogFailure() {
	if m == nil {
		return
	}
	m.ActivityLogFailures.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// UpdatePoolStats 更新条码池容量
func (m *Metrics) UpdatePoolStats(stats domain.PoolStats) {
	if m == nil {
		return
	}
	m.PoolAvailable.Set(float64(stats.Available))
	m.PoolUsed.Set(float64(stats.Used))
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	if m == nil {
		return
	}
	m.DatabaseConnections.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

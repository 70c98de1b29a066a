package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 收发管道指标
	InboundDeliveries *prometheus.CounterVec
	AttachmentUploads *prometheus.CounterVec
	OutboundSends     *prometheus.CounterVec
	AttachmentSize    prometheus.Histogram

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge
	MemoryUsage         prometheus.Gauge
	Goroutines          prometheus.Gauge
	WebSocketClients    prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，所有指标注册在独立的注册表中
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freemail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freemail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freemail_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "freemail_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		InboundDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freemail_inbound_deliveries_total",
				Help: "Inbound deliveries by outcome (persisted, discarded, rejected, failed)",
			},
			[]string{"outcome"},
		),

		AttachmentUploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freemail_attachment_uploads_total",
				Help: "Inbound attachment uploads to the blob store by outcome",
			},
			[]string{"outcome"},
		),

		OutboundSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freemail_outbound_sends_total",
				Help: "Outbound sends by relay and outcome",
			},
			[]string{"relay", "outcome"},
		),

		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "freemail_upload_size_bytes",
				Help:    "Size of files uploaded through the API",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 16),
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "freemail_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "freemail_database_connections",
				Help: "Number of acquired database connections",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "freemail_memory_usage_bytes",
				Help: "Heap memory in use",
			},
		),

		Goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "freemail_goroutines",
				Help: "Number of goroutines",
			},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "freemail_websocket_clients",
				Help: "Number of connected realtime clients",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freemail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "freemail_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freemail_rate_limit_blocks_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// InboundDelivery 记录一次入站投递结果
func (m *Metrics) InboundDelivery(outcome string) {
	m.InboundDeliveries.WithLabelValues(outcome).Inc()
}

// AttachmentUpload 记录一次入站附件上传结果
func (m *Metrics) AttachmentUpload(outcome string) {
	m.AttachmentUploads.WithLabelValues(outcome).Inc()
}

// OutboundSend 记录一次外发结果
func (m *Metrics) OutboundSend(relay, outcome string) {
	m.OutboundSends.WithLabelValues(relay, outcome).Inc()
}

// RecordUploadSize 记录上传文件大小
func (m *Metrics) RecordUploadSize(size int64) {
	m.AttachmentSize.Observe(float64(size))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// UpdateMemoryUsage 更新内存使用量
func (m *Metrics) UpdateMemoryUsage(bytes int64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutines 更新 goroutine 数量
func (m *Metrics) UpdateGoroutines(n int) {
	m.Goroutines.Set(float64(n))
}

// WebSocketConnected 实时连接数加一
func (m *Metrics) WebSocketConnected() {
	m.WebSocketClients.Inc()
}

// WebSocketDisconnected 实时连接数减一
func (m *Metrics) WebSocketDisconnected() {
	m.WebSocketClients.Dec()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

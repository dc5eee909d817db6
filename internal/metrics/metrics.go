package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 链上调用计数
	chainCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_calls_total",
			Help: "Total number of contract calls by method and outcome",
		},
		[]string{"method", "outcome"}, // ok, not_found, unavailable, timeout, reverted, error
	)

	// 链上调用耗时
	chainCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_call_duration_seconds",
			Help:    "Contract call duration in seconds, including retries and confirmation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	// 账目创建数
	ledgerEntriesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_entries_created_total",
			Help: "Total number of off-chain ledger entries created",
		},
	)

	// 状态流转数
	ledgerStatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_status_transitions_total",
			Help: "Total number of ledger entry status transitions",
		},
		[]string{"to"},
	)

	// 上链锚定结果
	anchorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchors_total",
			Help: "Total number of anchor attempts by outcome",
		},
		[]string{"outcome"}, // anchored, retry, failed
	)

	// 待锚定队列深度
	anchorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchor_queue_depth",
			Help: "Number of pending anchor events",
		},
	)

	// WebSocket 连接数
	websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Number of connected public ledger websocket clients",
		},
	)

	// 节点可用性，1 表示可用
	chainUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chain_up",
			Help: "Whether the ledger contract node answered the last probe",
		},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)
)

var (
	once sync.Once
)

func init() {
	// 注册指标
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(chainCallsTotal)
	prometheus.MustRegister(chainCallDuration)
	prometheus.MustRegister(ledgerEntriesCreatedTotal)
	prometheus.MustRegister(ledgerStatusTransitionsTotal)
	prometheus.MustRegister(anchorsTotal)
	prometheus.MustRegister(anchorQueueDepth)
	prometheus.MustRegister(websocketClients)
	prometheus.MustRegister(chainUp)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordChainCall 记录合约调用
func RecordChainCall(method, outcome string, duration float64) {
	chainCallsTotal.WithLabelValues(method, outcome).Inc()
	chainCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordLedgerEntryCreated 记录账目创建
func RecordLedgerEntryCreated() {
	ledgerEntriesCreatedTotal.Inc()
}

// RecordStatusTransition 记录状态流转
func RecordStatusTransition(to string) {
	ledgerStatusTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordAnchor 记录锚定结果
func RecordAnchor(outcome string) {
	anchorsTotal.WithLabelValues(outcome).Inc()
}

// SetAnchorQueueDepth 更新待锚定队列深度
func SetAnchorQueueDepth(n int64) {
	anchorQueueDepth.Set(float64(n))
}

// SetWebsocketClients 更新 WebSocket 连接数
func SetWebsocketClients(n int) {
	websocketClients.Set(float64(n))
}

// SetChainUp 更新节点可用性
func SetChainUp(up bool) {
	if up {
		chainUp.Set(1)
		return
	}
	chainUp.Set(0)
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア・セッションストア・サービス層・ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordAuthAttempt(operation, outcome string)
	RecordSessionLookup(cacheHit bool)
	RecordSessionRevoked()
	RecordCaseCreated(category string)
	RecordCaseCreateFailure(reason string)
	RecordCleanup(deletedSessions, deletedConfirmations int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	authAttempts   *prometheus.CounterVec
	sessionLookups *prometheus.CounterVec
	sessionRevoked prometheus.Counter
	casesCreated   *prometheus.CounterVec
	caseCreateFail *prometheus.CounterVec
	cleanupDeleted *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_http_requests_total",
			Help: "ルート・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warren_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_auth_attempts_total",
			Help: "認証操作の試行数",
		}, []string{"operation", "outcome"}),
		sessionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_session_lookups_total",
			Help: "セッションストアの参照数（キャッシュヒット/ミス別）",
		}, []string{"result"}),
		sessionRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warren_session_revocations_total",
			Help: "プロバイダーから通知されたセッション失効の数",
		}),
		casesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_cases_created_total",
			Help: "カテゴリ別の作成済みケース数",
		}, []string{"category"}),
		caseCreateFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_case_create_failures_total",
			Help: "ケース作成失敗の数",
		}, []string{"reason"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_cleanup_deleted_total",
			Help: "クリーンアップジョブで削除した行数",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.authAttempts,
		c.sessionLookups,
		c.sessionRevoked,
		c.casesCreated,
		c.caseCreateFail,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの結果と処理時間を記録する。
// routeはchiのルートパターン（例: /case/{id}）を渡し、ラベルの爆発を防ぐ。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordAuthAttempt は認証操作（sign_in, sign_up, oauth等）の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation, outcome string) {
	c.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordSessionLookup はセッションストアの参照結果を記録する。
func (c *Collector) RecordSessionLookup(cacheHit bool) {
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	c.sessionLookups.WithLabelValues(result).Inc()
}

// RecordSessionRevoked はセッション失効通知の受信を記録する。
func (c *Collector) RecordSessionRevoked() {
	c.sessionRevoked.Inc()
}

// RecordCaseCreated はケース作成成功を記録する。
func (c *Collector) RecordCaseCreated(category string) {
	c.casesCreated.WithLabelValues(category).Inc()
}

// RecordCaseCreateFailure はケース作成失敗を記録する。
func (c *Collector) RecordCaseCreateFailure(reason string) {
	c.caseCreateFail.WithLabelValues(reason).Inc()
}

// RecordCleanup はクリーンアップジョブの削除件数を記録する。
func (c *Collector) RecordCleanup(deletedSessions, deletedConfirmations int64) {
	c.cleanupDeleted.WithLabelValues("sessions").Add(float64(deletedSessions))
	c.cleanupDeleted.WithLabelValues("email_confirmations").Add(float64(deletedConfirmations))
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時やテストで使用する。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordAuthAttempt(string, string)                      {}
func (Nop) RecordSessionLookup(bool)                              {}
func (Nop) RecordSessionRevoked()                                 {}
func (Nop) RecordCaseCreated(string)                              {}
func (Nop) RecordCaseCreateFailure(string)                        {}
func (Nop) RecordCleanup(int64, int64)                            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultRejected  = "rejected"
	ResultMalformed = "malformed"
	ResultConflict  = "conflict"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやユーザーストアから利用する。
type MetricsCollector interface {
	RecordLogin(provider, result string)
	RecordResolveLatency(duration time.Duration)
	RecordUserCreated(provider string)
	RecordConflictRetry(provider string)
	RecordSessionIssued()
	RecordSessionsCleaned(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	resolveLatency  prometheus.Histogram
	usersCreated    *prometheus.CounterVec
	conflictRetries *prometheus.CounterVec
	sessionsIssued  prometheus.Counter
	sessionsCleaned prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_logins_total",
			Help: "プロバイダー・結果別のログイン試行数",
		}, []string{"provider", "result"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "socialauth_resolve_duration_seconds",
			Help:    "認証主体の解決にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		usersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_users_created_total",
			Help: "初回ログインで作成されたユーザー数",
		}, []string{"provider"}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_user_conflict_retries_total",
			Help: "初回ログインの競合で再検索した回数",
		}, []string{"provider"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialauth_sessions_issued_total",
			Help: "発行したセッションの合計数",
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialauth_sessions_cleaned_total",
			Help: "期限切れとして削除したセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.resolveLatency,
		c.usersCreated,
		c.conflictRetries,
		c.sessionsIssued,
		c.sessionsCleaned,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(provider, result string) {
	c.logins.WithLabelValues(provider, result).Inc()
}

// RecordResolveLatency は認証主体の解決時間を記録する。
func (c *Collector) RecordResolveLatency(duration time.Duration) {
	c.resolveLatency.Observe(duration.Seconds())
}

// RecordUserCreated はユーザー作成を記録する。
func (c *Collector) RecordUserCreated(provider string) {
	c.usersCreated.WithLabelValues(provider).Inc()
}

// RecordConflictRetry は競合による再検索を記録する。
func (c *Collector) RecordConflictRetry(provider string) {
	c.conflictRetries.WithLabelValues(provider).Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordSessionsCleaned は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordLogin(string, string)          {}
func (NopCollector) RecordResolveLatency(time.Duration) {}
func (NopCollector) RecordUserCreated(string)           {}
func (NopCollector) RecordConflictRetry(string)         {}
func (NopCollector) RecordSessionIssued()               {}
func (NopCollector) RecordSessionsCleaned(int64)        {}
func (NopCollector) RecordHTTPStatus(int)               {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

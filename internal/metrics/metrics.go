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
	LoginResultSuccess = "success"
	LoginResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、プロンプトサービス、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordUserProvisioned()
	RecordSessionIssued()
	RecordPromptCreated()
	RecordHTTPStatus(statusCode int)
	RecordProviderLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins           *prometheus.CounterVec
	usersProvisioned prometheus.Counter
	sessionsIssued   prometheus.Counter
	promptsCreated   prometheus.Counter
	httpStatus       *prometheus.CounterVec
	providerLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptbox_logins_total",
			Help: "OAuthコールバックの結果別件数",
		}, []string{"result"}),
		usersProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptbox_users_provisioned_total",
			Help: "初回ログインで作成されたユーザー数",
		}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptbox_sessions_issued_total",
			Help: "発行したセッション数",
		}),
		promptsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptbox_prompts_created_total",
			Help: "作成されたプロンプト数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptbox_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptbox_provider_exchange_seconds",
			Help:    "IdPとの認可コード交換にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.usersProvisioned,
		c.sessionsIssued,
		c.promptsCreated,
		c.httpStatus,
		c.providerLatency,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordUserProvisioned はユーザー作成を記録する。
func (c *Collector) RecordUserProvisioned() {
	c.usersProvisioned.Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordPromptCreated はプロンプト作成を記録する。
func (c *Collector) RecordPromptCreated() {
	c.promptsCreated.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordProviderLatency はIdPとの認可コード交換のレイテンシを記録する。
func (c *Collector) RecordProviderLatency(duration time.Duration) {
	c.providerLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLogin(string) {}
func (Nop) RecordUserProvisioned() {}
func (Nop) RecordSessionIssued() {}
func (Nop) RecordPromptCreated() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordProviderLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

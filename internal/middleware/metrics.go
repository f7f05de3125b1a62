package middleware

import (
	"net/http"
	"time"

	"github.com/hitoshi/warren/internal/metrics"
)

// NewMetricsMiddleware はリクエスト数と処理時間をルートパターン単位で記録するミドルウェアを返す。
// パスではなくルートパターンをラベルにするため、/case/{id}のIDはラベルに含まれない。
func NewMetricsMiddleware(m metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			m.RecordHTTPRequest(r.Method, routePattern(r), rec.statusCode, time.Since(start))
		})
	}
}

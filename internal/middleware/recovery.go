package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicRenderer はpanicから復帰したときのエラーページを描画する。
type PanicRenderer func(w http.ResponseWriter, r *http.Request)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。renderがnilの場合は平文で応答する。
// http.ErrAbortHandlerは意図的な中断のため再送出する。
func NewRecoveryMiddleware(render PanicRenderer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				w.Header().Set("Cache-Control", "no-store")
				if render == nil {
					http.Error(w, "internal server error", http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusInternalServerError)
				render(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Package guard は保護されたページへのアクセスを認証状態に応じて制御する。
package guard

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/warren/internal/session"
)

// SignInPath は未認証時のリダイレクト先。
const SignInPath = "/auth"

// Outcome は認証状態から決まる表示内容。
type Outcome int

const (
	// OutcomeLoading は認証状態の確定待ち。
	OutcomeLoading Outcome = iota
	// OutcomeRedirect はサインインページへの誘導。
	OutcomeRedirect
	// OutcomeRender は保護されたページの表示。
	OutcomeRender
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoading:
		return "loading"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRender:
		return "render"
	default:
		return "unknown"
	}
}

// Evaluate は認証状態から表示内容を決める。
// ローディング中はIdentityの有無に関わらずOutcomeLoadingを返す。
func Evaluate(s session.Session) Outcome {
	switch {
	case s.IsLoading:
		return OutcomeLoading
	case s.Identity == nil:
		return OutcomeRedirect
	default:
		return OutcomeRender
	}
}

// LoadingRenderer はローディング画面を描画する。
type LoadingRenderer interface {
	RenderLoading(w http.ResponseWriter, r *http.Request)
}

// LoadingRendererFunc は関数をLoadingRendererとして扱うアダプタ。
type LoadingRendererFunc func(w http.ResponseWriter, r *http.Request)

func (f LoadingRendererFunc) RenderLoading(w http.ResponseWriter, r *http.Request) { f(w, r) }

// SessionFunc はリクエストの認証状態を返す。
type SessionFunc func(r *http.Request) session.Session

// RetryAfter はローディング画面で再読み込みを促すまでの秒数。
const RetryAfter = 2 * time.Second

// Protect は保護されたページ用のミドルウェアを返す。
// 判定はリクエストごとに行うため、サインアウト直後のリクエストから遮断される。
func Protect(sessionOf SessionFunc, loading LoadingRenderer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch Evaluate(sessionOf(r)) {
			case OutcomeLoading:
				w.Header().Set("Retry-After", strconv.Itoa(int(RetryAfter/time.Second)))
				w.Header().Set("Cache-Control", "no-store")
				if wantsJSON(r) {
					writeJSON(w, http.StatusServiceUnavailable, "auth_loading", "Authentication is starting up. Please retry shortly.")
					return
				}
				w.WriteHeader(http.StatusServiceUnavailable)
				loading.RenderLoading(w, r)
			case OutcomeRedirect:
				w.Header().Set("Cache-Control", "no-store")
				if wantsJSON(r) {
					writeJSON(w, http.StatusUnauthorized, "unauthorized", "Sign in to continue.")
					return
				}
				http.Redirect(w, r, SignInPath, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":     code,
		"message":  message,
		"category": "auth",
	})
}

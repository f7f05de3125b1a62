// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/warren/internal/session"
)

// SessionCookieName はアクセストークンを保持するCookieの名前。
const SessionCookieName = "warren_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionContextKey = contextKey("session")
	tokenContextKey   = contextKey("session_token")
)

// SessionResolver はトークンから認証状態を解決する。session.Storeが満たす。
type SessionResolver interface {
	Session(ctx context.Context, token string) session.Session
}

// CookieConfig はCookieの共通属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// NewSessionMiddleware はCookieのアクセストークンから認証状態を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証でもリクエストは拒否しない。保護されたページの判定はguardが行う。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				token = cookie.Value
			}

			s := resolver.Session(r.Context(), token)
			if s.Identity != nil {
				recordUserID(r.Context(), s.Identity.UserID)
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, s)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext はリクエストコンテキストの認証状態を返す。
// セッションミドルウェアを通過していない場合は未認証の状態を返す。
func SessionFromContext(ctx context.Context) session.Session {
	s, _ := ctx.Value(sessionContextKey).(session.Session)
	return s
}

// SessionFromRequest はguard.SessionFuncとして使うためのアダプタ。
func SessionFromRequest(r *http.Request) session.Session {
	return SessionFromContext(r.Context())
}

// TokenFromContext はリクエストのアクセストークンを返す。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	s := SessionFromContext(ctx)
	if s.Identity == nil || s.Identity.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return s.Identity.UserID, nil
}

// ContextWithSession はコンテキストに認証状態を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SetSessionCookie はアクセストークンをHTTP Only Cookieに設定する。
func SetSessionCookie(w http.ResponseWriter, config CookieConfig, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はアクセストークンのCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

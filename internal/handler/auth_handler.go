// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/warren/internal/middleware"
	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/password"
	"github.com/hitoshi/warren/internal/session"
)

const oauthStateCookie = "warren_oauth_state"

// PostLoginPath はサインイン完了後の遷移先。
const PostLoginPath = "/feed"

// SessionStore は認証ハンドラーが必要とするセッションストアの操作。session.Storeが満たす。
type SessionStore interface {
	SignInWithPassword(ctx context.Context, email, password string) (session.Token, error)
	SignUpWithPassword(ctx context.Context, email, password string) error
	SignInWithOAuth(provider, state string) (string, error)
	CompleteOAuth(ctx context.Context, provider, code string) (session.Token, error)
	SignOut(ctx context.Context, token string) error
}

// EmailConfirmer はメールアドレス確認リンクを処理する。auth.Serviceが満たす。
type EmailConfirmer interface {
	ConfirmEmail(ctx context.Context, token string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie         middleware.CookieConfig
	OAuthProviders []string
	DemoEmail      string
	DemoPassword   string
}

// AuthHandler はサインイン・サインアップ関連のHTTPハンドラー。
type AuthHandler struct {
	store     SessionStore
	confirmer EmailConfirmer
	renderer  *Renderer
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(store SessionStore, confirmer EmailConfirmer, renderer *Renderer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		store:     store,
		confirmer: confirmer,
		renderer:  renderer,
		config:    config,
	}
}

type authPageData struct {
	SignUp         bool
	Email          string
	OAuthProviders []string
	Strength       *password.Strength
}

// Page はサインイン/サインアップ画面を表示する。サインイン済みならフィードへ遷移する。
// GET /auth?mode=sign-up
func (h *AuthHandler) Page(w http.ResponseWriter, r *http.Request) {
	if middleware.SessionFromRequest(r).Authenticated() {
		http.Redirect(w, r, PostLoginPath, http.StatusSeeOther)
		return
	}
	h.renderForm(w, r, http.StatusOK, r.URL.Query().Get("mode") == "sign-up", "")
}

func (h *AuthHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, signUp bool, email string) {
	title := "Sign in"
	if signUp {
		title = "Sign up"
	}
	h.renderer.Render(w, r, status, "auth", title, authPageData{
		SignUp:         signUp,
		Email:          email,
		OAuthProviders: h.config.OAuthProviders,
	})
}

// renderSignUp はサインアップ画面を再表示する。入力されたパスワードの強度も表示する。
func (h *AuthHandler) renderSignUp(w http.ResponseWriter, r *http.Request, status int, email, pw string) {
	strength := password.Estimate(pw)
	h.renderer.Render(w, r, status, "auth", "Sign up", authPageData{
		SignUp:         true,
		Email:          email,
		OAuthProviders: h.config.OAuthProviders,
		Strength:       &strength,
	})
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	pw := r.PostFormValue("password")

	token, err := h.store.SignInWithPassword(r.Context(), email, pw)
	if err != nil {
		h.renderForm(w, withFlash(r, errorFlash(err)), statusForError(err), false, email)
		return
	}
	h.completeSignIn(w, r, token)
}

// Demo はデモアカウントでサインインする。通常のサインインと同じ経路を通る。
// POST /auth/demo
func (h *AuthHandler) Demo(w http.ResponseWriter, r *http.Request) {
	if h.config.DemoEmail == "" {
		h.renderForm(w, withFlash(r, errorFlash(model.NewAuthError("Demo account is not available"))),
			http.StatusNotFound, false, "")
		return
	}
	token, err := h.store.SignInWithPassword(r.Context(), h.config.DemoEmail, h.config.DemoPassword)
	if err != nil {
		h.renderForm(w, withFlash(r, errorFlash(err)), statusForError(err), false, "")
		return
	}
	h.completeSignIn(w, r, token)
}

func (h *AuthHandler) completeSignIn(w http.ResponseWriter, r *http.Request, token session.Token) {
	middleware.SetSessionCookie(w, h.config.Cookie, token.Value, token.Identity.ExpiresAt)
	http.Redirect(w, r, PostLoginPath, http.StatusSeeOther)
}

// SignUp はアカウントを作成し、確認メールの送信を案内する。
// パスワードが最低要件を満たさない場合はプロバイダーを呼び出さない。
// POST /auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	pw := r.PostFormValue("password")

	if err := password.CheckRequirements(pw, r.PostFormValue("confirm")); err != nil {
		h.renderSignUp(w, withFlash(r, errorFlash(err)), http.StatusBadRequest, email, pw)
		return
	}
	if err := h.store.SignUpWithPassword(r.Context(), email, pw); err != nil {
		h.renderSignUp(w, withFlash(r, errorFlash(err)), statusForError(err), email, pw)
		return
	}

	setFlash(w, Flash{
		Kind:        FlashSuccess,
		Title:       "Check your email",
		Description: "We sent you a confirmation link to complete your signup.",
	})
	http.Redirect(w, r, "/auth", http.StatusSeeOther)
}

// SignOut はセッションを破棄する。プロバイダーで失敗してもCookieは削除する。
// POST /auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SignOut(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		slog.Error("failed to sign out", slog.String("error", err.Error()))
		setErrorFlash(w, err)
	}
	middleware.ClearSessionCookie(w, h.config.Cookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// PasswordStrength はパスワード強度の目安をJSONで返す。
// POST /auth/password-strength
func (h *AuthHandler) PasswordStrength(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(password.Estimate(r.PostFormValue("password")))
}

// Confirm はメールアドレス確認リンクを処理し、サインイン画面へ戻す。
// GET /auth/confirm?token=xxx
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if err := h.confirmer.ConfirmEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		setErrorFlash(w, err)
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}
	setFlash(w, Flash{
		Kind:        FlashSuccess,
		Title:       "Email confirmed",
		Description: "You can now sign in.",
	})
	http.Redirect(w, r, "/auth", http.StatusSeeOther)
}

// OAuthLogin は外部プロバイダーの同意画面へ遷移する。
// GET /auth/oauth/{provider}
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		setErrorFlash(w, model.NewInternalError())
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	loginURL, err := h.store.SignInWithOAuth(provider, state)
	if err != nil {
		setErrorFlash(w, err)
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	// stateとプロバイダー名をCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state + "." + provider,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, loginURL, http.StatusSeeOther)
}

// Callback はOAuthの同意画面からの戻りを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(oauthStateCookie)
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	var provider string
	if err == nil {
		var saved string
		saved, provider, _ = strings.Cut(cookie.Value, ".")
		if saved == "" || saved != state {
			provider = ""
		}
	}
	if provider == "" {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		setErrorFlash(w, model.NewAuthError("Sign-in session expired, please try again"))
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		setErrorFlash(w, model.NewAuthError("Sign-in was cancelled"))
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	token, err := h.store.CompleteOAuth(r.Context(), provider, code)
	if err != nil {
		setErrorFlash(w, err)
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}
	h.completeSignIn(w, r, token)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// statusForError はエラーに対応するHTTPステータスコードを返す。
func statusForError(err error) int {
	if apiErr, ok := model.AsAPIError(err); ok {
		return middleware.StatusForError(apiErr)
	}
	return http.StatusInternalServerError
}

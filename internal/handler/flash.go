package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/warren/internal/model"
)

const flashCookieName = "warren_flash"

// 通知の種類
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// Flash は次の描画で1回だけ表示する一時通知。
type Flash struct {
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// setFlash は通知をCookieに保存する。リダイレクト前に呼び出す。
func setFlash(w http.ResponseWriter, f Flash) {
	raw, err := json.Marshal(f)
	if err != nil {
		slog.Error("failed to encode flash", slog.String("error", err.Error()))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// setErrorFlash はエラーを通知として保存する。
func setErrorFlash(w http.ResponseWriter, err error) {
	setFlash(w, errorFlash(err))
}

// errorFlash はエラーを通知に変換する。APIError以外は詳細を伏せる。
func errorFlash(err error) Flash {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return Flash{Kind: FlashError, Title: "Error", Description: apiErr.Message}
	}
	return Flash{Kind: FlashError, Title: "Error", Description: model.NewInternalError().Message}
}

// takeFlash はCookieの通知を読み出して削除する。
// 同じリクエスト内でwithFlashにより渡された通知があればそちらを優先する。
func takeFlash(w http.ResponseWriter, r *http.Request) *Flash {
	if f, ok := r.Context().Value(flashContextKey{}).(*Flash); ok {
		return f
	}
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var f Flash
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

type flashContextKey struct{}

// withFlash はリダイレクトせずに再描画する場合の通知をリクエストに載せる。
func withFlash(r *http.Request, f Flash) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), flashContextKey{}, &f))
}

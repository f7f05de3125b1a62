// Package session はプロセス全体で1つだけ生成される認証状態のストアを提供する。
//
// Storeは外部の認証プロバイダーをラップし、トークンごとのIdentityと
// 起動直後のローディング状態を保持する。ガードやハンドラーはStoreだけを参照し、
// プロバイダーへ直接問い合わせない。
package session

import (
	"context"
	"time"
)

// Identity は認証済みユーザーを表す。Storeが保持する値は不変で、
// 更新時は新しい値に差し替える。
type Identity struct {
	UserID    string
	Email     string
	SessionID string
	ExpiresAt time.Time
}

// Session はあるトークンについての現在の認証状態。
// IsLoadingがtrueの間はIdentityを信用してはならない。
type Session struct {
	Identity  *Identity
	IsLoading bool
}

// Authenticated はIdentityが確定しているかどうかを返す。
func (s Session) Authenticated() bool {
	return !s.IsLoading && s.Identity != nil
}

// UserID はIdentityのユーザーIDを返す。未認証の場合は空文字列を返す。
func (s Session) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.UserID
}

// Token はサインイン成功時にプロバイダーが発行するアクセストークン。
type Token struct {
	Value    string
	Identity Identity
}

// EventKind は認証状態変化の種別。
type EventKind int

const (
	// EventReady はプロバイダーの初期化が完了したことを表す。
	EventReady EventKind = iota
	// EventSignedIn はこのプロセスでサインインが成功したことを表す。
	EventSignedIn
	// EventSignedOut はこのプロセスでサインアウトしたことを表す。
	EventSignedOut
	// EventRevoked はプロバイダー側でセッションが失効したことを表す
	// （他プロセスでのサインアウトや有効期限切れ）。
	EventRevoked
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Event は認証状態の変化通知。SessionIDとUserIDは該当するものだけが設定される。
type Event struct {
	Kind      EventKind
	SessionID string
	UserID    string
}

// Provider は外部の認証プロバイダー。
// 失敗時は人が読めるメッセージを持つ認証エラー（model.APIError）を返すこと。
type Provider interface {
	// Ready はプロバイダーが利用可能になるまで待たずに疎通を確認する。
	Ready(ctx context.Context) error
	SignInWithPassword(ctx context.Context, email, password string) (Token, error)
	// SignUpWithPassword はアカウントを作成し確認リンクを送信する。セッションは発行しない。
	SignUpWithPassword(ctx context.Context, email, password string) error
	SignOut(ctx context.Context, token string) error
	// GetSession はトークンに対応するIdentityを返す。無効・失効済みの場合はnilを返す。
	GetSession(ctx context.Context, token string) (*Identity, error)
	// OAuthLoginURL は外部の同意画面へのURLを返す。
	OAuthLoginURL(provider, state string) (string, error)
	// ExchangeOAuth は同意画面から戻った認可コードをトークンに交換する。
	ExchangeOAuth(ctx context.Context, provider, code string) (Token, error)
	// Subscribe はctxが終了するまでプロバイダーからの通知をfnに渡し続ける。
	Subscribe(ctx context.Context, fn func(Event)) error
}

// Observer はStoreの状態変化を受け取る。
type Observer interface {
	SessionChanged(Event)
}

// ObserverFunc は関数をObserverとして扱うためのアダプタ。
type ObserverFunc func(Event)

// SessionChanged はf(ev)を呼び出す。
func (f ObserverFunc) SessionChanged(ev Event) { f(ev) }

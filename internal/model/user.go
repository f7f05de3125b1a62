// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// OAuthのみのユーザーはPasswordHashが空になる。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Confirmed はメールアドレス確認済みかどうかを返す。
func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Profile はユーザーの公開プロフィールを表す。
type Profile struct {
	UserID    string
	Username  string
	AvatarURL string
	CreatedAt time.Time
}

// EmailConfirmation はサインアップ時に発行する確認トークンを表す。
type EmailConfirmation struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

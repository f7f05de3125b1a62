package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/warren/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィール・確認トークンのリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	profile := &model.Profile{}
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, username, avatar_url, created_at FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&profile.UserID, &profile.Username, &avatar, &profile.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	profile.AvatarURL = avatar.String
	return profile, nil
}

// Consume は有効期限内の確認トークンを削除し、紐づくユーザーIDを返す。
// トークンは一度しか使えない。見つからない・期限切れの場合は空文字列を返す。
func (r *PostgresProfileRepo) Consume(ctx context.Context, token string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM email_confirmations
		 WHERE token = $1 AND expires_at > $2
		 RETURNING user_id`,
		token, now,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume confirmation: %w", err)
	}
	return userID, nil
}

// compile-time interface check
var (
	_ ProfileRepository      = (*PostgresProfileRepo)(nil)
	_ ConfirmationRepository = (*PostgresProfileRepo)(nil)
)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/warren/internal/model"
)

// ErrDuplicateEmail はメールアドレスが既に登録済みであることを表す。
var ErrDuplicateEmail = errors.New("email already registered")

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, password_hash, confirmed_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var confirmedAt sql.NullTime
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &confirmedAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		user.ConfirmedAt = &t
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateAccount はユーザー・プロフィール・identity・確認トークンを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateAccount(
	ctx context.Context,
	user *model.User,
	profile *model.Profile,
	identity *model.Identity,
	confirmation *model.EmailConfirmation,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, confirmed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, user.ConfirmedAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// プロフィールを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (user_id, username, avatar_url, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4)`,
		profile.UserID, profile.Username, profile.AvatarURL, profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	if identity != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert identity: %w", err)
		}
	}

	if confirmation != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO email_confirmations (token, user_id, expires_at, created_at)
			 VALUES ($1, $2, $3, $4)`,
			confirmation.Token, confirmation.UserID, confirmation.ExpiresAt, confirmation.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert email confirmation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkConfirmed はユーザーをメールアドレス確認済みにする。
// 確認済みの場合は元の確認日時を維持する。
func (r *PostgresUserRepo) MarkConfirmed(ctx context.Context, userID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET confirmed_at = COALESCE(confirmed_at, $2), updated_at = $2 WHERE id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to confirm user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// CreateIdentity は既存ユーザーに外部IdPを紐付ける。
func (r *PostgresUserRepo) CreateIdentity(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ UserRepository     = (*PostgresUserRepo)(nil)
	_ IdentityRepository = (*PostgresUserRepo)(nil)
)

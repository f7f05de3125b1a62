// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/warren/internal/model"
)

// AuthEventsChannel は認証状態の変化を通知するPostgreSQLのNOTIFYチャネル名。
// ペイロードは "session:<セッションID>" または "user:<ユーザーID>" の形式。
const AuthEventsChannel = "warren_auth"

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateAccount はユーザー・プロフィールを同一トランザクションで作成する。
	// identityとconfirmationはnilの場合は作成しない。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	CreateAccount(ctx context.Context, user *model.User, profile *model.Profile, identity *model.Identity, confirmation *model.EmailConfirmation) error

	// MarkConfirmed はユーザーをメールアドレス確認済みにする。
	MarkConfirmed(ctx context.Context, userID string, at time.Time) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// CreateIdentity は既存ユーザーに外部IdPを紐付ける。
	CreateIdentity(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除し、失効をAuthEventsChannelに通知する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除し、失効を通知する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ConfirmationRepository はメールアドレス確認トークンの永続化インターフェース。
type ConfirmationRepository interface {
	// Consume は有効期限内のトークンを削除し、紐づくユーザーIDを返す。
	// 見つからない・期限切れの場合は空文字列を返す。
	Consume(ctx context.Context, token string, now time.Time) (string, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// CaseRow はcasesテーブルとprofilesテーブルをLEFT JOINした生の行。
// ドメインモデルへの変換（カテゴリ解析・本文デコード・投稿者の補完）は
// 取得直後にcasesパッケージで1回だけ行う。
type CaseRow struct {
	ID        string
	Category  string
	Title     string
	Summary   string
	Tags      []string
	Content   []byte // JSONB: [{"label": "...", "value": "..."}]
	AuthorID  string
	CreatedAt time.Time

	AuthorUsername  sql.NullString
	AuthorAvatarURL sql.NullString
}

// CaseRepository はケースデータの永続化インターフェース。
type CaseRepository interface {
	// List は全ケースをcreated_at降順で返す。
	List(ctx context.Context) ([]CaseRow, error)
	// ListByAuthor は指定ユーザーのケースをcreated_at降順で返す。
	ListByAuthor(ctx context.Context, authorID string) ([]CaseRow, error)
	// FindByID は指定IDのケースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*CaseRow, error)
	// Create はケースを作成し、保存された行（投稿者情報を含む）を返す。
	Create(ctx context.Context, row *CaseRow) (*CaseRow, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Package auth はパスワード認証・OAuth認証・セッション発行を行う認証プロバイダーを提供する。
// session.Storeはこのパッケージのサービスをsession.Providerとして利用する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/warren/internal/metrics"
	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/repository"
	"github.com/hitoshi/warren/internal/session"
)

// 認証プロバイダーがユーザーに返すメッセージ
const (
	msgInvalidCredentials = "Invalid login credentials"
	msgEmailNotConfirmed  = "Email not confirmed"
	msgAlreadyRegistered  = "User already registered"
	msgInvalidEmail       = "Unable to validate email address: invalid format"
	msgWeakPassword       = "Password should be at least 8 characters"
	msgInvalidLink        = "Email link is invalid or has expired"
)

// minPasswordLength はプロバイダーが受け付けるパスワードの最小長。
const minPasswordLength = 8

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	AvatarURL      string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name は /auth/oauth/{provider} で使われるプロバイダー名を返す。
	Name() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// Pinger はデータベースの疎通確認を抽象化する。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge   time.Duration
	ConfirmationTTL time.Duration
	// Secret はアクセストークンの署名鍵。
	Secret []byte
	// BaseURL は確認リンクの生成に使う公開URL。
	BaseURL string
	// BcryptCost はパスワードハッシュのコスト。0の場合はbcrypt.DefaultCost。
	BcryptCost int
}

// Dependencies は認証サービスが利用するリポジトリと外部サービス。
type Dependencies struct {
	Users         repository.UserRepository
	Identities    repository.IdentityRepository
	Sessions      repository.SessionRepository
	Confirmations repository.ConfirmationRepository
	DB            Pinger
	Events        EventSource
	Mailer        Mailer
	OAuth         []OAuthProvider
	Metrics       metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users         repository.UserRepository
	identities    repository.IdentityRepository
	sessions      repository.SessionRepository
	confirmations repository.ConfirmationRepository
	db            Pinger
	events        EventSource
	mailer        Mailer
	oauth         map[string]OAuthProvider
	metrics       metrics.MetricsCollector

	config ServiceConfig
	tokens tokenSigner
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps Dependencies, config ServiceConfig) *Service {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = 7 * 24 * time.Hour
	}
	if config.ConfirmationTTL <= 0 {
		config.ConfirmationTTL = 24 * time.Hour
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if deps.Mailer == nil {
		deps.Mailer = LogMailer{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}

	oauth := make(map[string]OAuthProvider, len(deps.OAuth))
	for _, p := range deps.OAuth {
		oauth[p.Name()] = p
	}

	s := &Service{
		users:         deps.Users,
		identities:    deps.Identities,
		sessions:      deps.Sessions,
		confirmations: deps.Confirmations,
		db:            deps.DB,
		events:        deps.Events,
		mailer:        deps.Mailer,
		oauth:         oauth,
		metrics:       deps.Metrics,
		config:        config,
		now:           time.Now,
	}
	s.tokens = tokenSigner{secret: config.Secret, now: func() time.Time { return s.now() }}
	return s
}

// Ready はデータベースへの疎通を確認する。
func (s *Service) Ready(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// SignInWithPassword はメールアドレスとパスワードを検証してセッションを発行する。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (session.Token, error) {
	token, err := s.signInWithPassword(ctx, email, password)
	s.recordAttempt("sign_in", err)
	return token, err
}

func (s *Service) signInWithPassword(ctx context.Context, email, password string) (session.Token, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return session.Token{}, model.NewAuthError(msgInvalidCredentials)
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return session.Token{}, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		// 存在しないユーザーでも比較を行い、応答時間から登録有無を推測されにくくする
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return session.Token{}, model.NewAuthError(msgInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return session.Token{}, model.NewAuthError(msgInvalidCredentials)
	}
	if !user.Confirmed() {
		return session.Token{}, model.NewAuthError(msgEmailNotConfirmed)
	}

	token, err := s.issueSession(ctx, user)
	if err != nil {
		return session.Token{}, err
	}
	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("method", "password"),
	)
	return token, nil
}

// SignUpWithPassword はアカウントを作成し、確認リンクを送信する。
// 確認が完了するまでサインインはできない。
func (s *Service) SignUpWithPassword(ctx context.Context, email, password string) error {
	err := s.signUpWithPassword(ctx, email, password)
	s.recordAttempt("sign_up", err)
	return err
}

func (s *Service) signUpWithPassword(ctx context.Context, email, password string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return model.NewAuthError(msgInvalidEmail)
	}
	if len(password) < minPasswordLength {
		return model.NewAuthError(msgWeakPassword)
	}

	existing, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return model.NewAuthError(msgAlreadyRegistered)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	confirmToken, err := randomToken()
	if err != nil {
		return fmt.Errorf("failed to generate confirmation token: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        normalized,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := &model.Profile{
		UserID:    user.ID,
		Username:  usernameFromEmail(normalized),
		CreatedAt: now,
	}
	confirmation := &model.EmailConfirmation{
		Token:     confirmToken,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.ConfirmationTTL),
		CreatedAt: now,
	}

	if err := s.users.CreateAccount(ctx, user, profile, nil, confirmation); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.NewAuthError(msgAlreadyRegistered)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	if err := s.mailer.SendConfirmation(ctx, normalized, s.confirmationLink(confirmToken)); err != nil {
		return fmt.Errorf("failed to send confirmation: %w", err)
	}

	slog.Info("user signed up", slog.String("user_id", user.ID))
	return nil
}

func (s *Service) confirmationLink(token string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + "/auth/confirm?token=" + url.QueryEscape(token)
}

// ConfirmEmail は確認リンクのトークンを消費し、アカウントを確認済みにする。
// トークンは一度しか使えない。
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	if token == "" {
		return model.NewAuthError(msgInvalidLink)
	}
	userID, err := s.confirmations.Consume(ctx, token, s.now())
	if err != nil {
		return fmt.Errorf("failed to consume confirmation: %w", err)
	}
	if userID == "" {
		return model.NewAuthError(msgInvalidLink)
	}
	if err := s.users.MarkConfirmed(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to confirm user: %w", err)
	}
	slog.Info("email confirmed", slog.String("user_id", userID))
	return nil
}

// SignOut はトークンが指すセッションを削除する。
// 不正なトークンや削除済みのセッションはサインアウト済みとして扱う。
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.parseExpired(token)
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteByID(ctx, claims.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user signed out", slog.String("user_id", claims.Subject))
	return nil
}

// GetSession はトークンを検証し、対応するIdentityを返す。
// 署名・期限が正しくてもsessionsテーブルに行がなければ失効済みとしてnilを返す。
func (s *Service) GetSession(ctx context.Context, token string) (*session.Identity, error) {
	claims, err := s.tokens.parse(token)
	if err != nil {
		return nil, nil
	}

	sess, err := s.sessions.FindByID(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil || sess.UserID != claims.Subject {
		return nil, nil
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	return &session.Identity{
		UserID:    user.ID,
		Email:     user.Email,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// OAuthLoginURL は指定プロバイダーの同意画面URLを返す。
func (s *Service) OAuthLoginURL(provider, state string) (string, error) {
	p, ok := s.oauth[provider]
	if !ok {
		return "", model.NewAuthError(fmt.Sprintf("Unsupported provider: %s", provider))
	}
	return p.GetLoginURL(state), nil
}

// ExchangeOAuth はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusers・profiles・identitiesを同時に作成する。
// 同じメールアドレスの既存ユーザーがいる場合、IdPが確認済みと報告したときだけ紐付ける。
func (s *Service) ExchangeOAuth(ctx context.Context, provider, code string) (session.Token, error) {
	token, err := s.exchangeOAuth(ctx, provider, code)
	s.recordAttempt("oauth_"+provider, err)
	return token, err
}

func (s *Service) exchangeOAuth(ctx context.Context, provider, code string) (session.Token, error) {
	p, ok := s.oauth[provider]
	if !ok {
		return session.Token{}, model.NewAuthError(fmt.Sprintf("Unsupported provider: %s", provider))
	}

	info, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return session.Token{}, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identities.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return session.Token{}, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User
	if identity != nil {
		user, err = s.users.FindByID(ctx, identity.UserID)
		if err != nil {
			return session.Token{}, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return session.Token{}, model.NewAuthError(msgInvalidCredentials)
		}
	} else {
		user, err = s.linkOrCreateOAuthUser(ctx, info)
		if err != nil {
			return session.Token{}, err
		}
	}

	token, err := s.issueSession(ctx, user)
	if err != nil {
		return session.Token{}, err
	}
	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("method", info.Provider),
	)
	return token, nil
}

func (s *Service) linkOrCreateOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	email, err := NormalizeEmail(info.Email)
	if err != nil {
		return nil, model.NewAuthError(msgInvalidEmail)
	}

	now := s.now()
	identity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		if !info.EmailVerified {
			return nil, model.NewAuthError(msgAlreadyRegistered)
		}
		identity.UserID = existing.ID
		if err := s.identities.CreateIdentity(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		if !existing.Confirmed() {
			if err := s.users.MarkConfirmed(ctx, existing.ID, now); err != nil {
				return nil, fmt.Errorf("failed to confirm user: %w", err)
			}
			existing.ConfirmedAt = &now
		}
		slog.Info("identity linked to existing user",
			slog.String("user_id", existing.ID),
			slog.String("provider", info.Provider),
		)
		return existing, nil
	}

	user := &model.User{
		ID:          uuid.New().String(),
		Email:       email,
		ConfirmedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	identity.UserID = user.ID
	username := strings.TrimSpace(info.Name)
	if username == "" {
		username = usernameFromEmail(email)
	}
	profile := &model.Profile{
		UserID:    user.ID,
		Username:  username,
		AvatarURL: info.AvatarURL,
		CreatedAt: now,
	}

	if err := s.users.CreateAccount(ctx, user, profile, identity, nil); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewAuthError(msgAlreadyRegistered)
		}
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}
	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// Subscribe はctxが終了するまでセッション失効の通知をfnに渡す。
// EventSourceが未設定の場合はctxの終了を待つだけになる。
func (s *Service) Subscribe(ctx context.Context, fn func(session.Event)) error {
	if s.events == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.events.Listen(ctx, repository.AuthEventsChannel, func(payload string) {
		ev, ok := parseEvent(payload)
		if !ok {
			slog.Warn("ignoring malformed auth event", slog.String("payload", payload))
			return
		}
		fn(ev)
	})
}

// SeedDemoAccount はデモ用アカウントを確認済みの状態で作成する。
// 既に存在する場合は何もしない。
func (s *Service) SeedDemoAccount(ctx context.Context, email, password string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return fmt.Errorf("invalid demo email: %w", err)
	}
	existing, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to find demo user: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash demo password: %w", err)
	}
	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        normalized,
		PasswordHash: string(hash),
		ConfirmedAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := &model.Profile{UserID: user.ID, Username: usernameFromEmail(normalized), CreatedAt: now}
	if err := s.users.CreateAccount(ctx, user, profile, nil, nil); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil
		}
		return fmt.Errorf("failed to create demo account: %w", err)
	}
	slog.Info("demo account created", slog.String("user_id", user.ID))
	return nil
}

// issueSession はセッションを作成し永続化して、アクセストークンを発行する。
func (s *Service) issueSession(ctx context.Context, user *model.User) (session.Token, error) {
	sessionID, err := randomToken()
	if err != nil {
		return session.Token{}, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	sess := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return session.Token{}, fmt.Errorf("failed to save session: %w", err)
	}

	value, err := s.tokens.issue(user.ID, sess.ID, sess.ExpiresAt)
	if err != nil {
		return session.Token{}, err
	}

	return session.Token{
		Value: value,
		Identity: session.Identity{
			UserID:    user.ID,
			Email:     user.Email,
			SessionID: sess.ID,
			ExpiresAt: sess.ExpiresAt,
		},
	}, nil
}

func (s *Service) recordAttempt(operation string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case model.IsCategory(err, model.ErrCategoryAuth):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.metrics.RecordAuthAttempt(operation, outcome)
}

// randomToken は暗号的に安全なランダム文字列を生成する。
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var (
	dummyHashOnce  sync.Once
	dummyHashValue []byte
)

func dummyHash() []byte {
	dummyHashOnce.Do(func() {
		dummyHashValue, _ = bcrypt.GenerateFromPassword([]byte("warren-dummy-password"), bcrypt.DefaultCost)
	})
	return dummyHashValue
}

// compile-time interface check
var _ session.Provider = (*Service)(nil)

package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/repository"
	"github.com/hitoshi/warren/internal/session"
)

// --- インメモリのリポジトリ ---

type memAccounts struct {
	mu            sync.Mutex
	users         map[string]*model.User
	profiles      map[string]*model.Profile
	identities    []*model.Identity
	confirmations map[string]*model.EmailConfirmation

	findByEmailErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		users:         map[string]*model.User{},
		profiles:      map[string]*model.Profile{},
		confirmations: map[string]*model.EmailConfirmation{},
	}
}

func (m *memAccounts) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) CreateAccount(_ context.Context, user *model.User, profile *model.Profile, identity *model.Identity, confirmation *model.EmailConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	m.profiles[user.ID] = profile
	if identity != nil {
		m.identities = append(m.identities, identity)
	}
	if confirmation != nil {
		m.confirmations[confirmation.Token] = confirmation
	}
	return nil
}

func (m *memAccounts) MarkConfirmed(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	if u.ConfirmedAt == nil {
		u.ConfirmedAt = &at
	}
	return nil
}

func (m *memAccounts) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.Provider == provider && i.ProviderUserID == providerUserID {
			return i, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) CreateIdentity(_ context.Context, identity *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, identity)
	return nil
}

func (m *memAccounts) Consume(_ context.Context, token string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirmations[token]
	if !ok || !now.Before(c.ExpiresAt) {
		return "", nil
	}
	delete(m.confirmations, token)
	return c.UserID, nil
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]*model.Session{}}
}

func (m *memSessions) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *memSessions) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) DeleteByUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

type mockMailer struct {
	mu    sync.Mutex
	links map[string]string
	err   error
}

func (m *mockMailer) SendConfirmation(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.links == nil {
		m.links = map[string]string{}
	}
	m.links[email] = link
	return nil
}

type mockOAuthProvider struct {
	name           string
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) Name() string { return m.name }

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not implemented")
}

type mockEventSource struct {
	payloads []string
}

func (m *mockEventSource) Listen(ctx context.Context, channel string, handle func(string)) error {
	for _, p := range m.payloads {
		handle(p)
	}
	<-ctx.Done()
	return ctx.Err()
}

// --- compile-time interface checks ---
var (
	_ repository.UserRepository         = (*memAccounts)(nil)
	_ repository.IdentityRepository     = (*memAccounts)(nil)
	_ repository.ConfirmationRepository = (*memAccounts)(nil)
	_ repository.SessionRepository      = (*memSessions)(nil)
	_ OAuthProvider                     = (*mockOAuthProvider)(nil)
	_ EventSource                       = (*mockEventSource)(nil)
)

type testEnv struct {
	svc      *Service
	accounts *memAccounts
	sessions *memSessions
	mailer   *mockMailer
}

func newTestEnv(oauth ...OAuthProvider) *testEnv {
	env := &testEnv{
		accounts: newMemAccounts(),
		sessions: newMemSessions(),
		mailer:   &mockMailer{},
	}
	env.svc = NewService(Dependencies{
		Users:         env.accounts,
		Identities:    env.accounts,
		Sessions:      env.sessions,
		Confirmations: env.accounts,
		Mailer:        env.mailer,
		OAuth:         oauth,
	}, ServiceConfig{
		SessionMaxAge:   time.Hour,
		ConfirmationTTL: time.Hour,
		Secret:          []byte("test-secret"),
		BaseURL:         "https://warren.example/",
		BcryptCost:      bcrypt.MinCost,
	})
	return env
}

func wantAuthMessage(t *testing.T, err error, msg string) {
	t.Helper()
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("error = %v, want auth APIError", err)
	}
	if apiErr.Category != model.ErrCategoryAuth || apiErr.Message != msg {
		t.Errorf("error = %q (%s), want %q", apiErr.Message, apiErr.Category, msg)
	}
}

// confirmToken はメール送信されたリンクから確認トークンを取り出す。
func (e *testEnv) confirmToken(t *testing.T, email string) string {
	t.Helper()
	e.mailer.mu.Lock()
	link := e.mailer.links[email]
	e.mailer.mu.Unlock()
	_, token, ok := strings.Cut(link, "token=")
	if !ok {
		t.Fatalf("no confirmation link sent to %s (got %q)", email, link)
	}
	return token
}

// --- テスト ---

func TestSignUp_ConfirmThenSignIn(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if err := env.svc.SignUpWithPassword(ctx, "  Alice@Example.com ", "Abcdef12!"); err != nil {
		t.Fatalf("SignUpWithPassword() error: %v", err)
	}

	// 確認前はサインインできない
	_, err := env.svc.SignInWithPassword(ctx, "alice@example.com", "Abcdef12!")
	wantAuthMessage(t, err, msgEmailNotConfirmed)

	link := env.mailer.links["alice@example.com"]
	if !strings.HasPrefix(link, "https://warren.example/auth/confirm?token=") {
		t.Errorf("confirmation link = %q", link)
	}
	if err := env.svc.ConfirmEmail(ctx, env.confirmToken(t, "alice@example.com")); err != nil {
		t.Fatalf("ConfirmEmail() error: %v", err)
	}

	token, err := env.svc.SignInWithPassword(ctx, "ALICE@example.com", "Abcdef12!")
	if err != nil {
		t.Fatalf("SignInWithPassword() error: %v", err)
	}
	if token.Value == "" || token.Identity.Email != "alice@example.com" {
		t.Errorf("token = %+v", token)
	}

	identity, err := env.svc.GetSession(ctx, token.Value)
	if err != nil || identity == nil {
		t.Fatalf("GetSession() = %v, %v", identity, err)
	}
	if identity.UserID != token.Identity.UserID || identity.SessionID != token.Identity.SessionID {
		t.Errorf("GetSession() = %+v, want %+v", identity, token.Identity)
	}

	profile := env.accounts.profiles[identity.UserID]
	if profile == nil || profile.Username != "alice" {
		t.Errorf("profile = %+v, want username alice", profile)
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if err := env.svc.SignUpWithPassword(ctx, "bob@example.com", "Abcdef12!"); err != nil {
		t.Fatal(err)
	}
	err := env.svc.SignUpWithPassword(ctx, "Bob@Example.com", "Other123!")
	wantAuthMessage(t, err, msgAlreadyRegistered)
}

func TestSignUp_RejectsBadInput(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	wantAuthMessage(t, env.svc.SignUpWithPassword(ctx, "not-an-email", "Abcdef12!"), msgInvalidEmail)
	wantAuthMessage(t, env.svc.SignUpWithPassword(ctx, "c@example.com", "abc"), msgWeakPassword)
}

func TestSignUp_MailerFailureIsNotAuthError(t *testing.T) {
	env := newTestEnv()
	env.mailer.err = errors.New("smtp down")

	err := env.svc.SignUpWithPassword(context.Background(), "d@example.com", "Abcdef12!")
	if err == nil || model.IsCategory(err, model.ErrCategoryAuth) {
		t.Errorf("error = %v, want plain infrastructure error", err)
	}
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if err := env.svc.SeedDemoAccount(ctx, "demo@warren.app", "Demo1234!"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "demo@warren.app", "nope"},
		{"unknown user", "ghost@warren.app", "Demo1234!"},
		{"malformed email", "demo", "Demo1234!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.SignInWithPassword(ctx, tt.email, tt.password)
			wantAuthMessage(t, err, msgInvalidCredentials)
		})
	}
}

func TestSignIn_RepositoryOutageIsNotAuthRejection(t *testing.T) {
	env := newTestEnv()
	env.accounts.findByEmailErr = errors.New("connection refused")

	_, err := env.svc.SignInWithPassword(context.Background(), "a@example.com", "Abcdef12!")
	if err == nil || model.IsCategory(err, model.ErrCategoryAuth) {
		t.Errorf("error = %v, want wrapped infrastructure error", err)
	}
}

func TestSeedDemoAccount_IdempotentAndConfirmed(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.svc.SeedDemoAccount(ctx, "demo@warren.app", "Demo1234!"); err != nil {
			t.Fatalf("SeedDemoAccount() #%d error: %v", i, err)
		}
	}
	if len(env.accounts.users) != 1 {
		t.Errorf("users = %d, want 1", len(env.accounts.users))
	}
	if _, err := env.svc.SignInWithPassword(ctx, "demo@warren.app", "Demo1234!"); err != nil {
		t.Errorf("demo sign-in error: %v", err)
	}
}

func TestConfirmEmail_InvalidOrReusedToken(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	wantAuthMessage(t, env.svc.ConfirmEmail(ctx, ""), msgInvalidLink)
	wantAuthMessage(t, env.svc.ConfirmEmail(ctx, "unknown"), msgInvalidLink)

	if err := env.svc.SignUpWithPassword(ctx, "e@example.com", "Abcdef12!"); err != nil {
		t.Fatal(err)
	}
	token := env.confirmToken(t, "e@example.com")
	if err := env.svc.ConfirmEmail(ctx, token); err != nil {
		t.Fatal(err)
	}
	wantAuthMessage(t, env.svc.ConfirmEmail(ctx, token), msgInvalidLink)
}

func TestSignOut_RevokesSession(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if err := env.svc.SeedDemoAccount(ctx, "demo@warren.app", "Demo1234!"); err != nil {
		t.Fatal(err)
	}
	token, err := env.svc.SignInWithPassword(ctx, "demo@warren.app", "Demo1234!")
	if err != nil {
		t.Fatal(err)
	}

	if err := env.svc.SignOut(ctx, token.Value); err != nil {
		t.Fatalf("SignOut() error: %v", err)
	}
	identity, err := env.svc.GetSession(ctx, token.Value)
	if err != nil || identity != nil {
		t.Errorf("GetSession() after sign-out = %v, %v; want nil", identity, err)
	}

	// 不正なトークンでのサインアウトはエラーにしない
	if err := env.svc.SignOut(ctx, "garbage"); err != nil {
		t.Errorf("SignOut(garbage) error: %v", err)
	}
}

func TestGetSession_RejectsTamperedAndExpiredTokens(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if err := env.svc.SeedDemoAccount(ctx, "demo@warren.app", "Demo1234!"); err != nil {
		t.Fatal(err)
	}
	token, err := env.svc.SignInWithPassword(ctx, "demo@warren.app", "Demo1234!")
	if err != nil {
		t.Fatal(err)
	}

	other := tokenSigner{secret: []byte("other-secret"), now: time.Now}
	forged, _ := other.issue(token.Identity.UserID, token.Identity.SessionID, time.Now().Add(time.Hour))
	if id, _ := env.svc.GetSession(ctx, forged); id != nil {
		t.Error("token signed with another secret must be rejected")
	}

	env.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if id, _ := env.svc.GetSession(ctx, token.Value); id != nil {
		t.Error("expired token must be rejected")
	}
}

func TestOAuth_CreatesUserThenReusesIdentity(t *testing.T) {
	google := &mockOAuthProvider{
		name: "google",
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				Provider: "google", ProviderUserID: "g-1", Email: "G@Example.com",
				EmailVerified: true, Name: "Gee", AvatarURL: "https://example.com/a.png",
			}, nil
		},
	}
	env := newTestEnv(google)
	ctx := context.Background()

	u, err := env.svc.OAuthLoginURL("google", "st")
	if err != nil || !strings.HasSuffix(u, "state=st") {
		t.Errorf("OAuthLoginURL() = %q, %v", u, err)
	}

	first, err := env.svc.ExchangeOAuth(ctx, "google", "code")
	if err != nil {
		t.Fatalf("ExchangeOAuth() error: %v", err)
	}
	second, err := env.svc.ExchangeOAuth(ctx, "google", "code")
	if err != nil {
		t.Fatalf("ExchangeOAuth() second error: %v", err)
	}
	if first.Identity.UserID != second.Identity.UserID {
		t.Errorf("second login created another user: %s != %s", first.Identity.UserID, second.Identity.UserID)
	}
	if len(env.accounts.users) != 1 {
		t.Errorf("users = %d, want 1", len(env.accounts.users))
	}
	profile := env.accounts.profiles[first.Identity.UserID]
	if profile.Username != "Gee" || profile.AvatarURL != "https://example.com/a.png" {
		t.Errorf("profile = %+v", profile)
	}
}

func TestOAuth_LinksVerifiedEmailToExistingUser(t *testing.T) {
	google := &mockOAuthProvider{
		name: "google",
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{Provider: "google", ProviderUserID: "g-2", Email: "demo@warren.app", EmailVerified: code == "verified"}, nil
		},
	}
	env := newTestEnv(google)
	ctx := context.Background()
	if err := env.svc.SeedDemoAccount(ctx, "demo@warren.app", "Demo1234!"); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.ExchangeOAuth(ctx, "google", "unverified")
	wantAuthMessage(t, err, msgAlreadyRegistered)

	token, err := env.svc.ExchangeOAuth(ctx, "google", "verified")
	if err != nil {
		t.Fatalf("ExchangeOAuth() error: %v", err)
	}
	if token.Identity.Email != "demo@warren.app" || len(env.accounts.users) != 1 {
		t.Errorf("identity = %+v, users = %d", token.Identity, len(env.accounts.users))
	}
}

func TestOAuth_UnsupportedProvider(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.OAuthLoginURL("github", "st")
	wantAuthMessage(t, err, "Unsupported provider: github")

	_, err = env.svc.ExchangeOAuth(context.Background(), "github", "code")
	wantAuthMessage(t, err, "Unsupported provider: github")
}

func TestSubscribe_ParsesPayloads(t *testing.T) {
	env := newTestEnv()
	env.svc.events = &mockEventSource{payloads: []string{"session:s1", "user:u1", "bogus", ""}}

	ctx, cancel := context.WithCancel(context.Background())
	var got []session.Event
	done := make(chan error, 1)
	go func() {
		done <- env.svc.Subscribe(ctx, func(ev session.Event) {
			got = append(got, ev)
			if len(got) == 3 {
				cancel()
			}
		})
	}()
	<-done

	want := []session.Event{
		{Kind: session.EventRevoked, SessionID: "s1"},
		{Kind: session.EventRevoked, UserID: "u1"},
		{Kind: session.EventRevoked},
	}
	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  User@Example.COM ", "user@example.com", false},
		{"user@bücher.example", "user@xn--bcher-kva.example", false},
		{"no-at-sign", "", true},
		{"Name <user@example.com>", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeEmail(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeEmail(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

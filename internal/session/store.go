package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/warren/internal/metrics"
	"github.com/hitoshi/warren/internal/model"
)

// Config はStoreの設定。
type Config struct {
	// CacheTTL はプロバイダーへ再問い合わせするまでIdentityを保持する期間。
	// トークンの有効期限を超えて保持することはない。
	CacheTTL time.Duration
	// RetryInterval はReadyや購読が失敗したときの再試行間隔。
	RetryInterval time.Duration
	Metrics       metrics.MetricsCollector
}

// maxFillAttempts はプロバイダー参照中に失効が起きたときの再参照回数の上限。
const maxFillAttempts = 3

type cacheEntry struct {
	identity *Identity
	expires  time.Time
}

// Store はトークンごとの認証状態を保持する。
// 生成直後はローディング状態で、Startでプロバイダーの準備が完了すると解除される。
type Store struct {
	provider Provider
	cfg      Config
	now      func() time.Time

	loading   atomic.Bool
	startOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.RWMutex
	cache   map[string]cacheEntry
	pending map[string]int // サインアウト処理中のトークン
	gen     uint64         // 失効のたびに増える世代番号

	obsMu     sync.Mutex
	observers map[uint64]Observer
	nextObsID uint64
}

// NewStore はローディング状態のStoreを生成する。
func NewStore(provider Provider, cfg Config) *Store {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	s := &Store{
		provider:  provider,
		cfg:       cfg,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
		pending:   make(map[string]int),
		observers: make(map[uint64]Observer),
	}
	s.loading.Store(true)
	return s
}

// Start はバックグラウンドでプロバイダーの準備完了を待ち、その後ctxが終了するまで
// プロバイダーからの通知を購読する。2回目以降の呼び出しは何もしない。
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(2)
		go s.run(ctx)
		go s.sweep(ctx)
	})
}

// Wait はStartで起動したゴルーチンの終了を待つ。
func (s *Store) Wait() {
	s.wg.Wait()
}

// Loading はプロバイダーの準備が完了していないかどうかを返す。
func (s *Store) Loading() bool {
	return s.loading.Load()
}

func (s *Store) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		err := s.provider.Ready(ctx)
		if err == nil {
			break
		}
		slog.Warn("auth provider not ready",
			slog.String("error", err.Error()),
		)
		if !sleep(ctx, s.cfg.RetryInterval) {
			return
		}
	}

	s.loading.Store(false)
	slog.Info("session store ready")
	s.notify(Event{Kind: EventReady})

	for {
		err := s.provider.Subscribe(ctx, s.handleEvent)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("auth event subscription failed",
				slog.String("error", err.Error()),
			)
		}
		// 購読が途切れた間の失効を取りこぼさないようキャッシュを破棄する
		s.purge()
		if !sleep(ctx, s.cfg.RetryInterval) {
			return
		}
	}
}

// sweep は期限切れのキャッシュを定期的に削除する。
func (s *Store) sweep(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for token, e := range s.cache {
				if !now.Before(e.expires) {
					delete(s.cache, token)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Store) handleEvent(ev Event) {
	if ev.Kind != EventRevoked {
		return
	}
	if ev.SessionID == "" && ev.UserID == "" {
		// 対象を特定できない失効は全キャッシュを破棄する
		s.purge()
		s.cfg.Metrics.RecordSessionRevoked()
		s.notify(ev)
		return
	}
	s.mu.Lock()
	for token, e := range s.cache {
		if (ev.SessionID != "" && e.identity.SessionID == ev.SessionID) ||
			(ev.UserID != "" && e.identity.UserID == ev.UserID) {
			delete(s.cache, token)
		}
	}
	s.gen++
	s.mu.Unlock()

	s.cfg.Metrics.RecordSessionRevoked()
	s.notify(ev)
}

func (s *Store) purge() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.gen++
	s.mu.Unlock()
}

// Session はトークンに対応する現在の認証状態を返す。
// 無効・失効済みのトークンやプロバイダーの障害時はIdentityがnilになる。
func (s *Store) Session(ctx context.Context, token string) Session {
	if s.loading.Load() {
		return Session{IsLoading: true}
	}
	if token == "" {
		return Session{}
	}

	for attempt := 0; attempt < maxFillAttempts; attempt++ {
		s.mu.RLock()
		if s.pending[token] > 0 {
			s.mu.RUnlock()
			return Session{}
		}
		e, ok := s.cache[token]
		gen := s.gen
		s.mu.RUnlock()

		if ok && s.now().Before(e.expires) {
			s.cfg.Metrics.RecordSessionLookup(true)
			return Session{Identity: e.identity}
		}
		s.cfg.Metrics.RecordSessionLookup(false)

		identity, err := s.provider.GetSession(ctx, token)
		if err != nil {
			slog.Error("failed to resolve session",
				slog.String("error", err.Error()),
			)
			return Session{}
		}

		s.mu.Lock()
		if s.pending[token] > 0 {
			s.mu.Unlock()
			return Session{}
		}
		if s.gen != gen {
			// 参照中に失効が起きたため、結果を破棄して引き直す
			s.mu.Unlock()
			continue
		}
		if identity == nil {
			delete(s.cache, token)
			s.mu.Unlock()
			return Session{}
		}
		s.store(token, identity)
		s.mu.Unlock()
		return Session{Identity: identity}
	}
	return Session{}
}

// store はs.muを保持した状態で呼び出すこと。
func (s *Store) store(token string, identity *Identity) {
	expires := s.now().Add(s.cfg.CacheTTL)
	if !identity.ExpiresAt.IsZero() && identity.ExpiresAt.Before(expires) {
		expires = identity.ExpiresAt
	}
	s.cache[token] = cacheEntry{identity: identity, expires: expires}
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) (Token, error) {
	if s.loading.Load() {
		return Token{}, model.NewAuthUnavailableError()
	}
	token, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Token{}, authError(err)
	}
	s.signedIn(token)
	return token, nil
}

// SignUpWithPassword はアカウントを作成する。セッションは発行されず、
// 確認リンクが別経路で送信される。
func (s *Store) SignUpWithPassword(ctx context.Context, email, password string) error {
	if s.loading.Load() {
		return model.NewAuthUnavailableError()
	}
	if err := s.provider.SignUpWithPassword(ctx, email, password); err != nil {
		return authError(err)
	}
	return nil
}

// SignInWithOAuth は外部の同意画面へのリダイレクトURLを返す。
// 結果は後からCompleteOAuthで受け取る。
func (s *Store) SignInWithOAuth(provider, state string) (string, error) {
	if s.loading.Load() {
		return "", model.NewAuthUnavailableError()
	}
	u, err := s.provider.OAuthLoginURL(provider, state)
	if err != nil {
		return "", authError(err)
	}
	return u, nil
}

// CompleteOAuth は同意画面から戻った認可コードでサインインを完了する。
func (s *Store) CompleteOAuth(ctx context.Context, provider, code string) (Token, error) {
	if s.loading.Load() {
		return Token{}, model.NewAuthUnavailableError()
	}
	token, err := s.provider.ExchangeOAuth(ctx, provider, code)
	if err != nil {
		return Token{}, authError(err)
	}
	s.signedIn(token)
	return token, nil
}

func (s *Store) signedIn(token Token) {
	identity := token.Identity
	s.mu.Lock()
	s.store(token.Value, &identity)
	s.mu.Unlock()
	s.notify(Event{Kind: EventSignedIn, SessionID: identity.SessionID, UserID: identity.UserID})
}

// SignOut はセッションを破棄する。プロバイダーを呼び出す前にキャッシュを
// 無効化するため、以降のSessionの呼び出しがこのトークンを認証済みとして返すことはない。
func (s *Store) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	s.mu.Lock()
	var ev Event
	if e, ok := s.cache[token]; ok {
		ev = Event{SessionID: e.identity.SessionID, UserID: e.identity.UserID}
		delete(s.cache, token)
	}
	s.pending[token]++
	s.gen++
	s.mu.Unlock()

	err := s.provider.SignOut(ctx, token)

	s.mu.Lock()
	if s.pending[token]--; s.pending[token] <= 0 {
		delete(s.pending, token)
	}
	s.gen++
	s.mu.Unlock()

	if err != nil {
		return authError(err)
	}
	ev.Kind = EventSignedOut
	s.notify(ev)
	return nil
}

// Subscribe はObserverを登録し、登録解除用の関数を返す。
// 登録解除は何度呼び出しても安全。
func (s *Store) Subscribe(o Observer) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = o
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) notify(ev Event) {
	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.Unlock()

	for _, o := range observers {
		o.SessionChanged(ev)
	}
}

// authError はプロバイダーのエラーを認証エラーに揃える。
// APIError以外のエラー（通信障害等）はログに残し、利用不可エラーに置き換える。
func authError(err error) error {
	if _, ok := model.AsAPIError(err); ok {
		return err
	}
	slog.Error("auth provider error",
		slog.String("error", err.Error()),
	)
	return model.NewAuthUnavailableError()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package feed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/warren/internal/model"
)

// State はビューの取得状態を表す。
type State int

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lister はケース一覧の取得元。cases.Serviceが満たす。
type Lister interface {
	ListCases(ctx context.Context) ([]model.Case, error)
}

// View は1回の取得で得たケース一覧（ワーキングセット）のスナップショット。
// Casesは共有されるため変更してはならない。
type View struct {
	ID        string
	State     State
	Cases     []model.Case
	Err       error
	CreatedAt time.Time
}

// Find はワーキングセットから指定IDのケースを探す。
func (v View) Find(id string) (*model.Case, bool) {
	for i := range v.Cases {
		if v.Cases[i].ID == id {
			c := v.Cases[i]
			return &c, true
		}
	}
	return nil, false
}

// ViewsConfig はViewsの設定。
type ViewsConfig struct {
	// TTL はビューを保持する期間。
	TTL time.Duration
	// MaxPerOwner はユーザーごとに保持するビュー数の上限。超えた分は古い順に破棄する。
	MaxPerOwner int
	// LoadTimeout は1回の取得にかける時間の上限。
	LoadTimeout time.Duration
}

// DefaultViewsConfig はデフォルト設定を返す。
func DefaultViewsConfig() ViewsConfig {
	return ViewsConfig{
		TTL:         10 * time.Minute,
		MaxPerOwner: 5,
		LoadTimeout: 15 * time.Second,
	}
}

type viewEntry struct {
	owner string
	seq   uint64
	view  View
	done  chan struct{}
}

// Views はアクティブ化されたビューをビューIDごとに保持する。
// 絞り込み条件の変更は同じワーキングセットに対して再評価し、再取得しない。
type Views struct {
	lister Lister
	config ViewsConfig
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*viewEntry
	seq     uint64

	wg sync.WaitGroup
}

// NewViews はViewsを生成する。
func NewViews(lister Lister, config ViewsConfig) *Views {
	def := DefaultViewsConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.MaxPerOwner <= 0 {
		config.MaxPerOwner = def.MaxPerOwner
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = def.LoadTimeout
	}
	return &Views{
		lister:  lister,
		config:  config,
		now:     time.Now,
		entries: make(map[string]*viewEntry),
	}
}

// Activate は新しいビューを作成し、バックグラウンドでケース一覧の取得を開始する。
// 取得はリクエストの終了に影響されず、LoadTimeoutで打ち切られる。
func (vs *Views) Activate(ctx context.Context, owner string) (string, error) {
	id, err := newViewID()
	if err != nil {
		return "", err
	}

	e := &viewEntry{
		owner: owner,
		view:  View{ID: id, State: StateLoading, CreatedAt: vs.now()},
		done:  make(chan struct{}),
	}

	vs.mu.Lock()
	vs.expireLocked()
	vs.seq++
	e.seq = vs.seq
	vs.entries[id] = e
	vs.trimOwnerLocked(owner)
	vs.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), vs.config.LoadTimeout)
	vs.wg.Add(1)
	go func() {
		defer vs.wg.Done()
		defer cancel()
		vs.load(loadCtx, e)
	}()

	return id, nil
}

func (vs *Views) load(ctx context.Context, e *viewEntry) {
	defer close(e.done)

	cases, err := vs.lister.ListCases(ctx)

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if cur, ok := vs.entries[e.view.ID]; !ok || cur != e {
		// 置き換え・期限切れになったビューには結果を反映しない
		slog.Debug("discarding result for superseded view",
			slog.String("view_id", e.view.ID),
		)
		return
	}
	if err != nil {
		e.view.State = StateFailed
		e.view.Err = err
		return
	}
	e.view.State = StateReady
	e.view.Cases = cases
}

// Get はビューの現在のスナップショットを返す。
// 存在しない、期限切れ、または別ユーザーのビューの場合はfalseを返す。
func (vs *Views) Get(owner, id string) (View, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	e, ok := vs.entries[id]
	if !ok || e.owner != owner {
		return View{}, false
	}
	if vs.expiredLocked(e) {
		delete(vs.entries, id)
		return View{}, false
	}
	return e.view, true
}

// Await はビューの取得完了を最大maxWaitまで待ち、その時点のスナップショットを返す。
// 時間内に完了しなかった場合はローディング状態のスナップショットを返す。
func (vs *Views) Await(ctx context.Context, owner, id string, maxWait time.Duration) (View, bool) {
	vs.mu.Lock()
	e, ok := vs.entries[id]
	vs.mu.Unlock()
	if !ok || e.owner != owner {
		return View{}, false
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-e.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	return vs.Get(owner, id)
}

// Wait は実行中の取得が全て終了するまで待つ。
func (vs *Views) Wait() {
	vs.wg.Wait()
}

// Len は保持しているビューの数を返す。
func (vs *Views) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.entries)
}

func (vs *Views) expiredLocked(e *viewEntry) bool {
	return vs.now().Sub(e.view.CreatedAt) > vs.config.TTL
}

func (vs *Views) expireLocked() {
	for id, e := range vs.entries {
		if vs.expiredLocked(e) {
			delete(vs.entries, id)
		}
	}
}

// trimOwnerLocked はユーザーのビュー数が上限を超えた分を古い順に破棄する。
func (vs *Views) trimOwnerLocked(owner string) {
	for {
		var (
			count  int
			oldest *viewEntry
		)
		for _, e := range vs.entries {
			if e.owner != owner {
				continue
			}
			count++
			if oldest == nil || e.seq < oldest.seq {
				oldest = e
			}
		}
		if count <= vs.config.MaxPerOwner {
			return
		}
		delete(vs.entries, oldest.view.ID)
	}
}

func newViewID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

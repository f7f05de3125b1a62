// Package detail はケース詳細ページの解決と、いいね・保存の一時的な状態を扱う。
package detail

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"

	"github.com/hitoshi/warren/internal/feed"
	"github.com/hitoshi/warren/internal/model"
)

// Getter はIDでケースを取得する。cases.Serviceが満たす。
type Getter interface {
	GetCase(ctx context.Context, id string) (*model.Case, error)
}

// ViewSource は取得済みのフィードビュー。feed.Viewsが満たす。
type ViewSource interface {
	Get(owner, id string) (feed.View, bool)
}

// Resolver はケースを取得済みのビューまたはリポジトリから解決する。
type Resolver struct {
	cases Getter
	views ViewSource
}

// NewResolver はResolverを生成する。viewsはnilでもよい。
func NewResolver(cases Getter, views ViewSource) *Resolver {
	return &Resolver{cases: cases, views: views}
}

// Resolve はケースを返す。viewIDのビューが準備済みでケースを含む場合はそれを使い、
// それ以外はリポジトリから取得する。存在しない場合はnil, nilを返す。
func (r *Resolver) Resolve(ctx context.Context, owner, viewID, caseID string) (*model.Case, error) {
	if r.views != nil && viewID != "" {
		if v, ok := r.views.Get(owner, viewID); ok && v.State == feed.StateReady {
			if c, ok := v.Find(caseID); ok {
				return c, nil
			}
		}
	}
	return r.cases.GetCase(ctx, caseID)
}

// Interaction はページ上だけで保持するいいね・保存の状態。永続化はしない。
// 表示件数は保存済みの件数に対して、現在の状態が初期状態と異なる場合だけ±1する。
type Interaction struct {
	baseLikes int
	baseSaves int
	initLiked bool
	initSaved bool
	liked     bool
	saved     bool
}

// NewInteraction はケースの保存済み件数と初期状態からInteractionを生成する。
func NewInteraction(c model.Case) Interaction {
	return Interaction{
		baseLikes: c.LikeCount,
		baseSaves: c.SaveCount,
		initLiked: c.Liked,
		initSaved: c.Saved,
		liked:     c.Liked,
		saved:     c.Saved,
	}
}

// ParseInteraction はURLのクエリ（liked=1, saved=1）から現在の状態を復元する。
// クエリが無い項目は初期状態のまま。
func ParseInteraction(c model.Case, q url.Values) Interaction {
	i := NewInteraction(c)
	if q.Has("liked") {
		i.liked = q.Get("liked") == "1"
	}
	if q.Has("saved") {
		i.saved = q.Get("saved") == "1"
	}
	return i
}

func (i *Interaction) ToggleLike() { i.liked = !i.liked }
func (i *Interaction) ToggleSave() { i.saved = !i.saved }

func (i Interaction) Liked() bool { return i.liked }
func (i Interaction) Saved() bool { return i.saved }

func (i Interaction) LikeCount() int { return adjust(i.baseLikes, i.initLiked, i.liked) }
func (i Interaction) SaveCount() int { return adjust(i.baseSaves, i.initSaved, i.saved) }

func adjust(base int, initial, current bool) int {
	switch {
	case current && !initial:
		return base + 1
	case !current && initial:
		return base - 1
	default:
		return base
	}
}

// Values は現在の状態をクエリとして返す。
func (i Interaction) Values() url.Values {
	q := url.Values{}
	q.Set("liked", boolParam(i.liked))
	q.Set("saved", boolParam(i.saved))
	return q
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Marks はカード一覧でのいいね・保存の一時的な状態。
// クエリのliked, savedに、初期状態から切り替えたケースのIDを並べて保持する（liked=c1&liked=c3）。
type Marks struct {
	liked map[string]bool
	saved map[string]bool
}

// ParseMarks はURLのクエリからMarksを復元する。
func ParseMarks(q url.Values) Marks {
	return Marks{liked: idSet(q["liked"]), saved: idSet(q["saved"])}
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}

// Interaction はカードの現在の状態を返す。
func (m Marks) Interaction(c model.Case) Interaction {
	i := NewInteraction(c)
	if m.liked[c.ID] {
		i.ToggleLike()
	}
	if m.saved[c.ID] {
		i.ToggleSave()
	}
	return i
}

// Changed はケースのいずれかの状態が初期状態から切り替わっているかを返す。
func (m Marks) Changed(caseID string) bool {
	return m.liked[caseID] || m.saved[caseID]
}

// ToggleLike はケースのいいねを切り替えたMarksを返す。mは変更しない。
func (m Marks) ToggleLike(caseID string) Marks {
	return Marks{liked: toggled(m.liked, caseID), saved: m.saved}
}

// ToggleSave はケースの保存を切り替えたMarksを返す。mは変更しない。
func (m Marks) ToggleSave(caseID string) Marks {
	return Marks{liked: m.liked, saved: toggled(m.saved, caseID)}
}

func toggled(set map[string]bool, id string) map[string]bool {
	out := maps.Clone(set)
	if out == nil {
		out = make(map[string]bool)
	}
	if out[id] {
		delete(out, id)
	} else {
		out[id] = true
	}
	return out
}

// Encode はqのliked, savedを現在の状態で置き換える。IDは昇順に並べる。
func (m Marks) Encode(q url.Values) {
	q.Del("liked")
	q.Del("saved")
	for _, id := range slices.Sorted(maps.Keys(m.liked)) {
		q.Add("liked", id)
	}
	for _, id := range slices.Sorted(maps.Keys(m.saved)) {
		q.Add("saved", id)
	}
}

// ShareURL はケース詳細ページの絶対URLを返す。
func ShareURL(baseURL, caseID string) (string, error) {
	u, err := url.JoinPath(baseURL, "case", caseID)
	if err != nil {
		return "", fmt.Errorf("failed to build share url: %w", err)
	}
	return u, nil
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/warren/internal/detail"
	"github.com/hitoshi/warren/internal/feed"
	"github.com/hitoshi/warren/internal/middleware"
	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/session"
	"github.com/hitoshi/warren/internal/user"
)

// FeedViews はフィードのワーキングセットを管理する。feed.Viewsが満たす。
type FeedViews interface {
	Activate(ctx context.Context, owner string) (string, error)
	Get(owner, id string) (feed.View, bool)
	Await(ctx context.Context, owner, id string, maxWait time.Duration) (feed.View, bool)
}

// ProfileService はプロフィールと自分のケース一覧を提供する。user.Serviceが満たす。
type ProfileService interface {
	Profile(ctx context.Context, identity *session.Identity) (*user.ProfilePage, error)
	Warren(ctx context.Context, identity *session.Identity) ([]model.Case, error)
}

// defaultFeedWait はフィードの取得完了をリクエスト内で待つ時間。
// 超えた場合はローディング表示を返し、ブラウザの再読み込みで結果を表示する。
const defaultFeedWait = 2 * time.Second

// PageHandler はランディング・フィード・マイウォーレン・プロフィールのHTTPハンドラー。
type PageHandler struct {
	views    FeedViews
	profiles ProfileService
	renderer *Renderer
	feedWait time.Duration
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(views FeedViews, profiles ProfileService, renderer *Renderer) *PageHandler {
	return &PageHandler{
		views:    views,
		profiles: profiles,
		renderer: renderer,
		feedWait: defaultFeedWait,
	}
}

// Landing はトップページを表示する。
// GET /
func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "landing", "Document the unknown", nil)
}

type filterLink struct {
	Label  string
	URL    string
	Active bool
}

type hiddenField struct {
	Name  string
	Value string
}

type feedPageData struct {
	ViewID     string
	Filter     string
	Search     string
	Marks      []hiddenField
	Filters    []filterLink
	Cards      []caseCard
	Loading    bool
	Failed     bool
	RefreshURL string
}

// Feed はフィードを表示する。
// ?v= が無い、または期限切れの場合は新しいビューを作成してケース一覧を取得し直す。
// 絞り込みと検索は取得済みのビューに対して行い、再取得しない。
// GET /feed?v=xxx&filter=lore&q=ghost
func (h *PageHandler) Feed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.SessionFromRequest(r).UserID()

	params := r.URL.Query()
	filter, err := feed.ParseFilter(params.Get("filter"))
	if err != nil {
		filter = feed.All()
	}
	query := feed.Query{Filter: filter, Search: params.Get("q")}
	marks := detail.ParseMarks(params)

	viewID := params.Get("v")
	view, ok := h.views.Get(owner, viewID)
	if !ok {
		viewID, err = h.views.Activate(ctx, owner)
		if err != nil {
			slog.Error("failed to activate feed view", slog.String("error", err.Error()))
			h.renderer.Render(w, withFlash(r, errorFlash(model.NewInternalError())),
				http.StatusInternalServerError, "feed", "Feed", feedPageData{Failed: true})
			return
		}
	}
	if !ok || view.State == feed.StateLoading {
		view, ok = h.views.Await(ctx, owner, viewID, h.feedWait)
		if !ok {
			view = feed.View{ID: viewID, State: feed.StateLoading}
		}
	}

	base := feedQuery(viewID, filter.String(), query.Search)
	data := feedPageData{
		ViewID:     viewID,
		Filter:     filter.String(),
		Search:     query.Search,
		Marks:      markFields(marks),
		Filters:    filterLinks(viewID, filter, query.Search, marks),
		RefreshURL: pageURL("/feed", base, marks),
	}

	switch view.State {
	case feed.StateLoading:
		data.Loading = true
		h.renderer.Render(w, r, http.StatusOK, "feed", "Feed", data)
	case feed.StateFailed:
		data.Failed = true
		h.renderer.Render(w, withFlash(r, errorFlash(view.Err)), statusForError(view.Err), "feed", "Feed", data)
	default:
		data.Cards = buildCards(feed.Apply(view.Cases, query), "/feed", base, marks, viewID)
		h.renderer.Render(w, r, http.StatusOK, "feed", "Feed", data)
	}
}

func filterLinks(viewID string, active feed.Filter, search string, marks detail.Marks) []filterLink {
	links := []filterLink{{
		Label:  "All",
		URL:    pageURL("/feed", feedQuery(viewID, feed.All().String(), search), marks),
		Active: active.IsAll(),
	}}
	for _, c := range model.Categories() {
		f := feed.ByCategory(c)
		links = append(links, filterLink{
			Label:  c.Template().Label,
			URL:    pageURL("/feed", feedQuery(viewID, f.String(), search), marks),
			Active: f == active,
		})
	}
	return links
}

func feedQuery(viewID, filter, search string) url.Values {
	q := url.Values{}
	if viewID != "" {
		q.Set("v", viewID)
	}
	if filter != "" && filter != feed.All().String() {
		q.Set("filter", filter)
	}
	if search != "" {
		q.Set("q", search)
	}
	return q
}

func feedURL(viewID, filter, search string) string {
	return pageURL("/feed", feedQuery(viewID, filter, search), detail.Marks{})
}

// pageURL はbaseのクエリにカードの状態を加えたURLを返す。baseは変更しない。
func pageURL(path string, base url.Values, marks detail.Marks) string {
	q := make(url.Values, len(base)+2)
	for k, v := range base {
		q[k] = v
	}
	marks.Encode(q)
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func markFields(marks detail.Marks) []hiddenField {
	q := url.Values{}
	marks.Encode(q)
	var fields []hiddenField
	for _, name := range []string{"liked", "saved"} {
		for _, id := range q[name] {
			fields = append(fields, hiddenField{Name: name, Value: id})
		}
	}
	return fields
}

// buildCards はカード一覧の表示データを組み立てる。
// いいね・保存のリンクはpathのページに戻り、そのカードの状態だけを切り替える。
// 詳細ページへのリンクは、状態を切り替えたカードだけ現在の状態を引き継ぐ。
func buildCards(list []model.Case, path string, base url.Values, marks detail.Marks, viewID string) []caseCard {
	cards := make([]caseCard, 0, len(list))
	for _, c := range list {
		i := marks.Interaction(c)
		q := url.Values{}
		if marks.Changed(c.ID) {
			q = i.Values()
		}
		cards = append(cards, caseCard{
			Case:        c,
			Tags:        c.Tags[:min(len(c.Tags), cardTagLimit)],
			Interaction: i,
			DetailURL:   caseURL(c.ID, viewID, q, false),
			LikeURL:     pageURL(path, base, marks.ToggleLike(c.ID)),
			SaveURL:     pageURL(path, base, marks.ToggleSave(c.ID)),
		})
	}
	return cards
}

type casesPageData struct {
	Cards   []caseCard
	Profile *user.ProfilePage
}

// MyWarren は自分が投稿したケースを表示する。
// GET /my-warren
func (h *PageHandler) MyWarren(w http.ResponseWriter, r *http.Request) {
	identity := middleware.SessionFromRequest(r).Identity

	list, err := h.profiles.Warren(r.Context(), identity)
	if err != nil {
		h.renderer.Render(w, withFlash(r, errorFlash(err)), statusForError(err), "my_warren", "My Warren",
			casesPageData{})
		return
	}
	marks := detail.ParseMarks(r.URL.Query())
	h.renderer.Render(w, r, http.StatusOK, "my_warren", "My Warren",
		casesPageData{Cards: buildCards(list, "/my-warren", nil, marks, "")})
}

// Profile はプロフィールと公開中のケースを表示する。
// GET /profile
func (h *PageHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity := middleware.SessionFromRequest(r).Identity

	p, err := h.profiles.Profile(r.Context(), identity)
	if err != nil {
		setErrorFlash(w, err)
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
		return
	}
	marks := detail.ParseMarks(r.URL.Query())
	h.renderer.Render(w, r, http.StatusOK, "profile", p.DisplayName,
		casesPageData{Cards: buildCards(p.Cases, "/profile", nil, marks, ""), Profile: p})
}

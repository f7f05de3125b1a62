package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/warren/internal/composer"
	"github.com/hitoshi/warren/internal/detail"
	"github.com/hitoshi/warren/internal/middleware"
	"github.com/hitoshi/warren/internal/model"
)

// CaseResolver はケース詳細の表示対象を解決する。detail.Resolverが満たす。
type CaseResolver interface {
	Resolve(ctx context.Context, owner, viewID, caseID string) (*model.Case, error)
}

// CaseHandler はケースの作成と詳細表示のHTTPハンドラー。
type CaseHandler struct {
	creator  composer.Creator
	resolver CaseResolver
	renderer *Renderer
	baseURL  string
}

// NewCaseHandler はCaseHandlerを生成する。baseURLは共有リンクの生成に使う。
func NewCaseHandler(creator composer.Creator, resolver CaseResolver, renderer *Renderer, baseURL string) *CaseHandler {
	return &CaseHandler{
		creator:  creator,
		resolver: resolver,
		renderer: renderer,
		baseURL:  baseURL,
	}
}

type newCasePageData struct {
	Selected  bool
	Category  model.Category
	Fields    []composer.FieldValue
	Tags      string
	Templates []model.Template
}

func composerData(c *composer.Composer) newCasePageData {
	data := newCasePageData{Tags: c.Tags(), Fields: c.Fields()}
	if cat, ok := c.Category(); ok {
		data.Selected = true
		data.Category = cat
	}
	for _, cat := range model.Categories() {
		data.Templates = append(data.Templates, cat.Template())
	}
	return data
}

// NewCase はテンプレート選択、またはテンプレート選択後の空の入力フォームを表示する。
// GET /new-case?template=lore
func (h *CaseHandler) NewCase(w http.ResponseWriter, r *http.Request) {
	c := composer.New()

	if slug := r.URL.Query().Get("template"); slug != "" {
		cat, err := model.ParseCategory(slug)
		if err == nil {
			err = c.Choose(cat)
		}
		if err != nil {
			h.renderer.Render(w, withFlash(r, errorFlash(model.NewValidationError("Unknown case category"))),
				http.StatusBadRequest, "new_case", "New Case", composerData(c))
			return
		}
	}
	h.renderer.Render(w, r, http.StatusOK, "new_case", "New Case", composerData(c))
}

// CreateCase はフォームの内容からケースを作成し、成功したらプロフィールへ遷移する。
// 失敗した場合は入力値を保ったままフォームを再表示する。
// POST /new-case
func (h *CaseHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	c, err := composerFromForm(r)
	if err != nil {
		h.renderer.Render(w, withFlash(r, errorFlash(err)), http.StatusBadRequest, "new_case", "New Case", composerData(c))
		return
	}

	created, err := c.Submit(r.Context(), middleware.SessionFromRequest(r).Identity, h.creator)
	if err != nil {
		h.renderer.Render(w, withFlash(r, errorFlash(err)), statusForError(err), "new_case", "New Case", composerData(c))
		return
	}

	slog.Info("case submitted", slog.String("case_id", created.ID))
	setFlash(w, Flash{
		Kind:        FlashSuccess,
		Title:       "Case saved!",
		Description: "Your case has been added to the database.",
	})
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

// composerFromForm はフォームの値からComposerを復元する。
// 項目はテンプレートの表示順のインデックス（field_0, field_1, ...）で受け取る。
func composerFromForm(r *http.Request) (*composer.Composer, error) {
	c := composer.New()

	cat, err := model.ParseCategory(r.PostFormValue("template"))
	if err != nil {
		return c, model.NewValidationError("Unknown case category")
	}
	if err := c.Choose(cat); err != nil {
		return c, model.NewValidationError("Unknown case category")
	}
	for i, f := range cat.Template().Fields {
		if err := c.Set(f.Label, r.PostFormValue("field_"+strconv.Itoa(i))); err != nil {
			return c, model.NewValidationError(err.Error())
		}
	}
	c.SetTags(r.PostFormValue("tags"))
	return c, nil
}

type casePageData struct {
	Case         *model.Case
	Interaction  detail.Interaction
	BackURL      string
	LikeURL      string
	SaveURL      string
	ShareLinkURL string
	ShareURL     string
}

// Show はケースの詳細を表示する。存在しない場合は404ページを表示する。
// いいね・保存の状態はURLのクエリだけで保持する。
// GET /case/{id}?v=xxx&liked=1&saved=0&share=1
func (h *CaseHandler) Show(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")
	owner := middleware.SessionFromRequest(r).UserID()
	params := r.URL.Query()
	viewID := params.Get("v")

	c, err := h.resolver.Resolve(r.Context(), owner, viewID, caseID)
	if err != nil {
		setErrorFlash(w, err)
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
		return
	}
	if c == nil {
		h.renderer.NotFound(w, r)
		return
	}

	current := detail.ParseInteraction(*c, params)
	like, save := current, current
	like.ToggleLike()
	save.ToggleSave()

	data := casePageData{
		Case:         c,
		Interaction:  current,
		BackURL:      feedURL(viewID, "", ""),
		LikeURL:      caseURL(caseID, viewID, like.Values(), false),
		SaveURL:      caseURL(caseID, viewID, save.Values(), false),
		ShareLinkURL: caseURL(caseID, viewID, current.Values(), true),
	}

	if params.Get("share") == "1" {
		shareURL, err := detail.ShareURL(h.baseURL, caseID)
		if err != nil {
			slog.Error("failed to build share url", slog.String("error", err.Error()))
		} else {
			data.ShareURL = shareURL
			r = withFlash(r, Flash{Kind: FlashSuccess, Title: "Share this case", Description: "Copy the link below."})
		}
	}

	h.renderer.Render(w, r, http.StatusOK, "case", c.Title, data)
}

func caseURL(caseID, viewID string, q url.Values, share bool) string {
	if viewID != "" {
		q.Set("v", viewID)
	}
	if share {
		q.Set("share", "1")
	}
	if len(q) == 0 {
		return "/case/" + url.PathEscape(caseID)
	}
	return "/case/" + url.PathEscape(caseID) + "?" + q.Encode()
}

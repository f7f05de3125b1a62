package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/warren/internal/detail"
	"github.com/hitoshi/warren/internal/middleware"
	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// layoutFiles は全ページに共通で読み込むテンプレート。
var layoutFiles = []string{"templates/layout.html", "templates/partials.html"}

// page はテンプレートに渡す共通の表示データ。
type page struct {
	Title     string
	Path      string
	Identity  *session.Identity
	CSRFToken string
	Flash     *Flash
	Data      any
}

// Renderer は埋め込みテンプレートでページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"categoryLabel": func(c model.Category) string { return c.Template().Label },
	"badge":         func(c model.Category) string { return c.Template().Badge },
	"date":          func(t time.Time) string { return t.Format("Jan 2, 2006") },
	"join":          strings.Join,
	"categories":    model.Categories,
}

// cardTagLimit はカードに表示するタグの数。詳細ページでは全て表示する。
const cardTagLimit = 3

// caseCard はcase-cardテンプレートに渡す値。
type caseCard struct {
	Case        model.Case
	Tags        []string
	Interaction detail.Interaction
	DetailURL   string
	LikeURL     string
	SaveURL     string
}

// NewRenderer は全ページのテンプレートを解析する。
func NewRenderer() (*Renderer, error) {
	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, name := range entries {
		if isLayoutFile(name) {
			continue
		}
		files := append(append([]string{}, layoutFiles...), name)
		t, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, files...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, "templates/"), ".html")
		r.pages[key] = t
	}
	return r, nil
}

func isLayoutFile(name string) bool {
	for _, l := range layoutFiles {
		if l == name {
			return true
		}
	}
	return false
}

// Render はページを描画する。描画に失敗した場合は500を返す。
// 出力はバッファしてから書き込むため、途中で失敗しても壊れたHTMLは送信されない。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	t, ok := rd.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	p := page{
		Title:     title,
		Path:      r.URL.Path,
		Identity:  middleware.SessionFromContext(r.Context()).Identity,
		CSRFToken: middleware.CSRFToken(r.Context()),
		Flash:     takeFlash(w, r),
		Data:      data,
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// RenderLoading は認証状態の確定待ちの画面を描画する。guard.LoadingRendererを満たす。
// ステータスコードは呼び出し側が書き込み済み。
func (rd *Renderer) RenderLoading(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := rd.pages["loading"].ExecuteTemplate(&buf, "layout", page{Title: "Loading", Path: r.URL.Path}); err != nil {
		slog.Error("failed to render loading page", slog.String("error", err.Error()))
		return
	}
	buf.WriteTo(w)
}

// RenderPanic はpanicから復帰したときのエラーページを描画する。
// ステータスコードは呼び出し側が書き込み済み。
func (rd *Renderer) RenderPanic(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := rd.pages["error"].ExecuteTemplate(&buf, "layout", page{Title: "Something went wrong", Path: r.URL.Path}); err != nil {
		return
	}
	buf.WriteTo(w)
}

// NotFound は存在しないページの表示。
func (rd *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	rd.Render(w, r, http.StatusNotFound, "not_found", "Not found", nil)
}

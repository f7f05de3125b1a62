// Package composer はテンプレートに沿ったケース作成フォームの状態を管理する。
package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/session"
)

// State はフォームの状態。
type State int

const (
	// StateTemplateSelection はテンプレート未選択の初期状態。
	StateTemplateSelection State = iota
	// StateFieldEntry はテンプレート選択後の入力状態。
	StateFieldEntry
)

func (s State) String() string {
	switch s {
	case StateTemplateSelection:
		return "template_selection"
	case StateFieldEntry:
		return "field_entry"
	default:
		return "unknown"
	}
}

// Creator はケースの作成先。cases.Serviceが満たす。
type Creator interface {
	CreateCase(ctx context.Context, authorID string, draft model.Draft) (*model.Case, error)
}

// FieldValue は表示用の入力項目と現在の値。
type FieldValue struct {
	Index int
	model.Field
	Value string
}

// Composer はケース作成フォームの状態機械。ゼロ値はテンプレート選択状態。
// リクエストごとに生成して使い、ゴルーチン間で共有しない。
type Composer struct {
	state    State
	category model.Category
	values   map[string]string
	tags     string
}

// New はテンプレート選択状態のComposerを生成する。
func New() *Composer {
	return &Composer{}
}

// State は現在の状態を返す。
func (c *Composer) State() State {
	return c.state
}

// Category は選択中のカテゴリを返す。テンプレート選択状態ではokがfalse。
func (c *Composer) Category() (cat model.Category, ok bool) {
	return c.category, c.state == StateFieldEntry
}

// Choose はテンプレートを選択して入力状態に遷移し、入力済みの値を全て破棄する。
// 同じカテゴリを続けて選択しても1回選択した場合と同じ状態になる。
func (c *Composer) Choose(cat model.Category) error {
	if !cat.Valid() {
		return fmt.Errorf("unknown category: %d", int(cat))
	}
	c.state = StateFieldEntry
	c.category = cat
	c.values = make(map[string]string, len(cat.Template().Fields))
	return nil
}

// ChangeTemplate はテンプレート選択状態に戻る。
func (c *Composer) ChangeTemplate() {
	c.state = StateTemplateSelection
}

// Set は選択中テンプレートの項目に値を設定する。
func (c *Composer) Set(label, value string) error {
	if c.state != StateFieldEntry {
		return fmt.Errorf("no template selected")
	}
	if !c.category.Template().HasField(label) {
		return fmt.Errorf("field %q is not part of the %s template", label, c.category)
	}
	c.values[label] = value
	return nil
}

// Value は項目の値を返す。未入力の項目は空文字列。
func (c *Composer) Value(label string) string {
	return c.values[label]
}

// SetTags はカンマ区切りのタグ入力を設定する。
func (c *Composer) SetTags(raw string) {
	c.tags = raw
}

// Tags はタグ入力の生の値を返す。
func (c *Composer) Tags() string {
	return c.tags
}

// Fields は選択中テンプレートの項目を表示順に返す。
func (c *Composer) Fields() []FieldValue {
	if c.state != StateFieldEntry {
		return nil
	}
	fields := c.category.Template().Fields
	out := make([]FieldValue, len(fields))
	for i, f := range fields {
		out[i] = FieldValue{Index: i, Field: f, Value: c.values[f.Label]}
	}
	return out
}

// Draft は入力内容から作成用の下書きを組み立てる。
func (c *Composer) Draft(authorID string) (model.Draft, error) {
	if c.state != StateFieldEntry {
		return model.Draft{}, model.NewValidationError("Choose a template first")
	}
	tmpl := c.category.Template()

	content := make([]model.ContentEntry, len(tmpl.Fields))
	for i, f := range tmpl.Fields {
		content[i] = model.ContentEntry{Label: f.Label, Value: c.values[f.Label]}
	}

	return model.Draft{
		Category: c.category,
		Title:    c.firstNonEmpty(tmpl.TitleFields, model.UntitledCase),
		Summary:  c.firstNonEmpty(tmpl.SummaryFields, model.NoSummary),
		Tags:     ParseTags(c.tags),
		Content:  content,
		AuthorID: authorID,
	}, nil
}

func (c *Composer) firstNonEmpty(labels []string, fallback string) string {
	for _, label := range labels {
		if v := strings.TrimSpace(c.values[label]); v != "" {
			return v
		}
	}
	return fallback
}

// Submit は下書きを作成先に送信する。
// 未認証の場合は作成先を呼び出さずにPermissionErrorを返す。
// 失敗した場合も状態と入力値はそのまま残る。
func (c *Composer) Submit(ctx context.Context, identity *session.Identity, creator Creator) (*model.Case, error) {
	if identity == nil || identity.UserID == "" {
		return nil, model.NewPermissionError()
	}
	draft, err := c.Draft(identity.UserID)
	if err != nil {
		return nil, err
	}
	return creator.CreateCase(ctx, identity.UserID, draft)
}

// ParseTags はカンマ区切りの文字列をタグに分割する。前後の空白は除去し、空の要素は捨てる。
func ParseTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

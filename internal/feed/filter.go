// Package feed はフィードの絞り込みと、取得済みケース一覧（ビュー）の保持を行う。
package feed

import (
	"fmt"
	"strings"

	"github.com/hitoshi/warren/internal/model"
)

// FilterAllValue は全カテゴリを表すフィルタの文字列表現。
const FilterAllValue = "all"

// Filter はカテゴリによる絞り込み条件を表す。ゼロ値は全カテゴリ。
type Filter struct {
	category model.Category
	set      bool
}

// All は全カテゴリのフィルタを返す。
func All() Filter {
	return Filter{}
}

// ByCategory は指定カテゴリのみに絞り込むフィルタを返す。
func ByCategory(c model.Category) Filter {
	return Filter{category: c, set: true}
}

// ParseFilter はクエリ文字列のフィルタ値を解析する。空文字列は"all"として扱う。
func ParseFilter(s string) (Filter, error) {
	if s == "" || s == FilterAllValue {
		return All(), nil
	}
	c, err := model.ParseCategory(s)
	if err != nil {
		return Filter{}, fmt.Errorf("invalid filter: %w", err)
	}
	return ByCategory(c), nil
}

// IsAll は全カテゴリのフィルタかどうかを返す。
func (f Filter) IsAll() bool {
	return !f.set
}

// Category は絞り込むカテゴリを返す。全カテゴリの場合のokはfalse。
func (f Filter) Category() (c model.Category, ok bool) {
	return f.category, f.set
}

func (f Filter) String() string {
	if !f.set {
		return FilterAllValue
	}
	return f.category.String()
}

// Matches はケースがフィルタに一致するかどうかを返す。
func (f Filter) Matches(c model.Case) bool {
	return !f.set || c.Category == f.category
}

// Query はフィードの検索条件。
type Query struct {
	Filter Filter
	Search string
}

// Matches はケースが検索条件に一致するかどうかを返す。
// 検索文字列が空でなければ、タイトルに大文字小文字を区別せず含まれるか、
// いずれかのタグに小文字化した検索文字列が含まれる場合に一致する。
func (q Query) Matches(c model.Case) bool {
	if !q.Filter.Matches(c) {
		return false
	}
	if q.Search == "" {
		return true
	}
	needle := strings.ToLower(q.Search)
	if strings.Contains(strings.ToLower(c.Title), needle) {
		return true
	}
	for _, tag := range c.Tags {
		if strings.Contains(tag, needle) {
			return true
		}
	}
	return false
}

// Apply は条件に一致するケースを元の順序のまま新しいスライスで返す。
// casesは変更しない。
func Apply(cases []model.Case, q Query) []model.Case {
	out := make([]model.Case, 0, len(cases))
	for _, c := range cases {
		if q.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

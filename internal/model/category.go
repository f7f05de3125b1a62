package model

import "fmt"

// Category はケースの種別（テンプレート）を表す。
type Category int

const (
	// CategoryTrueCrime は実録犯罪のケース。
	CategoryTrueCrime Category = iota
	// CategoryLore は伝承・都市伝説のケース。
	CategoryLore
	// CategoryConspiracy は陰謀論のケース。
	CategoryConspiracy

	categoryCount
)

// Field はテンプレートの1入力項目を表す。
type Field struct {
	Label string
	Long  bool // 複数行入力
}

// Template はカテゴリごとの入力項目と表示メタデータを表す。
type Template struct {
	Slug  string
	Label string
	Badge string
	// Fields は表示順に並んだ入力項目。
	Fields []Field
	// TitleFields はタイトルに採用する項目の優先順リスト。
	TitleFields []string
	// SummaryFields はサマリーに採用する項目の優先順リスト。
	SummaryFields []string
}

const (
	// UntitledCase はタイトル候補が全て空のときのタイトル。
	UntitledCase = "Untitled Case"
	// NoSummary はサマリー候補が全て空のときのサマリー。
	NoSummary = "No summary provided"
)

// templates はカテゴリをインデックスとするテンプレート表。
// 要素数がcategoryCountと一致しない場合は下のチェックでコンパイルエラーになる。
var templates = [...]Template{
	CategoryTrueCrime: {
		Slug:  "true-crime",
		Label: "True Crime",
		Badge: "True Crime",
		Fields: []Field{
			{Label: "Case Name"},
			{Label: "Victim(s)"},
			{Label: "Suspect(s)"},
			{Label: "What Happened", Long: true},
			{Label: "Evidence", Long: true},
			{Label: "Current Status"},
			{Label: "Source"},
		},
		TitleFields:   []string{"Case Name", "Title"},
		SummaryFields: []string{"What Happened", "The Claim", "The Theory"},
	},
	CategoryLore: {
		Slug:  "lore",
		Label: "Lore / Urban Legend",
		Badge: "Lore",
		Fields: []Field{
			{Label: "Title"},
			{Label: "Origin"},
			{Label: "The Claim", Long: true},
			{Label: "Why People Believe It", Long: true},
			{Label: "Debunked or Not"},
			{Label: "Creep Factor (1-5)"},
			{Label: "Source"},
		},
		TitleFields:   []string{"Title", "Case Name"},
		SummaryFields: []string{"The Claim", "What Happened", "The Theory"},
	},
	CategoryConspiracy: {
		Slug:  "conspiracy",
		Label: "Conspiracy",
		Badge: "Conspiracy",
		Fields: []Field{
			{Label: "Title"},
			{Label: "The Theory", Long: true},
			{Label: "Who's Behind It"},
			{Label: "The Evidence For It", Long: true},
			{Label: "The Holes In It", Long: true},
			{Label: "Status"},
			{Label: "Source"},
		},
		TitleFields:   []string{"Title", "Case Name"},
		SummaryFields: []string{"The Theory", "What Happened", "The Claim"},
	},
}

// テンプレート表とカテゴリ数の一致をコンパイル時に検証する。
var _ = [1]struct{}{}[len(templates)-int(categoryCount)]

// Categories は全カテゴリを表示順で返す。
func Categories() []Category {
	out := make([]Category, 0, int(categoryCount))
	for c := Category(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// Valid はカテゴリが定義済みかどうかを返す。
func (c Category) Valid() bool {
	return c >= 0 && c < categoryCount
}

// Template はカテゴリのテンプレートを返す。
// 未定義のカテゴリではゼロ値を返す。
func (c Category) Template() Template {
	if !c.Valid() {
		return Template{}
	}
	return templates[c]
}

// String はカテゴリの永続化用文字列（true-crime, lore, conspiracy）を返す。
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return templates[c].Slug
}

// ParseCategory は文字列からカテゴリを解析する。
func ParseCategory(s string) (Category, error) {
	for c := Category(0); c < categoryCount; c++ {
		if templates[c].Slug == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category: %q", s)
}

// HasField はテンプレートが指定ラベルの項目を持つかどうかを返す。
func (t Template) HasField(label string) bool {
	for _, f := range t.Fields {
		if f.Label == label {
			return true
		}
	}
	return false
}

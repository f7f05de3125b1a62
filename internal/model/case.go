package model

import "time"

// ContentEntry はケース本文の1項目（ラベルと自由記述）を表す。
type ContentEntry struct {
	Label string
	Value string
}

// CaseAuthor はケース取得時に結合される投稿者の表示情報。
// このアプリケーションでは独立して永続化しない。
type CaseAuthor struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Case はユーザーが投稿したケースの読み取りモデル。
// Contentはテンプレートの項目順を保持する。
type Case struct {
	ID        string
	Category  Category
	Title     string
	Summary   string
	Tags      []string
	AuthorID  string
	CreatedAt time.Time
	Content   []ContentEntry
	Author    CaseAuthor

	// いいね/保存の基準値。永続化されていないため常にゼロ値となる。
	LikeCount int
	SaveCount int
	Liked     bool
	Saved     bool
}

// ContentValue は指定ラベルの本文を返す。存在しない場合は空文字列を返す。
func (c *Case) ContentValue(label string) string {
	for _, e := range c.Content {
		if e.Label == label {
			return e.Value
		}
	}
	return ""
}

// Draft はケース作成リクエストのペイロード。
type Draft struct {
	Category Category
	Title    string
	Summary  string
	Tags     []string
	Content  []ContentEntry
	AuthorID string
}

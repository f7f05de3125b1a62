package cases

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/repository"
)

const (
	// UnknownAuthor は投稿者のプロフィールが見つからない場合の表示名。
	UnknownAuthor = "Unknown"
	// placeholderAvatarBase は投稿者IDから決定的に生成するアバターURLの接頭辞。
	placeholderAvatarBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="
)

// PlaceholderAvatarURL は投稿者IDから決定的なアバターURLを返す。
func PlaceholderAvatarURL(authorID string) string {
	return placeholderAvatarBase + authorID
}

// contentEntryJSON はcases.contentカラム（JSONB配列）の1要素。
// JSONBのオブジェクトはキー順を保持しないため、ラベルと値の組の配列で保存する。
type contentEntryJSON struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func encodeContent(entries []model.ContentEntry) ([]byte, error) {
	out := make([]contentEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = contentEntryJSON{Label: e.Label, Value: e.Value}
	}
	return json.Marshal(out)
}

func decodeContent(raw []byte) ([]model.ContentEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var in []contentEntryJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]model.ContentEntry, len(in))
	for i, e := range in {
		out[i] = model.ContentEntry{Label: e.Label, Value: e.Value}
	}
	return out, nil
}

// toCase は取得直後の行をドメインモデルに変換する。
// 投稿者のプロフィールがない場合は固定の表示名と決定的なアバターで補う。
// カテゴリが解析できない行はエラーを返す。本文が壊れている場合はエラーとし、呼び出し側で扱いを決める。
func toCase(row repository.CaseRow) (model.Case, error) {
	category, err := model.ParseCategory(row.Category)
	if err != nil {
		return model.Case{}, fmt.Errorf("case %s: %w", row.ID, err)
	}
	content, err := decodeContent(row.Content)
	if err != nil {
		return model.Case{}, fmt.Errorf("case %s: failed to decode content: %w", row.ID, err)
	}

	author := model.CaseAuthor{
		ID:          row.AuthorID,
		DisplayName: UnknownAuthor,
		AvatarURL:   PlaceholderAvatarURL(row.AuthorID),
	}
	if row.AuthorUsername.Valid && row.AuthorUsername.String != "" {
		author.DisplayName = row.AuthorUsername.String
	}
	if row.AuthorAvatarURL.Valid && row.AuthorAvatarURL.String != "" {
		author.AvatarURL = row.AuthorAvatarURL.String
	}

	tags := row.Tags
	if tags == nil {
		tags = []string{}
	}

	return model.Case{
		ID:        row.ID,
		Category:  category,
		Title:     row.Title,
		Summary:   row.Summary,
		Tags:      tags,
		AuthorID:  row.AuthorID,
		CreatedAt: row.CreatedAt,
		Content:   content,
		Author:    author,
	}, nil
}

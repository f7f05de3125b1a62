// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが投稿したケース本文からマークアップを取り除く。
// 表示時はhtml/templateがエスケープするため、保存するのはプレーンテキストのみとする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のテキストをサニタイズする。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
	// script/style要素は中身ごと除去する。改行はLFに揃え、前後の空白を除去する。
	// 結果はタグを含まない前提で扱わず、表示時は必ずエスケープすること。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使ったTextSanitizerの実装。
// bluemonday.Policyは初期化後はスレッドセーフ。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去する。StrictPolicyはテキスト中の記号を実体参照に
// エスケープするため、保存用に元の文字へ戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = html.UnescapeString(s.policy.Sanitize(text))
	return strings.TrimSpace(text)
}

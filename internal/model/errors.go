// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIの一時通知に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（ユーザーにそのまま表示される）
	Category string // カテゴリ: auth, permission, validation, repository, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	ErrCategoryAuth       = "auth"
	ErrCategoryPermission = "permission"
	ErrCategoryValidation = "validation"
	ErrCategoryRepository = "repository"
	ErrCategoryNotFound   = "not_found"
	ErrCategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeAuthUnavailable   = "AUTH_UNAVAILABLE"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeRepositoryFailure = "REPOSITORY_FAILURE"
	ErrCodeCaseNotFound      = "CASE_NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewAuthError は認証プロバイダーが拒否した場合のエラーを生成する。
// messageは不正な認証情報・重複アカウント等の人が読める理由。
func NewAuthError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: ErrCategoryAuth,
		Action:   "Check your email and password and try again.",
	}
}

// NewAuthUnavailableError は認証プロバイダーに到達できない場合のエラーを生成する。
func NewAuthUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthUnavailable,
		Message:  "Authentication service unavailable",
		Category: ErrCategoryAuth,
		Action:   "Wait a moment and try again.",
	}
}

// NewPermissionError はセッションなしで書き込みを試みた場合のエラーを生成する。
func NewPermissionError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "You must be logged in to save a case.",
		Category: ErrCategoryPermission,
		Action:   "Sign in and submit the case again.",
	}
}

// NewValidationError は入力検証エラーを生成する。
// 複数の理由はセミコロン区切りで1つのメッセージにまとめる。
func NewValidationError(reasons ...string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  strings.Join(reasons, "; "),
		Category: ErrCategoryValidation,
		Action:   "Fix the highlighted fields and submit again.",
	}
}

// NewRepositoryError はバックエンドへの問い合わせ失敗エラーを生成する。
// messageはプロバイダーが報告したメッセージをそのまま使う。
func NewRepositoryError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRepositoryFailure,
		Message:  message,
		Category: ErrCategoryRepository,
		Action:   "Try again. Your entries were kept.",
	}
}

// NewCaseNotFoundError はケースが存在しない場合のエラーを生成する。
func NewCaseNotFoundError(caseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCaseNotFound,
		Message:  fmt.Sprintf("Case not found: %s", caseID),
		Category: ErrCategoryNotFound,
		Action:   "Go back to the feed.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong.",
		Category: ErrCategorySystem,
		Action:   "Wait a moment and try again.",
	}
}

// AsAPIError はエラーチェーンからAPIErrorを取り出す。
// 含まれない場合はfalseを返す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCategory はエラーが指定カテゴリのAPIErrorかどうかを判定する。
func IsCategory(err error, category string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Category == category
}

package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/warren/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// StatusForError はAPIErrorのカテゴリに対応するHTTPステータスコードを返す。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Category {
	case model.ErrCategoryAuth:
		if apiErr.Code == model.ErrCodeAuthUnavailable {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnauthorized
	case model.ErrCategoryPermission:
		return http.StatusForbidden
	case model.ErrCategoryValidation:
		return http.StatusBadRequest
	case model.ErrCategoryNotFound:
		return http.StatusNotFound
	case model.ErrCategoryRepository:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

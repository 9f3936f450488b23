package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/stellarlink/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteStorageUnavailableError はストレージ障害時の503レスポンスを書き込む。
func WriteStorageUnavailableError(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "5")
	WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
		Code:     model.ErrCodeStorageUnavailable,
		Message:  "一時的にデータを保存・取得できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

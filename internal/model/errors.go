// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, network, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, &APIError{Code: ...}) でコード単位の比較を可能にする。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrStorageUnavailable はストレージ層の障害（接続断、トランザクション中断など）を表す。
// サービス層はこのエラーをリトライせずにそのまま呼び出し元へ伝播する。
var ErrStorageUnavailable = errors.New("storage unavailable")

// 定義済みエラーコード
const (
	ErrCodeInvalidKeyFormat          = "INVALID_KEY_FORMAT"
	ErrCodeKeyAlreadyLinked          = "KEY_ALREADY_LINKED"
	ErrCodeLinkLimitExceeded         = "LINK_LIMIT_EXCEEDED"
	ErrCodeAccountNotFound           = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountInactive           = "ACCOUNT_INACTIVE"
	ErrCodeLabelTooLong              = "LABEL_TOO_LONG"
	ErrCodeUserNotFound              = "USER_NOT_FOUND"
	ErrCodeAccountNotOnNetwork       = "ACCOUNT_NOT_ON_NETWORK"
	ErrCodeNetworkVerificationFailed = "NETWORK_VERIFICATION_FAILED"
	ErrCodeInvalidRequest            = "INVALID_REQUEST"
	ErrCodeUnauthorized              = "UNAUTHORIZED"
	ErrCodeStorageUnavailable        = "STORAGE_UNAVAILABLE"
	ErrCodeInternal                  = "INTERNAL_ERROR"
)

// NewInvalidKeyFormatError は公開鍵の形式が不正な場合のエラーを生成する。
func NewInvalidKeyFormatError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKeyFormat,
		Message:  fmt.Sprintf("Stellar公開鍵の形式が不正です: %s", reason),
		Category: "validation",
		Action:   "Gで始まる56文字のStellar公開鍵を入力してください。",
	}
}

// NewKeyAlreadyLinkedError は公開鍵が既にいずれかのユーザーに連携済みの場合のエラーを生成する。
// 連携先のユーザーは開示しない。
func NewKeyAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeKeyAlreadyLinked,
		Message:  "このStellarアカウントは既に連携されています。",
		Category: "account",
		Action:   "別の公開鍵を指定するか、連携済みのアカウント一覧を確認してください。",
	}
}

// NewLinkLimitExceededError は連携数が上限に達している場合のエラーを生成する。
func NewLinkLimitExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeLinkLimitExceeded,
		Message:  fmt.Sprintf("連携できるアカウント数の上限（%d件）に達しています。", limit),
		Category: "account",
		Action:   "不要なアカウントの連携を解除してから、再度お試しください。",
	}
}

// NewAccountNotFoundError は連携アカウントが見つからない場合のエラーを生成する。
// 存在しない場合と他ユーザーの所有である場合を区別しない。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定された連携アカウントが見つかりません: %s", accountID),
		Category: "account",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewAccountInactiveError は無効化されたアカウントをプライマリに指定しようとした場合のエラーを生成する。
func NewAccountInactiveError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountInactive,
		Message:  fmt.Sprintf("無効化されたアカウントはプライマリに設定できません: %s", accountID),
		Category: "account",
		Action:   "アカウントを有効化してから、再度お試しください。",
	}
}

// NewLabelTooLongError はラベルが最大長を超えている場合のエラーを生成する。
func NewLabelTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeLabelTooLong,
		Message:  fmt.Sprintf("ラベルは%d文字以内で指定してください。", max),
		Category: "validation",
		Action:   "ラベルを短くしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAccountNotOnNetworkError はStellarネットワーク上にアカウントが存在しない場合のエラーを生成する。
func NewAccountNotOnNetworkError(publicKey string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotOnNetwork,
		Message:  fmt.Sprintf("Stellarネットワーク上にアカウントが存在しません: %s", publicKey),
		Category: "network",
		Action:   "アカウントが作成（入金）済みであることを確認してください。",
	}
}

// NewNetworkVerificationFailedError はStellarネットワークへの照会に失敗した場合のエラーを生成する。
func NewNetworkVerificationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkVerificationFailed,
		Message:  fmt.Sprintf("Stellarネットワークへの照会に失敗しました: %s", reason),
		Category: "network",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

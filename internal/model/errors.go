// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnsupportedProvider       = "UNSUPPORTED_PROVIDER"
	ErrCodeInvalidProvider           = "INVALID_PROVIDER"
	ErrCodeProviderNotConfigured     = "PROVIDER_NOT_CONFIGURED"
	ErrCodeMalformedProviderResponse = "MALFORMED_PROVIDER_RESPONSE"
	ErrCodeLoginConflict             = "LOGIN_CONFLICT"
	ErrCodeInvalidState              = "INVALID_STATE"
	ErrCodeMissingCode               = "MISSING_AUTHORIZATION_CODE"
	ErrCodeAuthenticationFailed      = "AUTHENTICATION_FAILED"
	ErrCodeUnauthorized              = "UNAUTHORIZED"
	ErrCodeUserNotFound              = "USER_NOT_FOUND"
	ErrCodeInternal                  = "INTERNAL_ERROR"
)

// NewUnsupportedProviderError はプロバイダー名が指定されていない場合のエラーを生成する。
func NewUnsupportedProviderError() *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  "OAuthプロバイダーが指定されていません。",
		Category: "auth",
		Action:   "ログイン画面からプロバイダーを選択してログインしてください。",
	}
}

// NewInvalidProviderError はサポート外のプロバイダーが指定された場合のエラーを生成する。
func NewInvalidProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("サポートされていないOAuthプロバイダーです: %s", provider),
		Category: "auth",
		Action:   "GoogleまたはNaverでログインしてください。",
	}
}

// NewProviderNotConfiguredError は対応プロバイダーだがクライアント設定がない場合のエラーを生成する。
func NewProviderNotConfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("%s でのログインは現在利用できません。", provider),
		Category: "auth",
		Action:   "別のプロバイダーでログインしてください。",
	}
}

// NewMalformedProviderResponseError はIdPのレスポンスに必要な属性がない場合のエラーを生成する。
func NewMalformedProviderResponseError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedProviderResponse,
		Message:  fmt.Sprintf("%s から必要なユーザー情報を取得できませんでした。", provider),
		Category: "auth",
		Action:   "メールアドレスの提供に同意したうえで、再度ログインしてください。",
	}
}

// NewLoginConflictError は初回ログインの競合が解消できなかった場合のエラーを生成する。
func NewLoginConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginConflict,
		Message:  "ログイン処理が競合しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewInvalidStateError はOAuthのstate検証に失敗した場合のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "認証リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "最初からログインし直してください。",
	}
}

// NewMissingCodeError は認可コードがない場合のエラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "認可コードがありません。",
		Category: "auth",
		Action:   "最初からログインし直してください。",
	}
}

// NewAuthenticationFailedError は分類できない認証失敗のエラーを生成する。
func NewAuthenticationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
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

// NewInternalError は内部エラーを生成する。詳細はレスポンスに含めない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

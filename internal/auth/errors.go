package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedProvider はプロバイダー名が指定されていない場合に返される。
	ErrUnsupportedProvider = errors.New("oauth provider is not specified")

	// ErrInvalidProvider は対応していないプロバイダー名が指定された場合に返される。
	// 実際の値はInvalidProviderErrorで受け取る。
	ErrInvalidProvider = errors.New("invalid oauth provider")

	// ErrProviderNotConfigured は対応プロバイダーだがクライアント設定（NAVER_*など）がない場合に返される。
	ErrProviderNotConfigured = errors.New("oauth provider is not configured")

	// ErrMalformedProviderResponse はプロバイダーの属性に期待するフィールドがない場合に返される。
	ErrMalformedProviderResponse = errors.New("malformed provider response")
)

// InvalidProviderError は未対応のプロバイダー名を保持するエラー。
type InvalidProviderError struct {
	Provider string
}

func (e *InvalidProviderError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidProvider, e.Provider)
}

func (e *InvalidProviderError) Is(target error) bool {
	return target == ErrInvalidProvider
}

// MalformedProviderResponseError はどのプロバイダーのどのフィールドが欠けていたかを保持する。
type MalformedProviderResponseError struct {
	Provider string
	Field    string
}

func (e *MalformedProviderResponseError) Error() string {
	return fmt.Sprintf("%s: provider=%s field=%s", ErrMalformedProviderResponse, e.Provider, e.Field)
}

func (e *MalformedProviderResponseError) Is(target error) bool {
	return target == ErrMalformedProviderResponse
}

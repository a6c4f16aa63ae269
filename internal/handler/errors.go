package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/socialauth/internal/auth"
	"github.com/hitoshi/socialauth/internal/middleware"
	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/user"
)

// handleLoginError はログイン処理のエラーをHTTPステータスと統一エラーレスポンスに変換する。
func handleLoginError(w http.ResponseWriter, provider string, err error) {
	status, apiErr := mapLoginError(provider, err)
	if status >= http.StatusInternalServerError {
		slog.Error("oauth login failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
	} else {
		slog.Warn("oauth login rejected",
			slog.String("provider", provider),
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// mapLoginError はエラーの種類からHTTPステータスとAPIErrorを決める。
func mapLoginError(provider string, err error) (int, *model.APIError) {
	var invalid *auth.InvalidProviderError
	var malformed *auth.MalformedProviderResponseError

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, model.NewInvalidProviderError(invalid.Provider)
	case errors.Is(err, auth.ErrProviderNotConfigured):
		return http.StatusBadRequest, model.NewProviderNotConfiguredError(provider)
	case errors.Is(err, auth.ErrUnsupportedProvider):
		return http.StatusBadRequest, model.NewUnsupportedProviderError()
	case errors.As(err, &malformed):
		return http.StatusBadGateway, model.NewMalformedProviderResponseError(malformed.Provider)
	case errors.Is(err, user.ErrConflictRetryExhausted):
		return http.StatusConflict, model.NewLoginConflictError()
	default:
		return http.StatusUnauthorized, model.NewAuthenticationFailedError()
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/user"
)

// ProviderUser はトークン交換後にプロバイダーから得た認証結果。
// Providerがnilの場合はプロバイダー名が渡されなかったことを表し、空文字とは区別する。
type ProviderUser struct {
	Provider    *string
	Attributes  map[string]any
	Authorities []string
}

// NewProviderUser はプロバイダー名を指定してProviderUserを生成する。
func NewProviderUser(provider string, attributes map[string]any, authorities ...string) *ProviderUser {
	return &ProviderUser{
		Provider:    &provider,
		Attributes:  attributes,
		Authorities: authorities,
	}
}

// UserStore はログイン時のユーザー検索・作成のインターフェース。
// user.Storeが実装する。
type UserStore interface {
	FindOrCreate(ctx context.Context, provider model.Provider, email string) (*model.User, error)
}

// extractor はプロバイダー固有の属性からemailを取り出す。
type extractor func(attrs map[string]any) (email string, field string, ok bool)

type providerEntry struct {
	provider model.Provider
	extract  extractor
}

// providers は対応プロバイダーの一覧。キーは小文字のregistration名。
var providers = map[string]providerEntry{
	"google": {provider: model.ProviderGoogle, extract: extractGoogleEmail},
	"naver":  {provider: model.ProviderNaver, extract: extractNaverEmail},
}

// Googleはトップレベルのemail
func extractGoogleEmail(attrs map[string]any) (string, string, bool) {
	email, ok := nonEmptyString(attrs, "email")
	return email, "email", ok
}

// Naverはresponseの中にプロフィールが入る
func extractNaverEmail(attrs map[string]any) (string, string, bool) {
	response, ok := attrs["response"].(map[string]any)
	if !ok {
		return "", "response", false
	}
	email, ok := nonEmptyString(response, "email")
	return email, "response.email", ok
}

func nonEmptyString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// LookupProvider はプロバイダー名（大文字小文字を区別しない）から対応するmodel.Providerを返す。
func LookupProvider(name string) (model.Provider, error) {
	entry, ok := providers[strings.ToLower(name)]
	if !ok {
		return "", &InvalidProviderError{Provider: name}
	}
	return entry.provider, nil
}

// Resolver はプロバイダーの認証結果からローカルユーザーを解決し、Principalを組み立てる。
type Resolver struct {
	store   UserStore
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewResolver はResolverを生成する。mcがnilの場合はメトリクスを記録しない。
func NewResolver(store UserStore, mc metrics.MetricsCollector) *Resolver {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Resolver{
		store:   store,
		metrics: mc,
		now:     time.Now,
	}
}

// Resolve はプロバイダー名と属性からemailを取り出し、ユーザーを検索または作成してPrincipalを返す。
//
// プロバイダー名がない場合はErrUnsupportedProvider、未対応の場合は*InvalidProviderError、
// 属性の形が想定と異なる場合は*MalformedProviderResponseErrorを返す。
// いずれもユーザーストアにはアクセスしない。
// 所要時間は結果にかかわらず記録する。
func (r *Resolver) Resolve(ctx context.Context, pu *ProviderUser) (*model.Principal, error) {
	start := time.Now()
	defer func() { r.metrics.RecordResolveLatency(time.Since(start)) }()

	if pu == nil || pu.Provider == nil {
		r.metrics.RecordLogin("unknown", metrics.ResultRejected)
		return nil, ErrUnsupportedProvider
	}

	rawProvider := *pu.Provider
	registration := strings.ToLower(rawProvider)
	entry, ok := providers[registration]
	if !ok {
		r.metrics.RecordLogin("unknown", metrics.ResultRejected)
		return nil, &InvalidProviderError{Provider: rawProvider}
	}

	email, field, ok := entry.extract(pu.Attributes)
	if !ok {
		r.metrics.RecordLogin(registration, metrics.ResultMalformed)
		slog.Warn("プロバイダーの応答に必要な属性がありません",
			slog.String("provider", registration),
			slog.String("field", field),
		)
		return nil, &MalformedProviderResponseError{Provider: registration, Field: field}
	}

	u, err := r.store.FindOrCreate(ctx, entry.provider, email)
	if err != nil {
		result := metrics.ResultFailure
		if errors.Is(err, user.ErrConflictRetryExhausted) {
			result = metrics.ResultConflict
		}
		r.metrics.RecordLogin(registration, result)
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	principal := &model.Principal{
		Authorities: grantedAuthorities(pu.Authorities, u.Role),
		Attributes: map[string]any{
			model.AttrID:            u.ID,
			model.AttrProvider:      rawProvider,
			model.AttrProviderID:    email,
			model.AttrLastLoginTime: r.now(),
		},
		NameAttributeKey: model.AttrID,
	}

	r.metrics.RecordLogin(registration, metrics.ResultSuccess)
	slog.Info("principal resolved",
		slog.Int64("user_id", u.ID),
		slog.String("provider", registration),
		slog.String("role", string(u.Role)),
	)

	return principal, nil
}

// grantedAuthorities はプロバイダーの権限にロール名を加え、重複を除いて順序を保ったまま返す。
func grantedAuthorities(providerAuthorities []string, role model.Role) []string {
	out := make([]string, 0, len(providerAuthorities)+1)
	seen := make(map[string]struct{}, len(providerAuthorities)+1)
	add := func(a string) {
		if a == "" {
			return
		}
		if _, dup := seen[a]; dup {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, a := range providerAuthorities {
		add(a)
	}
	add(string(role))
	return out
}

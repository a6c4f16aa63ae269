package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	defaultNaverAuthURL     = "https://nid.naver.com/oauth2.0/authorize"
	defaultNaverTokenURL    = "https://nid.naver.com/oauth2.0/token"
	defaultNaverUserInfoURL = "https://openapi.naver.com/v1/nid/me"

	// AuthorityOAuth2User はOAuth2ログインしたユーザー全員に付与される権限。
	AuthorityOAuth2User = "OAUTH2_USER"

	scopeAuthorityPrefix = "SCOPE_"
)

// LoginRequest はコールバックで受け取った認可コードとプロバイダー名。
type LoginRequest struct {
	Provider string
	Code     string
}

// AttributeLoader はプロバイダーからユーザー属性を取得する。
// Resolverはこのインターフェースに依存しない。
type AttributeLoader interface {
	LoadProviderAttributes(ctx context.Context, req LoginRequest) (*ProviderUser, error)
}

// ProviderConfig はOAuthプロバイダー1つ分の設定。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleProviderConfig はGoogleのデフォルトエンドポイントを埋めた設定を返す。
func GoogleProviderConfig(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		AuthURL:      defaultGoogleAuthURL,
		TokenURL:     defaultGoogleTokenURL,
		UserInfoURL:  defaultGoogleUserInfoURL,
	}
}

// NaverProviderConfig はNaverのデフォルトエンドポイントを埋めた設定を返す。
// Naverはスコープ指定を受け付けないため空のままにする。
func NaverProviderConfig(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      defaultNaverAuthURL,
		TokenURL:     defaultNaverTokenURL,
		UserInfoURL:  defaultNaverUserInfoURL,
	}
}

type providerClient struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// OAuth2AttributeLoader は認可コードフローでトークンを取得し、ユーザー情報エンドポイントの
// JSONをそのまま属性として返すAttributeLoader。
type OAuth2AttributeLoader struct {
	clients    map[string]providerClient
	httpClient *http.Client
}

// NewOAuth2AttributeLoader はregistration名（"google", "naver"）ごとの設定からローダーを生成する。
// 対応していないregistration名は*InvalidProviderErrorになる。
func NewOAuth2AttributeLoader(configs map[string]ProviderConfig) (*OAuth2AttributeLoader, error) {
	clients := make(map[string]providerClient, len(configs))
	for name, cfg := range configs {
		registration := strings.ToLower(name)
		if _, err := LookupProvider(registration); err != nil {
			return nil, err
		}
		clients[registration] = providerClient{
			oauth: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				RedirectURL:  cfg.RedirectURL,
				Scopes:       cfg.Scopes,
				Endpoint: oauth2.Endpoint{
					AuthURL:   cfg.AuthURL,
					TokenURL:  cfg.TokenURL,
					AuthStyle: oauth2.AuthStyleInParams,
				},
			},
			userInfoURL: cfg.UserInfoURL,
		}
	}
	return &OAuth2AttributeLoader{clients: clients}, nil
}

// WithHTTPClient はトークン交換とユーザー情報取得に使うHTTPクライアントを差し替える。
func (l *OAuth2AttributeLoader) WithHTTPClient(c *http.Client) *OAuth2AttributeLoader {
	l.httpClient = c
	return l
}

// Enabled は指定プロバイダーが設定済みかどうかを返す。
func (l *OAuth2AttributeLoader) Enabled(provider string) bool {
	_, ok := l.clients[strings.ToLower(provider)]
	return ok
}

func (l *OAuth2AttributeLoader) client(provider string) (providerClient, error) {
	if _, err := LookupProvider(provider); err != nil {
		return providerClient{}, err
	}
	c, ok := l.clients[strings.ToLower(provider)]
	if !ok {
		return providerClient{}, fmt.Errorf("%w: %q", ErrProviderNotConfigured, provider)
	}
	return c, nil
}

// AuthCodeURL はプロバイダーの認可URLを生成する。
func (l *OAuth2AttributeLoader) AuthCodeURL(provider, state string) (string, error) {
	c, err := l.client(provider)
	if err != nil {
		return "", err
	}
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// LoadProviderAttributes は認可コードをトークンに交換し、ユーザー情報を属性マップとして返す。
// プロバイダーが付与したスコープはSCOPE_プレフィックス付きの権限になる。
func (l *OAuth2AttributeLoader) LoadProviderAttributes(ctx context.Context, req LoginRequest) (*ProviderUser, error) {
	c, err := l.client(req.Provider)
	if err != nil {
		return nil, err
	}

	if l.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, l.httpClient)
	}

	token, err := c.oauth.Exchange(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	attrs, err := fetchUserInfo(ctx, c.oauth.Client(ctx, token), c.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	authorities := []string{AuthorityOAuth2User}
	for _, scope := range c.oauth.Scopes {
		authorities = append(authorities, scopeAuthorityPrefix+scope)
	}

	return NewProviderUser(req.Provider, attrs, authorities...), nil
}

// fetchUserInfo はユーザー情報エンドポイントのJSONオブジェクトを返す。
func fetchUserInfo(ctx context.Context, client *http.Client, userInfoURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var attrs map[string]any
	if err := json.Unmarshal(body, &attrs); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if attrs == nil {
		return nil, fmt.Errorf("empty user info response")
	}

	return attrs, nil
}

// compile-time interface check
var _ AttributeLoader = (*OAuth2AttributeLoader)(nil)

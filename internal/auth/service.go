// Package auth はOAuthログインの認証主体解決、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/repository"
)

// OAuthClient は認可URLの生成とユーザー属性の取得を行うインターフェース。
// OAuth2AttributeLoaderが実装する。
type OAuthClient interface {
	AttributeLoader
	AuthCodeURL(provider, state string) (string, error)
}

// PrincipalResolver はプロバイダーの認証結果をPrincipalに変換する。
type PrincipalResolver interface {
	Resolve(ctx context.Context, pu *ProviderUser) (*model.Principal, error)
}

// UserFinder はユーザーIDでユーザーを取得するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthClient
	resolver    PrincipalResolver
	users       UserFinder
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthClient,
	resolver PrincipalResolver,
	users UserFinder,
	sessionRepo repository.SessionRepository,
	mc metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		oauth:       oauth,
		resolver:    resolver,
		users:       users,
		sessionRepo: sessionRepo,
		metrics:     mc,
		config:      config,
	}
}

// GetLoginURL はプロバイダーの認可URLを生成する。
func (s *Service) GetLoginURL(provider, state string) (string, error) {
	return s.oauth.AuthCodeURL(provider, state)
}

// HandleCallback はOAuthコールバックを処理し、解決したPrincipalを持つセッションを発行する。
// 初回ログインのユーザーはResolverの中で作成される。
func (s *Service) HandleCallback(ctx context.Context, provider, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー属性を取得
	pu, err := s.oauth.LoadProviderAttributes(ctx, LoginRequest{Provider: provider, Code: code})
	if err != nil {
		if !errors.Is(err, ErrInvalidProvider) && !errors.Is(err, ErrUnsupportedProvider) && !errors.Is(err, ErrProviderNotConfigured) {
			s.metrics.RecordLogin(strings.ToLower(provider), metrics.ResultFailure)
		}
		return nil, fmt.Errorf("failed to load provider attributes: %w", err)
	}

	// 2. ユーザーを解決してPrincipalを組み立てる
	principal, err := s.resolver.Resolve(ctx, pu)
	if err != nil {
		return nil, err
	}

	userID, ok := principal.UserID()
	if !ok {
		return nil, fmt.Errorf("resolved principal has no user id")
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, userID, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.Int64("user_id", userID),
		slog.String("provider", strings.ToLower(provider)),
	)
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// LogoutAll は指定ユーザーの全セッションを破棄する。
// 他の端末でのログインも無効になる。
func (s *Service) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	slog.Info("user logged out from all sessions", slog.Int64("user_id", userID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// ユーザーが存在しない場合はnil, nilを返す。
func (s *Service) GetCurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID int64, principal *model.Principal) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Principal: principal,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.metrics.RecordSessionIssued()
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

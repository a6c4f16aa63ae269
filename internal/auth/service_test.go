package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/repository"
)

// --- モック定義 ---

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID int64) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID int64) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

type mockOAuthClient struct {
	authCodeURLFn func(provider, state string) (string, error)
	loadFn        func(ctx context.Context, req LoginRequest) (*ProviderUser, error)
}

func (m *mockOAuthClient) AuthCodeURL(provider, state string) (string, error) {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(provider, state)
	}
	return "", nil
}

func (m *mockOAuthClient) LoadProviderAttributes(ctx context.Context, req LoginRequest) (*ProviderUser, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, req)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthClient = (*mockOAuthClient)(nil)
var _ OAuthClient = (*OAuth2AttributeLoader)(nil)
var _ PrincipalResolver = (*Resolver)(nil)

// --- テスト ---

func TestGetLoginURL_DelegatesToOAuthClient(t *testing.T) {
	client := &mockOAuthClient{
		authCodeURLFn: func(provider, state string) (string, error) {
			return "https://example.com/" + provider + "?state=" + state, nil
		},
	}
	svc := NewService(client, nil, nil, nil, nil, ServiceConfig{SessionMaxAge: 86400})

	got, err := svc.GetLoginURL("naver", "test-state")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "https://example.com/naver?state=test-state"; got != want {
		t.Errorf("GetLoginURL() = %q, want %q", got, want)
	}
}

func TestHandleCallback_FirstLogin_CreatesUserAndSessionWithPrincipal(t *testing.T) {
	repo := newMemUserRepo()
	var createdSession *model.Session

	client := &mockOAuthClient{
		loadFn: func(_ context.Context, req LoginRequest) (*ProviderUser, error) {
			if req.Code != "auth-code" {
				t.Errorf("code = %q, want auth-code", req.Code)
			}
			return NewProviderUser(req.Provider, map[string]any{"email": "a@b.com"}, AuthorityOAuth2User), nil
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(_ context.Context, s *model.Session) error {
			createdSession = s
			return nil
		},
	}
	svc := NewService(client, newTestResolver(repo), repo, sessions, nil, ServiceConfig{SessionMaxAge: 3600})

	before := time.Now()
	session, err := svc.HandleCallback(context.Background(), "google", "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if session != createdSession {
		t.Error("returned session should be the persisted one")
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64 hex chars", len(session.ID))
	}
	if session.UserID != 1 {
		t.Errorf("UserID = %d, want 1", session.UserID)
	}
	if session.Principal == nil || session.Principal.Attributes[model.AttrProviderID] != "a@b.com" {
		t.Errorf("principal = %+v, want provider_id a@b.com", session.Principal)
	}
	if !session.Principal.HasAuthority("USER") || !session.Principal.HasAuthority(AuthorityOAuth2User) {
		t.Errorf("authorities = %v", session.Principal.Authorities)
	}
	if session.ExpiresAt.Before(before.Add(3599 * time.Second)) {
		t.Errorf("ExpiresAt = %v, want about 1h from now", session.ExpiresAt)
	}
	if repo.count() != 1 {
		t.Errorf("stored users = %d, want 1", repo.count())
	}
}

func TestHandleCallback_LoaderError_NoSession(t *testing.T) {
	sessionCreated := false
	client := &mockOAuthClient{
		loadFn: func(_ context.Context, _ LoginRequest) (*ProviderUser, error) {
			return nil, errors.New("token exchange failed")
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(_ context.Context, _ *model.Session) error {
			sessionCreated = true
			return nil
		},
	}
	svc := NewService(client, NewResolver(&mockUserStore{}, nil), nil, sessions, nil, ServiceConfig{SessionMaxAge: 60})

	if _, err := svc.HandleCallback(context.Background(), "google", "bad"); err == nil {
		t.Fatal("expected error")
	}
	if sessionCreated {
		t.Error("session must not be created on loader failure")
	}
}

func TestHandleCallback_ResolverErrorsAreNotWrappedAway(t *testing.T) {
	client := &mockOAuthClient{
		loadFn: func(_ context.Context, req LoginRequest) (*ProviderUser, error) {
			return NewProviderUser(req.Provider, map[string]any{"response": "bad"}), nil
		},
	}
	svc := NewService(client, NewResolver(&mockUserStore{}, nil), nil, &mockSessionRepo{}, nil, ServiceConfig{SessionMaxAge: 60})

	_, err := svc.HandleCallback(context.Background(), "naver", "code")
	var mpe *MalformedProviderResponseError
	if !errors.As(err, &mpe) {
		t.Fatalf("error = %v, want *MalformedProviderResponseError", err)
	}
	if mpe.Field != "response" {
		t.Errorf("Field = %q, want response", mpe.Field)
	}
}

func TestHandleCallback_SessionSaveError(t *testing.T) {
	repo := newMemUserRepo()
	client := &mockOAuthClient{
		loadFn: func(_ context.Context, req LoginRequest) (*ProviderUser, error) {
			return NewProviderUser(req.Provider, map[string]any{"email": "a@b.com"}), nil
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(_ context.Context, _ *model.Session) error {
			return errors.New("db down")
		},
	}
	svc := NewService(client, newTestResolver(repo), repo, sessions, nil, ServiceConfig{SessionMaxAge: 60})

	if _, err := svc.HandleCallback(context.Background(), "google", "code"); err == nil {
		t.Fatal("expected error when session cannot be saved")
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	var deletedID string
	sessions := &mockSessionRepo{
		deleteByIDFn: func(_ context.Context, id string) error {
			deletedID = id
			return nil
		},
	}
	svc := NewService(nil, nil, nil, sessions, nil, ServiceConfig{})

	if err := svc.Logout(context.Background(), "session-123"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deletedID != "session-123" {
		t.Errorf("deleted ID = %q, want session-123", deletedID)
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	svc := NewService(nil, nil, nil, &mockSessionRepo{}, nil, ServiceConfig{})

	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestLogoutAll_DeletesEveryUserSession(t *testing.T) {
	var deletedUserID int64
	sessions := &mockSessionRepo{
		deleteByUserIDFn: func(_ context.Context, userID int64) error {
			deletedUserID = userID
			return nil
		},
	}
	svc := NewService(nil, nil, nil, sessions, nil, ServiceConfig{})

	if err := svc.LogoutAll(context.Background(), 42); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if deletedUserID != 42 {
		t.Errorf("deleted user ID = %d, want 42", deletedUserID)
	}
}

func TestLogoutAll_RepoError(t *testing.T) {
	repoErr := errors.New("connection refused")
	sessions := &mockSessionRepo{
		deleteByUserIDFn: func(_ context.Context, _ int64) error {
			return repoErr
		},
	}
	svc := NewService(nil, nil, nil, sessions, nil, ServiceConfig{})

	if err := svc.LogoutAll(context.Background(), 42); !errors.Is(err, repoErr) {
		t.Errorf("LogoutAll() error = %v, want wrapped repoErr", err)
	}
}

func TestGetCurrentUser_ReturnsUser(t *testing.T) {
	repo := newMemUserRepo()
	created, _ := repo.Create(context.Background(), model.NewOAuthUser(model.ProviderNaver, "c@d.com"))
	svc := NewService(nil, nil, repo, nil, nil, ServiceConfig{})

	u, err := svc.GetCurrentUser(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}
	if u == nil || u.Email != "c@d.com" {
		t.Errorf("user = %+v, want c@d.com", u)
	}

	missing, err := svc.GetCurrentUser(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetCurrentUser(999) error = %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown user, got %+v", missing)
	}
}

func TestGenerateSessionID_IsUniqueHex(t *testing.T) {
	a, err := generateSessionID()
	if err != nil {
		t.Fatalf("generateSessionID() error = %v", err)
	}
	b, _ := generateSessionID()
	if a == b {
		t.Error("session IDs should be unique")
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
}

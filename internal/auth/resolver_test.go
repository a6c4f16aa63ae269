package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/repository"
	"github.com/hitoshi/socialauth/internal/user"
)

// --- モック定義 ---

// memUserRepo は (provider, email) の一意制約を持つインメモリのUserRepository。
type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (r *memUserRepo) key(provider model.Provider, email string) string {
	return string(provider) + "/" + email
}

func (r *memUserRepo) FindByProviderAndEmail(_ context.Context, provider model.Provider, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[r.key(provider, email)]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, u *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(u.Provider, u.Email)
	if _, ok := r.users[k]; ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateUser, k)
	}
	r.nextID++
	created := *u
	created.ID = r.nextID
	if created.Role == "" {
		created.Role = model.RoleUser
	}
	r.users[k] = &created
	cp := created
	return &cp, nil
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// setRole は保存済みユーザーのロールを書き換える。
func (r *memUserRepo) setRole(provider model.Provider, email string, role model.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[r.key(provider, email)].Role = role
}

type mockUserStore struct {
	findOrCreateFn func(ctx context.Context, provider model.Provider, email string) (*model.User, error)
	calls          int
}

func (m *mockUserStore) FindOrCreate(ctx context.Context, provider model.Provider, email string) (*model.User, error) {
	m.calls++
	return m.findOrCreateFn(ctx, provider, email)
}

var _ UserStore = (*user.Store)(nil)

// latencySpy はログイン結果と解決時間の記録回数を数える。
type latencySpy struct {
	metrics.NopCollector
	mu        sync.Mutex
	results   []string
	latencies int
}

func (s *latencySpy) RecordLogin(_, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *latencySpy) RecordResolveLatency(time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies++
}

func newTestResolver(repo repository.UserRepository) *Resolver {
	r := NewResolver(user.NewStore(repo, nil), nil)
	r.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r
}

func strPtr(s string) *string { return &s }

// --- テスト ---

func TestResolve_SupportedProvidersCaseInsensitive(t *testing.T) {
	tests := []struct {
		provider string
		attrs    map[string]any
		want     model.Provider
		email    string
	}{
		{"google", map[string]any{"email": "a@b.com"}, model.ProviderGoogle, "a@b.com"},
		{"Google", map[string]any{"email": "a@b.com"}, model.ProviderGoogle, "a@b.com"},
		{"GOOGLE", map[string]any{"email": "a@b.com"}, model.ProviderGoogle, "a@b.com"},
		{"naver", map[string]any{"response": map[string]any{"email": "c@d.com"}}, model.ProviderNaver, "c@d.com"},
		{"NaVeR", map[string]any{"response": map[string]any{"email": "c@d.com"}}, model.ProviderNaver, "c@d.com"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			repo := newMemUserRepo()
			r := newTestResolver(repo)

			p, err := r.Resolve(context.Background(), NewProviderUser(tt.provider, tt.attrs))
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := p.Attributes[model.AttrProviderID]; got != tt.email {
				t.Errorf("provider_id = %v, want %q", got, tt.email)
			}
			if got := p.Attributes[model.AttrProvider]; got != tt.provider {
				t.Errorf("provider = %v, want raw %q", got, tt.provider)
			}

			stored, _ := repo.FindByProviderAndEmail(context.Background(), tt.want, tt.email)
			if stored == nil {
				t.Fatalf("expected user stored under %s", tt.want)
			}
		})
	}
}

func TestResolve_PrincipalAttributes(t *testing.T) {
	r := newTestResolver(newMemUserRepo())

	p, err := r.Resolve(context.Background(), NewProviderUser("google", map[string]any{"email": "a@b.com"}))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if p.NameAttributeKey != model.AttrID {
		t.Errorf("NameAttributeKey = %q, want %q", p.NameAttributeKey, model.AttrID)
	}
	if id, ok := p.UserID(); !ok || id != 1 {
		t.Errorf("id = %v, want int64 1", p.Attributes[model.AttrID])
	}
	if len(p.Attributes) != 4 {
		t.Errorf("attributes = %v, want exactly 4 keys", p.Attributes)
	}
	wantTime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := p.Attributes[model.AttrLastLoginTime]; got != wantTime {
		t.Errorf("last_login_time = %v, want %v", got, wantTime)
	}
	if p.Name() != "1" {
		t.Errorf("Name() = %q, want %q", p.Name(), "1")
	}
}

func TestResolve_InvalidProvider(t *testing.T) {
	for _, name := range []string{"kakao", "", "github", "google "} {
		t.Run(fmt.Sprintf("%q", name), func(t *testing.T) {
			store := &mockUserStore{}
			r := NewResolver(store, nil)

			_, err := r.Resolve(context.Background(), NewProviderUser(name, map[string]any{"email": "a@b.com"}))
			if !errors.Is(err, ErrInvalidProvider) {
				t.Fatalf("error = %v, want ErrInvalidProvider", err)
			}
			var ipe *InvalidProviderError
			if !errors.As(err, &ipe) || ipe.Provider != name {
				t.Errorf("InvalidProviderError.Provider = %v, want %q", ipe, name)
			}
			if store.calls != 0 {
				t.Error("store must not be accessed for invalid provider")
			}
		})
	}
}

func TestResolve_UnsupportedProvider(t *testing.T) {
	store := &mockUserStore{}
	r := NewResolver(store, nil)

	if _, err := r.Resolve(context.Background(), &ProviderUser{Attributes: map[string]any{"email": "a@b.com"}}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("nil provider: error = %v, want ErrUnsupportedProvider", err)
	}
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("nil input: error = %v, want ErrUnsupportedProvider", err)
	}
	if store.calls != 0 {
		t.Error("store must not be accessed for unsupported provider")
	}
}

func TestResolve_MalformedProviderResponse(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		attrs     map[string]any
		wantField string
	}{
		{"google missing email", "google", map[string]any{"name": "x"}, "email"},
		{"google email not string", "google", map[string]any{"email": 123}, "email"},
		{"google empty email", "google", map[string]any{"email": ""}, "email"},
		{"google nil attributes", "google", nil, "email"},
		{"naver missing response", "naver", map[string]any{"email": "c@d.com"}, "response"},
		{"naver response not map", "naver", map[string]any{"response": "oops"}, "response"},
		{"naver missing nested email", "naver", map[string]any{"response": map[string]any{"id": "1"}}, "response.email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockUserStore{}
			r := NewResolver(store, nil)

			_, err := r.Resolve(context.Background(), NewProviderUser(tt.provider, tt.attrs))
			if !errors.Is(err, ErrMalformedProviderResponse) {
				t.Fatalf("error = %v, want ErrMalformedProviderResponse", err)
			}
			var mpe *MalformedProviderResponseError
			if !errors.As(err, &mpe) {
				t.Fatalf("expected *MalformedProviderResponseError, got %T", err)
			}
			if mpe.Provider != tt.provider || mpe.Field != tt.wantField {
				t.Errorf("got provider=%q field=%q, want %q/%q", mpe.Provider, mpe.Field, tt.provider, tt.wantField)
			}
			if store.calls != 0 {
				t.Error("store must not be accessed for malformed response")
			}
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	repo := newMemUserRepo()
	r := newTestResolver(repo)
	pu := NewProviderUser("google", map[string]any{"email": "a@b.com"})

	first, err := r.Resolve(context.Background(), pu)
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	second, err := r.Resolve(context.Background(), pu)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}

	if first.Attributes[model.AttrID] != second.Attributes[model.AttrID] {
		t.Errorf("ids differ: %v vs %v", first.Attributes[model.AttrID], second.Attributes[model.AttrID])
	}
	if repo.count() != 1 {
		t.Errorf("stored users = %d, want 1", repo.count())
	}
}

func TestResolve_ConcurrentFirstLogins(t *testing.T) {
	const n = 20
	repo := newMemUserRepo()
	r := newTestResolver(repo)

	ids := make([]any, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Resolve(context.Background(), NewProviderUser("naver", map[string]any{
				"response": map[string]any{"email": "race@example.com"},
			}))
			errs[i] = err
			if p != nil {
				ids[i] = p.Attributes[model.AttrID]
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("goroutine %d id = %v, want %v", i, ids[i], ids[0])
		}
	}
	if repo.count() != 1 {
		t.Errorf("stored users = %d, want 1", repo.count())
	}
}

func TestResolve_AdminRoleGrantsAdminAuthority(t *testing.T) {
	repo := newMemUserRepo()
	r := newTestResolver(repo)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, NewProviderUser("google", map[string]any{"email": "admin@b.com"})); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	repo.setRole(model.ProviderGoogle, "admin@b.com", model.RoleAdmin)

	p, err := r.Resolve(ctx, NewProviderUser("google", map[string]any{"email": "admin@b.com"}, "OAUTH2_USER"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !p.HasAuthority("ADMIN") {
		t.Errorf("authorities = %v, want ADMIN", p.Authorities)
	}
	if p.HasAuthority("USER") {
		t.Errorf("authorities = %v, must not contain USER", p.Authorities)
	}
}

func TestResolve_AuthoritiesUnionIsDeduplicated(t *testing.T) {
	r := newTestResolver(newMemUserRepo())

	p, err := r.Resolve(context.Background(),
		NewProviderUser("google", map[string]any{"email": "a@b.com"}, "OAUTH2_USER", "SCOPE_email", "USER", "OAUTH2_USER"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{"OAUTH2_USER", "SCOPE_email", "USER"}
	if len(p.Authorities) != len(want) {
		t.Fatalf("authorities = %v, want %v", p.Authorities, want)
	}
	for i := range want {
		if p.Authorities[i] != want[i] {
			t.Errorf("authorities[%d] = %q, want %q", i, p.Authorities[i], want[i])
		}
	}
}

func TestResolve_StoreErrorsArePropagated(t *testing.T) {
	store := &mockUserStore{
		findOrCreateFn: func(_ context.Context, _ model.Provider, _ string) (*model.User, error) {
			return nil, user.ErrConflictRetryExhausted
		},
	}
	r := NewResolver(store, nil)

	_, err := r.Resolve(context.Background(), NewProviderUser("google", map[string]any{"email": "a@b.com"}))
	if !errors.Is(err, user.ErrConflictRetryExhausted) {
		t.Fatalf("error = %v, want ErrConflictRetryExhausted", err)
	}
}

func TestLookupProvider(t *testing.T) {
	if p, err := LookupProvider("NAVER"); err != nil || p != model.ProviderNaver {
		t.Errorf("LookupProvider(NAVER) = %q, %v", p, err)
	}
	if _, err := LookupProvider("kakao"); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("LookupProvider(kakao) error = %v, want ErrInvalidProvider", err)
	}
}

// 成功以外の結果でも解決時間が1回ずつ記録される
func TestResolve_RecordsLatencyForEveryOutcome(t *testing.T) {
	conflict := &mockUserStore{
		findOrCreateFn: func(_ context.Context, _ model.Provider, _ string) (*model.User, error) {
			return nil, user.ErrConflictRetryExhausted
		},
	}
	ok := &mockUserStore{
		findOrCreateFn: func(_ context.Context, provider model.Provider, email string) (*model.User, error) {
			return &model.User{ID: 1, Email: email, Provider: provider, Role: model.RoleUser}, nil
		},
	}

	tests := []struct {
		name       string
		store      UserStore
		input      *ProviderUser
		wantResult string
	}{
		{"rejected", &mockUserStore{}, NewProviderUser("kakao", map[string]any{"email": "a@b.com"}), metrics.ResultRejected},
		{"malformed", &mockUserStore{}, NewProviderUser("naver", map[string]any{}), metrics.ResultMalformed},
		{"conflict", conflict, NewProviderUser("google", map[string]any{"email": "a@b.com"}), metrics.ResultConflict},
		{"success", ok, NewProviderUser("google", map[string]any{"email": "a@b.com"}), metrics.ResultSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &latencySpy{}
			r := NewResolver(tt.store, spy)

			r.Resolve(context.Background(), tt.input)

			if spy.latencies != 1 {
				t.Errorf("latency observations = %d, want 1", spy.latencies)
			}
			if len(spy.results) != 1 || spy.results[0] != tt.wantResult {
				t.Errorf("login results = %v, want [%s]", spy.results, tt.wantResult)
			}
		})
	}
}

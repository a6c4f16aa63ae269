// Package user はOAuthログインユーザーの永続化ロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/repository"
)

// ErrConflictRetryExhausted は一意制約違反の後の再検索でもユーザーが見つからなかった場合に返される。
var ErrConflictRetryExhausted = errors.New("user conflict retry exhausted")

// Store はproviderとemailをキーにユーザーを検索・作成する。
// 複数のログインリクエストから同時に呼ばれても安全。
type Store struct {
	repo    repository.UserRepository
	metrics metrics.MetricsCollector
}

// NewStore はStoreの新しいインスタンスを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewStore(repo repository.UserRepository, mc metrics.MetricsCollector) *Store {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Store{repo: repo, metrics: mc}
}

// FindByProviderAndEmail は (provider, email) に一致するユーザーを返す。
// 見つからない場合はnil, nilを返す。emailは大文字小文字を区別して比較する。
func (s *Store) FindByProviderAndEmail(ctx context.Context, provider model.Provider, email string) (*model.User, error) {
	u, err := s.repo.FindByProviderAndEmail(ctx, provider, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	return u, nil
}

// FindByID は指定IDのユーザーを返す。見つからない場合はnil, nilを返す。
func (s *Store) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// Create はusername=email、role=USERのユーザーを作成する。
// 同じ (provider, email) が既に存在する場合はrepository.ErrDuplicateUserをラップして返す。
func (s *Store) Create(ctx context.Context, provider model.Provider, email string) (*model.User, error) {
	u, err := s.repo.Create(ctx, model.NewOAuthUser(provider, email))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	s.metrics.RecordUserCreated(provider.Registration())
	slog.Info("新規ユーザーを作成しました",
		slog.Int64("user_id", u.ID),
		slog.String("provider", string(provider)),
	)
	return u, nil
}

// FindOrCreate は (provider, email) のユーザーを返し、存在しなければ作成する。
// 作成が一意制約違反で失敗した場合は一度だけ再検索し、先に作成されたユーザーを返す。
// 再検索でも見つからない場合はErrConflictRetryExhaustedを返す。
func (s *Store) FindOrCreate(ctx context.Context, provider model.Provider, email string) (*model.User, error) {
	existing, err := s.FindByProviderAndEmail(ctx, provider, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	created, err := s.Create(ctx, provider, email)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, repository.ErrDuplicateUser) {
		return nil, err
	}

	s.metrics.RecordConflictRetry(provider.Registration())
	slog.Warn("ユーザー作成が競合したため再検索します",
		slog.String("provider", string(provider)),
	)

	winner, err := s.FindByProviderAndEmail(ctx, provider, email)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("%w: provider=%s", ErrConflictRetryExhausted, provider)
	}
	return winner, nil
}

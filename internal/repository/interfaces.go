// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/socialauth/internal/model"
)

// ErrDuplicateUser は (provider, email) の一意制約に違反した場合に返される。
// 同一キーの初回ログインが同時に走り、別のリクエストが先に作成したことを示す。
var ErrDuplicateUser = errors.New("user already exists for provider and email")

// ErrUnknownUserEnum はusersテーブルに未知のroleまたはproviderが保存されていた場合に返される。
var ErrUnknownUserEnum = errors.New("unknown role or provider in users row")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByProviderAndEmail はproviderとemailでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndEmail(ctx context.Context, provider model.Provider, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// Create はユーザーを作成し、ストアが採番したIDとデフォルト値を反映したユーザーを返す。
	// (provider, email) が既に存在する場合はErrDuplicateUserを返す。
	Create(ctx context.Context, user *model.User) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する（全端末からのログアウト）。
	DeleteByUserID(ctx context.Context, userID int64) error
}

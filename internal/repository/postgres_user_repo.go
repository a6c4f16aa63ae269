package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/socialauth/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, username, email, role, provider, created_at, updated_at`

// FindByProviderAndEmail はproviderとemailでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderAndEmail(ctx context.Context, provider model.Provider, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND email = $2`,
		string(provider), email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider and email: %w", err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// roleが空の場合はスキーマのデフォルト値（USER）を使用する。
// 一意制約 (provider, email) に違反した場合はErrDuplicateUserを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) (*model.User, error) {
	var role sql.NullString
	if user.Role != "" {
		role = sql.NullString{String: string(user.Role), Valid: true}
	}

	created, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, role, provider)
		 VALUES ($1, $2, COALESCE($3::text, 'USER'), $4)
		 RETURNING `+userColumns,
		user.Username, user.Email, role, string(user.Provider),
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateUser, user.Provider, user.Email)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return created, nil
}

// scanUser は1行分のユーザーを読み取る。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var role, provider string
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &role, &provider, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeUserEnums(user, role, provider); err != nil {
		return nil, err
	}
	return user, nil
}

// decodeUserEnums はrole/providerカラムの値をドメインの型に変換する。
// 既知の値以外はPrincipalの権限に流れないようエラーにする。
func decodeUserEnums(user *model.User, role, provider string) error {
	user.Role = model.Role(role)
	user.Provider = model.Provider(provider)
	if !user.Provider.Valid() {
		return fmt.Errorf("%w: provider=%q user_id=%d", ErrUnknownUserEnum, provider, user.ID)
	}
	if !user.Role.Valid() {
		return fmt.Errorf("%w: role=%q user_id=%d", ErrUnknownUserEnum, role, user.ID)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

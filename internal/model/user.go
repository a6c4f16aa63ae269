// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Provider はユーザーがログインに利用した外部IdPを表す。
// usersテーブルのproviderカラムに文字列として保存される。
type Provider string

const (
	ProviderGoogle Provider = "GOOGLE"
	ProviderNaver  Provider = "NAVER"
)

// Registration はIdPの登録名（"google", "naver"）を返す。
// URLパスやOAuthクライアント設定のキーとして使用する。
func (p Provider) Registration() string {
	return strings.ToLower(string(p))
}

// Valid は既知のプロバイダーかどうかを返す。
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderNaver:
		return true
	default:
		return false
	}
}

// Role はユーザーの権限ロールを表す。
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User はサービス利用ユーザーを表す。
// (Provider, Email) の組でユーザーを一意に識別する。
type User struct {
	ID        int64
	Username  string
	Email     string
	Role      Role
	Provider  Provider
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOAuthUser はログイン時に自動作成するユーザーを組み立てる。
// IDとタイムスタンプはストアが採番する。
// usernameはNOT NULL制約を満たすためemailで初期化する。
func NewOAuthUser(provider Provider, email string) *User {
	return &User{
		Username: email,
		Email:    email,
		Role:     RoleUser,
		Provider: provider,
	}
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    int64
	Principal *Principal
	ExpiresAt time.Time
	CreatedAt time.Time
}

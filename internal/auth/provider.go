// Package auth はログイン・セッション・CSRF 検証で変換APIを保護します。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials はユーザー名またはパスワードが一致しない場合のエラーです。
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrNotConfigured は認証情報が設定されていない場合のエラーです。
	ErrNotConfigured = errors.New("auth: credentials are not configured")
)

// Identity はサインイン済みの利用者です。
type Identity struct {
	Username string `json:"username"`
}

// Provider は資格情報を検証してサインインさせる認証基盤です。
type Provider interface {
	SignIn(ctx context.Context, username, password string) (Identity, error)
}

// LocalProvider は環境変数で与えた1アカウントだけを受け付けます。
type LocalProvider struct {
	username     string
	passwordHash []byte
}

// NewLocalProvider は bcrypt ハッシュ済みパスワードで LocalProvider を作ります。
func NewLocalProvider(username, passwordHash string) *LocalProvider {
	return &LocalProvider{username: username, passwordHash: []byte(passwordHash)}
}

// SignIn はユーザー名とパスワードを検証します。
func (p *LocalProvider) SignIn(ctx context.Context, username, password string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if p.username == "" || len(p.passwordHash) == 0 {
		return Identity{}, ErrNotConfigured
	}
	// ユーザー名が違っても bcrypt の比較は行う
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(p.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(p.passwordHash, []byte(password)) == nil
	if !userOK || !passOK {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{Username: p.username}, nil
}

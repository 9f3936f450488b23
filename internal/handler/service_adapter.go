package handler

import (
	"context"

	"github.com/hitoshi/stellarlink/internal/account"
	"github.com/hitoshi/stellarlink/internal/user"
)

// AccountServiceAdapter は account.Registry を AccountServiceInterface に適合させるアダプタ。
type AccountServiceAdapter struct {
	registry *account.Registry
}

// NewAccountServiceAdapter はAccountServiceAdapterを生成する。
func NewAccountServiceAdapter(registry *account.Registry) *AccountServiceAdapter {
	return &AccountServiceAdapter{registry: registry}
}

// Link は公開鍵を連携しhandlerレスポンス型で返す。
func (a *AccountServiceAdapter) Link(ctx context.Context, userID, publicKey string, label *string) (*accountResponse, error) {
	acc, err := a.registry.Link(ctx, userID, publicKey, label)
	if err != nil {
		return nil, err
	}
	resp := toAccountResponse(acc)
	return &resp, nil
}

// List は連携アカウント一覧をhandlerレスポンス型で返す。
func (a *AccountServiceAdapter) List(ctx context.Context, userID string) ([]accountResponse, error) {
	accounts, err := a.registry.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]accountResponse, len(accounts))
	for i, acc := range accounts {
		results[i] = toAccountResponse(acc)
	}
	return results, nil
}

// Get は連携アカウントをhandlerレスポンス型で返す。
func (a *AccountServiceAdapter) Get(ctx context.Context, userID, accountID string) (*accountResponse, error) {
	acc, err := a.registry.Get(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	resp := toAccountResponse(acc)
	return &resp, nil
}

// Relabel はラベルを変更しhandlerレスポンス型で返す。
func (a *AccountServiceAdapter) Relabel(ctx context.Context, userID, accountID, label string) (*accountResponse, error) {
	acc, err := a.registry.Relabel(ctx, userID, accountID, label)
	if err != nil {
		return nil, err
	}
	resp := toAccountResponse(acc)
	return &resp, nil
}

// Unlink は連携を解除する。
func (a *AccountServiceAdapter) Unlink(ctx context.Context, userID, accountID string) error {
	return a.registry.Unlink(ctx, userID, accountID)
}

// SetActive は有効状態を変更しhandlerレスポンス型で返す。
func (a *AccountServiceAdapter) SetActive(ctx context.Context, userID, accountID string, active bool) (*accountResponse, error) {
	acc, err := a.registry.SetActive(ctx, userID, accountID, active)
	if err != nil {
		return nil, err
	}
	resp := toAccountResponse(acc)
	return &resp, nil
}

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// Profile はプロフィールをhandlerレスポンス型で返す。
func (a *UserServiceAdapter) Profile(ctx context.Context, userID string) (*profileResponse, error) {
	p, err := a.svc.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &profileResponse{
		ID:               p.User.ID,
		Email:            p.User.Email,
		PrimaryAccountID: p.PrimaryAccountID,
		CreatedAt:        p.User.CreatedAt,
	}, nil
}

// Withdraw はユーザーの退会処理を実行する。
func (a *UserServiceAdapter) Withdraw(ctx context.Context, userID string) error {
	return a.svc.Withdraw(ctx, userID)
}

var (
	_ AccountServiceInterface = (*AccountServiceAdapter)(nil)
	_ PrimaryServiceInterface = (*account.PrimarySelector)(nil)
	_ UserServiceInterface    = (*UserServiceAdapter)(nil)
)

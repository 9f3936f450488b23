// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/stellarlink/internal/model"
	"github.com/hitoshi/stellarlink/internal/repository"
)

// Profile はユーザー情報とプライマリアカウントのIDを表す。
type Profile struct {
	User *model.User
	// PrimaryAccountID はプライマリ未設定の場合nil
	PrimaryAccountID *string
}

// Service はユーザー管理のサービス層。
// プロフィール参照と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	accountRepo repository.LinkedAccountRepository
	tx          repository.Transactor
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	accountRepo repository.LinkedAccountRepository,
	tx repository.Transactor,
) *Service {
	return &Service{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		tx:          tx,
	}
}

// Profile はユーザー情報とプライマリアカウントのIDを返す。
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	primary, err := s.accountRepo.FindPrimaryByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プライマリアカウントの取得に失敗しました: %w", err)
	}

	p := &Profile{User: user}
	if primary != nil {
		id := primary.ID
		p.PrimaryAccountID = &id
	}
	return p, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: linked_accounts → users。同一トランザクション内で行う。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	var removed int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		ok, err := repos.Users.LockByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーのロックに失敗しました: %w", err)
		}
		if !ok {
			return model.NewUserNotFoundError()
		}

		// 1. 連携アカウントを削除
		removed, err = repos.Accounts.DeleteByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("連携アカウントの削除に失敗しました: %w", err)
		}

		// 2. ユーザーを削除
		deleted, err := repos.Users.DeleteByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
		}
		if !deleted {
			return model.NewUserNotFoundError()
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int64("removed_accounts", removed),
	)
	return nil
}

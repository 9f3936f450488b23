// Package account は外部Stellarアカウントの連携管理とプライマリ選択のドメインロジックを提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/stellarlink/internal/config"
	"github.com/hitoshi/stellarlink/internal/metrics"
	"github.com/hitoshi/stellarlink/internal/model"
	"github.com/hitoshi/stellarlink/internal/repository"
	"github.com/hitoshi/stellarlink/internal/stellar"
)

// 操作名（メトリクスのoperationラベル）
const (
	OpLink       = "link"
	OpRelabel    = "relabel"
	OpUnlink     = "unlink"
	OpSetActive  = "set_active"
	OpSetPrimary = "set_primary"
)

// RegistryConfig は連携ポリシーの設定。
type RegistryConfig struct {
	// LinkLimit は1ユーザーあたりの連携アカウント数の上限。
	LinkLimit int
	// AutoPrimaryOnFirstLink がtrueの場合、最初に連携したアカウントを自動でプライマリにする。
	AutoPrimaryOnFirstLink bool
	// KeyValidation は公開鍵の検証レベル。
	KeyValidation config.KeyValidationMode
}

// RegistryDeps はRegistryの依存関係。
type RegistryDeps struct {
	Tx       repository.Transactor
	Accounts repository.LinkedAccountRepository
	Verifier stellar.AccountVerifier // nilの場合はネットワーク照会を行わない
	Metrics  metrics.MetricsCollector
}

// Registry は連携アカウントを管理する。
// 公開鍵の全体一意性とユーザーごとの連携数上限を保証する。
type Registry struct {
	cfg      RegistryConfig
	tx       repository.Transactor
	accounts repository.LinkedAccountRepository
	verifier stellar.AccountVerifier
	metrics  metrics.MetricsCollector
	now      func() time.Time
	newID    func() string
}

// NewRegistry はRegistryの新しいインスタンスを生成する。
func NewRegistry(cfg RegistryConfig, deps RegistryDeps) *Registry {
	if cfg.KeyValidation == "" {
		cfg.KeyValidation = config.KeyValidationChecksum
	}
	return &Registry{
		cfg:      cfg,
		tx:       deps.Tx,
		accounts: deps.Accounts,
		verifier: deps.Verifier,
		metrics:  deps.Metrics,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Link は公開鍵をユーザーに連携する。
// 検証順序: 鍵の形式、ラベル長、ネットワーク上の存在（設定時）、全体一意性、連携数上限。
// 一意性と上限の検査および作成は、ユーザー行のロックを取ったトランザクション内で行う。
func (r *Registry) Link(ctx context.Context, ownerID, publicKey string, label *string) (account *model.LinkedAccount, err error) {
	defer func() { r.record(OpLink, err) }()

	if verr := stellar.ValidatePublicKey(publicKey, r.cfg.KeyValidation); verr != nil {
		return nil, model.NewInvalidKeyFormatError(verr.Error())
	}

	normalized, err := r.normalizeLabel(label)
	if err != nil {
		return nil, err
	}

	if err := r.verifyOnNetwork(ctx, publicKey); err != nil {
		return nil, err
	}

	err = r.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		ok, err := repos.Users.LockByID(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("ユーザーのロックに失敗しました: %w", err)
		}
		if !ok {
			return model.NewUserNotFoundError()
		}

		exists, err := repos.Accounts.ExistsByPublicKey(ctx, publicKey)
		if err != nil {
			return fmt.Errorf("公開鍵の重複確認に失敗しました: %w", err)
		}
		if exists {
			return model.NewKeyAlreadyLinkedError()
		}

		count, err := repos.Accounts.CountByUserID(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("連携数の取得に失敗しました: %w", err)
		}
		if count >= r.cfg.LinkLimit {
			return model.NewLinkLimitExceededError(r.cfg.LinkLimit)
		}

		now := r.now()
		a := &model.LinkedAccount{
			ID:        r.newID(),
			UserID:    ownerID,
			PublicKey: publicKey,
			Label:     normalized,
			IsActive:  true,
			IsPrimary: r.cfg.AutoPrimaryOnFirstLink && count == 0,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := repos.Accounts.Create(ctx, a); err != nil {
			switch {
			case errors.Is(err, repository.ErrPublicKeyConflict):
				// 存在確認とINSERTの間に他のユーザーが同じ鍵を連携した
				return model.NewKeyAlreadyLinkedError()
			case errors.Is(err, repository.ErrOwnerMissing):
				return model.NewUserNotFoundError()
			}
			return fmt.Errorf("連携アカウントの作成に失敗しました: %w", err)
		}

		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("account linked",
		slog.String("user_id", ownerID),
		slog.String("account_id", account.ID),
		slog.String("public_key", account.PublicKey),
		slog.Bool("is_primary", account.IsPrimary),
	)
	return account, nil
}

// List はユーザーの連携アカウントを作成日時の昇順で返す。
func (r *Registry) List(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error) {
	accounts, err := r.accounts.ListByUserID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("連携アカウント一覧の取得に失敗しました: %w", err)
	}
	return accounts, nil
}

// Get はユーザーの連携アカウントを1件返す。
// 存在しない場合と他ユーザーの所有である場合はどちらもACCOUNT_NOT_FOUNDとする。
func (r *Registry) Get(ctx context.Context, ownerID, accountID string) (*model.LinkedAccount, error) {
	id, ok := parseID(accountID)
	if !ok {
		return nil, model.NewAccountNotFoundError(accountID)
	}

	a, err := r.accounts.FindByIDAndUserID(ctx, id, ownerID, false)
	if err != nil {
		return nil, fmt.Errorf("連携アカウントの取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	return a, nil
}

// Relabel はラベルを変更する。空文字列はラベルの削除として扱う。
// 有効状態とプライマリ指定は変更しない。
func (r *Registry) Relabel(ctx context.Context, ownerID, accountID, label string) (account *model.LinkedAccount, err error) {
	defer func() { r.record(OpRelabel, err) }()

	id, ok := parseID(accountID)
	if !ok {
		return nil, model.NewAccountNotFoundError(accountID)
	}

	normalized, err := r.normalizeLabel(&label)
	if err != nil {
		return nil, err
	}

	a, err := r.accounts.UpdateLabel(ctx, id, ownerID, normalized, r.now())
	if err != nil {
		return nil, fmt.Errorf("ラベルの更新に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	return a, nil
}

// Unlink は連携を解除する。
// プライマリを解除した場合、別のアカウントを自動でプライマリにはしない。
func (r *Registry) Unlink(ctx context.Context, ownerID, accountID string) (err error) {
	defer func() { r.record(OpUnlink, err) }()

	id, ok := parseID(accountID)
	if !ok {
		return model.NewAccountNotFoundError(accountID)
	}

	deleted, err := r.accounts.DeleteByIDAndUserID(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("連携アカウントの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewAccountNotFoundError(accountID)
	}

	slog.Info("account unlinked",
		slog.String("user_id", ownerID),
		slog.String("account_id", id),
	)
	return nil
}

// SetActive は有効状態を変更する。
// 無効化するとプライマリ指定も解除される。再度有効化してもプライマリには戻らない。
func (r *Registry) SetActive(ctx context.Context, ownerID, accountID string, active bool) (account *model.LinkedAccount, err error) {
	defer func() { r.record(OpSetActive, err) }()

	id, ok := parseID(accountID)
	if !ok {
		return nil, model.NewAccountNotFoundError(accountID)
	}

	a, err := r.accounts.UpdateActive(ctx, id, ownerID, active, r.now())
	if err != nil {
		return nil, fmt.Errorf("有効状態の更新に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	return a, nil
}

// normalizeLabel はラベルの長さを検証する。空文字列はラベルなし（nil）として扱う。
// ラベルはプレーンテキストとして入力どおりに保存し、書き換えない。
// 表示時のエスケープは出力側（JSONエンコーダ）が行う。
func (r *Registry) normalizeLabel(label *string) (*string, error) {
	if label == nil {
		return nil, nil
	}
	s := *label
	if utf8.RuneCountInString(s) > model.MaxLabelLength {
		return nil, model.NewLabelTooLongError(model.MaxLabelLength)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// verifyOnNetwork はHorizonでアカウントの存在を確認する。
// トランザクションを開く前に呼び出し、DBロックを外部通信の間保持しない。
func (r *Registry) verifyOnNetwork(ctx context.Context, publicKey string) error {
	if r.verifier == nil {
		return nil
	}

	start := time.Now()
	err := r.verifier.VerifyAccount(ctx, publicKey)
	if r.metrics != nil {
		r.metrics.RecordVerificationLatency(time.Since(start))
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, stellar.ErrAccountNotFound):
		return model.NewAccountNotOnNetworkError(publicKey)
	default:
		slog.Warn("horizon verification failed",
			slog.String("public_key", publicKey),
			slog.String("error", err.Error()),
		)
		return model.NewNetworkVerificationFailedError(err.Error())
	}
}

func (r *Registry) record(operation string, err error) {
	if r.metrics != nil {
		r.metrics.RecordOperation(operation, resultLabel(err))
	}
}

// resultLabel はメトリクスのresultラベル値を返す。
func resultLabel(err error) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if errors.Is(err, model.ErrStorageUnavailable) {
		return model.ErrCodeStorageUnavailable
	}
	return model.ErrCodeInternal
}

// parseID はIDをUUIDとして解釈し、正規形の文字列を返す。
// 不正な形式のIDはストレージに問い合わせずに「見つからない」として扱う。
func parseID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

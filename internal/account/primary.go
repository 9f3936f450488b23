package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/stellarlink/internal/metrics"
	"github.com/hitoshi/stellarlink/internal/model"
	"github.com/hitoshi/stellarlink/internal/repository"
)

// PrimarySelector はユーザーのプライマリアカウントを選択する。
// ユーザーごとのプライマリは常に0件または1件に保たれる。
type PrimarySelector struct {
	tx      repository.Transactor
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewPrimarySelector はPrimarySelectorの新しいインスタンスを生成する。
// mcはnilでもよい。
func NewPrimarySelector(tx repository.Transactor, mc metrics.MetricsCollector) *PrimarySelector {
	return &PrimarySelector{
		tx:      tx,
		metrics: mc,
		now:     time.Now,
	}
}

// SetPrimary は指定アカウントをユーザーのプライマリにする。
// 既存のプライマリの解除と新しいプライマリの設定は同一トランザクションで行う。
// 既にプライマリであれば何もせず成功する。
func (p *PrimarySelector) SetPrimary(ctx context.Context, ownerID, accountID string) (err error) {
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordOperation(OpSetPrimary, resultLabel(err))
		}
	}()

	id, ok := parseID(accountID)
	if !ok {
		return model.NewAccountNotFoundError(accountID)
	}

	changed := false
	err = p.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		// 同一ユーザーのプライマリ変更を直列化する
		ok, err := repos.Users.LockByID(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("ユーザーのロックに失敗しました: %w", err)
		}
		if !ok {
			return model.NewAccountNotFoundError(accountID)
		}

		// 所有確認はRegistry.Getを使わず、更新と同じトランザクション内で行を固定して行う
		target, err := repos.Accounts.FindByIDAndUserID(ctx, id, ownerID, true)
		if err != nil {
			return fmt.Errorf("連携アカウントの取得に失敗しました: %w", err)
		}
		if target == nil {
			return model.NewAccountNotFoundError(accountID)
		}
		if !target.IsActive {
			return model.NewAccountInactiveError(accountID)
		}
		if target.IsPrimary {
			return nil
		}

		now := p.now()
		if err := repos.Accounts.ClearPrimary(ctx, ownerID, now); err != nil {
			return fmt.Errorf("プライマリの解除に失敗しました: %w", err)
		}
		if err := repos.Accounts.MarkPrimary(ctx, id, ownerID, now); err != nil {
			return fmt.Errorf("プライマリの設定に失敗しました: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		slog.Info("primary account changed",
			slog.String("user_id", ownerID),
			slog.String("account_id", id),
		)
	}
	return nil
}
